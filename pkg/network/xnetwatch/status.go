package xnetwatch

import (
	"fmt"
	"strings"
	"time"
)

// Quality 连接质量提示
type Quality string

const (
	// QualityUnknown 平台不提供质量信息
	QualityUnknown Quality = ""
	// QualitySlow 慢速连接
	QualitySlow Quality = "slow"
	// QualityNormal 正常连接
	QualityNormal Quality = "normal"
)

// ParseQuality 解析质量提示，空串为 QualityUnknown
func ParseQuality(s string) (Quality, error) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case QualityUnknown, QualitySlow, QualityNormal:
		return q, nil
	default:
		return QualityUnknown, fmt.Errorf("%w: %q", ErrInvalidQuality, s)
	}
}

// Status 网络状态快照
type Status struct {
	Online       bool
	Quality      Quality
	LastChangeAt time.Time
}
