package xfault

import (
	"fmt"
	"strings"
)

// Kind 故障分类，驱动 UI 展示与重试策略
type Kind int

const (
	// KindUnknown 未知故障（默认分类），按策略重试
	KindUnknown Kind = iota
	// KindNetwork 网络故障（连接失败、离线）
	KindNetwork
	// KindRateLimited 远端限流，窗口期内不重试
	KindRateLimited
	// KindValidation 输入校验失败，需要新输入，不重试
	KindValidation
	// KindTimeout 操作超时
	KindTimeout
	// KindRemoteAPI 远端服务返回的错误
	KindRemoteAPI
)

var kindNames = [...]string{
	KindUnknown:     "unknown",
	KindNetwork:     "network",
	KindRateLimited: "rate_limited",
	KindValidation:  "validation",
	KindTimeout:     "timeout",
	KindRemoteAPI:   "remote_api",
}

// String 返回分类的稳定字符串表示，用于日志与指标维度
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText 实现 encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(data []byte) error {
	parsed, err := ParseKind(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind 解析分类名（大小写不敏感，允许 "-" 代替 "_"）
func ParseKind(s string) (Kind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range kindNames {
		if name == normalized {
			return Kind(i), nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Retriable 报告该分类在原则上是否允许重试。
// 限流需额外检查窗口，见 Guard.CanRetry。
func (k Kind) Retriable() bool {
	return k != KindValidation
}
