package storageopt

import (
	"context"
	"time"
)

// 健康检查相关常量。
const (
	// DefaultHealthTimeout 默认健康检查超时时间。
	DefaultHealthTimeout = 5 * time.Second
)

// HealthContext 创建带健康检查超时的 context。
// 如果 timeout <= 0，返回原始 context 和空的 cancel 函数。
// nil ctx 归一化为 context.Background()。
func HealthContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
