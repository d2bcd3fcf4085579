package xmetrics

import (
	"context"
	"time"
)

// Status 表示跨度结束时的结果状态。
type Status string

const (
	// StatusOK 表示成功。
	StatusOK Status = "ok"
	// StatusError 表示失败。
	StatusError Status = "error"
)

// Attr 表示跨度属性。
type Attr struct {
	Key   string
	Value any
}

// String 创建字符串属性。
func String(key, value string) Attr {
	return Attr{Key: key, Value: value}
}

// Bool 创建布尔属性。
func Bool(key string, value bool) Attr {
	return Attr{Key: key, Value: value}
}

// Int 创建整数属性。
func Int(key string, value int) Attr {
	return Attr{Key: key, Value: value}
}

// Duration 创建时间间隔属性，以毫秒记录。
func Duration(key string, value time.Duration) Attr {
	return Attr{Key: key, Value: value}
}

// SpanOptions 定义跨度的创建参数。
type SpanOptions struct {
	// Component 组件名称，如 "xretry"
	Component string
	// Operation 操作名称，同时作为跨度名
	Operation string
	// Attrs 附加属性
	Attrs []Attr
}

// Result 表示跨度结束时的结果。
type Result struct {
	// Status 为空时根据 Err 推导
	Status Status
	Err    error
	Attrs  []Attr
}

// Span 表示一次观测跨度。
type Span interface {
	// End 结束跨度并记录结果，多次调用只生效一次。
	End(result Result)
}

// Observer 定义追踪接口。重试会话、单次尝试与限时执行各自开启跨度。
type Observer interface {
	Start(ctx context.Context, opts SpanOptions) (context.Context, Span)
}

// NoopObserver 是空实现。
type NoopObserver struct{}

// Start 返回 ctx 和空跨度。
func (NoopObserver) Start(ctx context.Context, _ SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, NoopSpan{}
}

// NoopSpan 是空跨度。
type NoopSpan struct{}

// End 空实现。
func (NoopSpan) End(Result) {}

// Start 使用 observer 开始跨度，保证返回非 nil 的 ctx 和 Span。
func Start(ctx context.Context, observer Observer, opts SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if observer == nil {
		return ctx, NoopSpan{}
	}
	retCtx, span := observer.Start(ctx, opts)
	if retCtx == nil {
		retCtx = ctx
	}
	if span == nil {
		span = NoopSpan{}
	}
	return retCtx, span
}

// ObserverOrNoop 在 o 为 nil 时返回 NoopObserver。
func ObserverOrNoop(o Observer) Observer {
	if o == nil {
		return NoopObserver{}
	}
	return o
}
