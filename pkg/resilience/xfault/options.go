package xfault

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/omeyang/xfunnel/pkg/observability/xlog"
	"github.com/omeyang/xfunnel/pkg/observability/xmetrics"
)

const (
	// DefaultValidationTTL 校验故障的自动清除时间
	DefaultValidationTTL = 5 * time.Second

	// DefaultMaxAttempts CanRetry 使用的默认最大重试次数
	DefaultMaxAttempts = 3

	defaultMessage = "an unexpected error occurred"
)

// Option Guard 配置选项
type Option func(*Guard)

// WithClock 注入时钟（测试使用 clockwork.NewFakeClock）
func WithClock(c clockwork.Clock) Option {
	return func(g *Guard) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(l xlog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithRecorder 设置指标记录器
func WithRecorder(r xmetrics.Recorder) Option {
	return func(g *Guard) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithObserver 设置追踪器，RunWithTimeout 为每次执行开启跨度
func WithObserver(o xmetrics.Observer) Option {
	return func(g *Guard) {
		if o != nil {
			g.observer = o
		}
	}
}

// WithClassifier 设置分类器，覆盖 WithNetwork 的效果
func WithClassifier(c Classifier) Option {
	return func(g *Guard) {
		if c != nil {
			g.classifier = c
		}
	}
}

// WithNetwork 使用带离线感知的默认分类器
func WithNetwork(n Connectivity) Option {
	return func(g *Guard) {
		if n != nil {
			g.classifier = DefaultClassifier{Network: n}
		}
	}
}

// WithMaxAttempts 设置 CanRetry 的重试上限，小于 1 时忽略
func WithMaxAttempts(n int) Option {
	return func(g *Guard) {
		if n >= 1 {
			g.maxAttempts = n
		}
	}
}

// WithValidationTTL 设置校验故障的自动清除时间，0 表示不自动清除
func WithValidationTTL(d time.Duration) Option {
	return func(g *Guard) {
		if d >= 0 {
			g.validationTTL = d
		}
	}
}

// WithName 设置 Guard 名称（出现在日志中）
func WithName(name string) Option {
	return func(g *Guard) {
		if name != "" {
			g.name = name
		}
	}
}

// FailureOption RecordFailure 的可选参数
type FailureOption func(*failureOptions)

type failureOptions struct {
	kind    Kind
	hasKind bool
	message string
}

// WithKind 显式指定分类，跳过分类器
func WithKind(k Kind) FailureOption {
	return func(o *failureOptions) {
		o.kind = k
		o.hasKind = true
	}
}

// WithMessage 显式指定面向用户的消息
func WithMessage(msg string) FailureOption {
	return func(o *failureOptions) {
		o.message = msg
	}
}
