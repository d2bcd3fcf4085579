package xbreaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/xfunnel/pkg/observability/xlog"
	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
)

// Breaker 熔断器执行器
type Breaker struct {
	name          string
	tripPolicy    TripPolicy
	timeout       time.Duration
	interval      time.Duration
	maxRequests   uint32
	logger        xlog.Logger
	onStateChange func(name string, from, to State)

	cb *gobreaker.CircuitBreaker[any]
}

// Option 熔断器配置选项
type Option func(*Breaker)

// WithTripPolicy 设置熔断判定策略
//
// 默认策略：连续失败 5 次触发熔断
func WithTripPolicy(p TripPolicy) Option {
	return func(b *Breaker) {
		if p != nil {
			b.tripPolicy = p
		}
	}
}

// WithTimeout 设置熔断器从 Open 状态恢复到 HalfOpen 状态的超时时间
//
// 默认值：30 秒
func WithTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithInterval 设置 Closed 状态下清除统计计数的周期
//
// 默认值：0（不清除，持续累积）
func WithInterval(d time.Duration) Option {
	return func(b *Breaker) {
		if d >= 0 {
			b.interval = d
		}
	}
}

// WithMaxRequests 设置 HalfOpen 状态下允许通过的最大请求数
//
// 默认值：1
func WithMaxRequests(n uint32) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.maxRequests = n
		}
	}
}

// WithLogger 设置日志记录器，状态变化以 warn 级别记录
func WithLogger(l xlog.Logger) Option {
	return func(b *Breaker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithOnStateChange 设置状态变化回调
func WithOnStateChange(f func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onStateChange = f
	}
}

// New 创建熔断器
//
// 默认配置：
//   - 熔断策略：连续失败 5 次触发熔断
//   - 超时时间：30 秒
//   - HalfOpen 最大请求数：1
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:        name,
		tripPolicy:  NewConsecutiveFailures(5),
		timeout:     30 * time.Second,
		maxRequests: 1,
		logger:      xlog.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.logger = b.logger.With(xlog.Component("xbreaker"), slog.String("breaker", name))
	b.cb = gobreaker.NewCircuitBreaker[any](b.settings())
	return b
}

func (b *Breaker) settings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        b.name,
		MaxRequests: b.maxRequests,
		Interval:    b.interval,
		Timeout:     b.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return b.tripPolicy.ReadyToTrip(counts)
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn(context.Background(), "breaker state changed",
				slog.String("from", from.String()), slog.String("to", to.String()))
			if b.onStateChange != nil {
				b.onStateChange(name, from, to)
			}
		},
	}
}

// isSuccessful 校验故障与调用方取消不说明远端不健康，不计为失败
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if xfault.IsKind(err, xfault.KindValidation) {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// Do 执行受熔断器保护的操作
//
// context 已结束时直接返回 context 错误，不计入统计。
// 熔断器错误会被包装为 BreakerError。
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if b == nil {
		return ErrNilBreaker
	}
	if fn == nil {
		return ErrNilFunc
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	return wrapBreakerError(err, b.name)
}

// Execute 执行受熔断器保护的操作（泛型版本）
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if b == nil {
		return zero, ErrNilBreaker
	}
	if fn == nil {
		return zero, ErrNilFunc
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	result, err := b.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, wrapBreakerError(err, b.name)
	}
	if typed, ok := result.(T); ok {
		return typed, nil
	}
	return zero, nil
}

// State 返回熔断器当前状态
func (b *Breaker) State() State {
	return b.cb.State()
}

// Name 返回熔断器名称
func (b *Breaker) Name() string {
	return b.name
}

// Counts 返回当前统计计数
func (b *Breaker) Counts() Counts {
	return b.cb.Counts()
}
