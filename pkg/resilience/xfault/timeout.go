package xfault

import (
	"context"
	"fmt"
	"time"

	"github.com/omeyang/xfunnel/pkg/observability/xmetrics"
)

// RunWithTimeout 以时限执行 op。
//
// 超时后记录 Timeout 故障并返回包装 ErrTimeout 的 *Error，
// 同时取消传给 op 的 context，迟到的结果被丢弃。
// op 在时限内返回的错误原样传递，不记录。timeout <= 0 表示不限时。
func (g *Guard) RunWithTimeout(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if op == nil {
		return ErrNilFunc
	}
	_, err := RunWithTimeoutResult(ctx, g, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RunWithTimeoutResult RunWithTimeout 的泛型版本
func RunWithTimeoutResult[T any](ctx context.Context, g *Guard, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if g == nil {
		return zero, ErrNilGuard
	}
	if op == nil {
		return zero, ErrNilFunc
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := xmetrics.Start(ctx, g.observer, xmetrics.SpanOptions{
		Component: "xfault",
		Operation: "xfault.run_with_timeout",
		Attrs:     []xmetrics.Attr{xmetrics.String("guard", g.name), xmetrics.Duration("timeout_ms", timeout)},
	})
	if timeout <= 0 {
		v, err := op(ctx)
		span.End(xmetrics.Result{Err: err})
		return v, err
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("xfault: operation panicked: %v", r)}
			}
		}()
		v, err := op(opCtx)
		done <- result{val: v, err: err}
	}()

	timer := g.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		span.End(xmetrics.Result{Err: r.err})
		return r.val, r.err
	case <-timer.Chan():
		cancel()
		fe := &Error{
			Kind:    KindTimeout,
			Code:    CodeTimeout,
			Message: fmt.Sprintf("operation timed out after %s", timeout),
			Err:     ErrTimeout,
		}
		g.RecordFailure(ctx, fe, WithKind(KindTimeout))
		span.End(xmetrics.Result{Err: fe, Attrs: []xmetrics.Attr{xmetrics.Bool("timed_out", true)}})
		return zero, fe
	case <-ctx.Done():
		span.End(xmetrics.Result{Err: ctx.Err()})
		return zero, ctx.Err()
	}
}
