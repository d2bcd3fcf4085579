package xretry

import (
	"context"
	"fmt"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/omeyang/xfunnel/pkg/observability/xlog"
	"github.com/omeyang/xfunnel/pkg/observability/xmetrics"
	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
)

// Orchestrator 重试编排器。
//
// 一个编排器对应一个调用点（如数据库写入、语言模型调用），与一个 xfault.Guard 配对。
// 同一编排器上的重试序列严格串行：进行中的序列存在时再次 Run 返回 ErrBusy。
//
// 加锁约定：持有 mu 时不调用 Guard 的任何方法。
type Orchestrator struct {
	guard    *xfault.Guard
	policy   Policy
	clock    clockwork.Clock
	logger   xlog.Logger
	recorder xmetrics.Recorder
	observer xmetrics.Observer
	name     string

	mu         sync.Mutex
	session    Session
	running    bool
	canceled   bool
	waitCancel context.CancelFunc
	auto       *autoRetry
	closed     bool
}

// New 创建编排器
func New(guard *xfault.Guard, policy Policy, opts ...Option) (*Orchestrator, error) {
	if guard == nil {
		return nil, ErrNilGuard
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		guard:    guard,
		policy:   policy,
		clock:    guard.Clock(),
		logger:   xlog.Discard(),
		recorder: xmetrics.NoopRecorder{},
		observer: xmetrics.NoopObserver{},
		name:     "default",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.logger = o.logger.With(xlog.Component("xretry"), xlog.Site(o.name))
	o.session = Session{MaxAttempts: policy.MaxAttempts}
	return o, nil
}

// Policy 返回编排器使用的策略
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// Guard 返回配对的故障状态持有者
func (o *Orchestrator) Guard() *xfault.Guard {
	return o.guard
}

// Session 返回当前会话快照
func (o *Orchestrator) Session() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Run 执行 op，失败时按策略退避重试。
//
// 每次失败都通过 Guard.RecordAttempt 记录，Guard.CanRetryWithin 决定是否继续。
// 成功时清除 Guard 并重置会话。op 收到的 ctx 派生自调用方 ctx 并携带本次尝试的 span，
// Cancel 不会中断进行中的尝试。
func (o *Orchestrator) Run(ctx context.Context, op func(ctx context.Context) error) error {
	if op == nil {
		return ErrNilFunc
	}
	_, err := RunWithResult(ctx, o, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RunWithResult Run 的泛型版本
func RunWithResult[T any](ctx context.Context, o *Orchestrator, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if o == nil {
		return zero, ErrNilOrchestrator
	}
	if ctx == nil {
		return zero, ErrNilContext
	}
	if fn == nil {
		return zero, ErrNilFunc
	}

	waitCtx, err := o.begin(ctx)
	if err != nil {
		return zero, err
	}
	sessionCtx, session := xmetrics.Start(ctx, o.observer, xmetrics.SpanOptions{
		Component: "xretry",
		Operation: "xretry.session",
		Attrs: []xmetrics.Attr{
			xmetrics.String("site", o.name),
			xmetrics.Int("max_attempts", o.policy.MaxAttempts),
		},
	})

	var lastErr error
	var attempts int
	val, retryErr := retry.NewWithData[T](o.buildOptions(waitCtx)...).Do(func() (T, error) {
		o.startAttempt()
		n := attempts
		attempts++
		attemptCtx, span := xmetrics.Start(sessionCtx, o.observer, xmetrics.SpanOptions{
			Component: "xretry",
			Operation: "xretry.attempt",
			Attrs:     []xmetrics.Attr{xmetrics.String("site", o.name), xmetrics.Int("attempt", n)},
		})
		v, err := fn(attemptCtx)
		span.End(xmetrics.Result{Err: err})
		if err != nil {
			lastErr = err
			rec := o.guard.RecordAttempt(ctx, err)
			o.syncAttempt(rec.AttemptIndex)
			return v, err
		}
		return v, nil
	})
	if retryErr == nil {
		o.succeed(ctx)
		session.End(xmetrics.Result{Attrs: []xmetrics.Attr{xmetrics.Int("attempts", attempts)}})
		return val, nil
	}
	if lastErr == nil {
		// 首次尝试之前 ctx 已结束
		lastErr = retryErr
	}
	err = o.fail(ctx, lastErr)
	session.End(xmetrics.Result{Err: err, Attrs: []xmetrics.Attr{xmetrics.Int("attempts", attempts)}})
	return zero, err
}

// buildOptions 构建 retry-go 的选项。
// waitCtx 只控制退避等待，Cancel 通过取消它中止序列。
func (o *Orchestrator) buildOptions(waitCtx context.Context) []retry.Option {
	return []retry.Option{
		retry.Context(waitCtx),
		retry.Attempts(safeIntToUint(o.policy.MaxAttempts)),
		retry.WithTimer(o.clock),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if waitCtx.Err() != nil {
				return false
			}
			if !IsRecoverable(err) || !IsRetryable(err) {
				return false
			}
			return o.guard.CanRetryWithin(o.policy.MaxAttempts)
		}),
		retry.DelayType(func(n uint, _ error, _ retry.DelayContext) time.Duration {
			// retry-go 的 n 从 1 开始，第一次退避对应 Delay(0)
			d := o.policy.Delay(safeUintToInt(n) - 1)
			o.scheduled(waitCtx, d)
			return d
		}),
	}
}

func (o *Orchestrator) begin(ctx context.Context) (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if o.running || (o.auto != nil && o.auto.inFlight) {
		return nil, ErrBusy
	}
	// 显式 Run 接管待触发的自动重试
	if o.auto != nil && o.auto.pending {
		o.auto.cancelPendingLocked()
	}
	waitCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.canceled = false
	o.waitCancel = cancel
	o.session.ID = uuid.NewString()
	o.session.State = StateIdle
	o.session.Waiting = false
	o.session.NextFireAt = time.Time{}
	return waitCtx, nil
}

func (o *Orchestrator) startAttempt() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.State = StateAttempting
	o.session.Waiting = false
	o.session.NextFireAt = time.Time{}
	o.session.TotalAttempts++
}

func (o *Orchestrator) syncAttempt(attempt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.Attempt = attempt
}

func (o *Orchestrator) scheduled(ctx context.Context, d time.Duration) {
	o.mu.Lock()
	o.session.State = StateWaiting
	o.session.Waiting = true
	o.session.NextFireAt = o.clock.Now().Add(d)
	attempt := o.session.Attempt
	id := o.session.ID
	o.mu.Unlock()

	o.recorder.Attempt(ctx, o.name, xmetrics.OutcomeRetry)
	o.recorder.Delay(ctx, o.name, d)
	o.logger.Debug(ctx, "retry scheduled",
		xlog.Session(id), xlog.Attempt(attempt), xlog.Duration(d))
}

func (o *Orchestrator) succeed(ctx context.Context) {
	o.mu.Lock()
	retried := o.session.Attempt
	id := o.session.ID
	o.session.Attempt = 0
	o.session.State = StateSucceeded
	o.session.Waiting = false
	o.session.NextFireAt = time.Time{}
	o.session.Succeeded++
	o.finishLocked()
	o.mu.Unlock()

	o.guard.Clear()
	o.recorder.Attempt(ctx, o.name, xmetrics.OutcomeSuccess)
	if retried > 0 {
		o.logger.Info(ctx, "operation succeeded after retries",
			xlog.Session(id), xlog.Attempt(retried))
	}
}

func (o *Orchestrator) fail(ctx context.Context, lastErr error) error {
	o.mu.Lock()
	canceled := o.canceled
	id := o.session.ID
	attempt := o.session.Attempt
	o.session.Waiting = false
	o.session.NextFireAt = time.Time{}
	if canceled || ctx.Err() != nil {
		o.session.State = StateIdle
	} else {
		o.session.State = StateExhausted
	}
	o.finishLocked()
	o.mu.Unlock()

	switch {
	case canceled:
		o.recorder.Attempt(ctx, o.name, xmetrics.OutcomeCanceled)
		o.logger.Debug(ctx, "retry canceled", xlog.Session(id), xlog.Attempt(attempt))
		return fmt.Errorf("%w: %w", ErrCanceled, lastErr)
	case ctx.Err() != nil:
		o.recorder.Attempt(ctx, o.name, xmetrics.OutcomeCanceled)
		return ctx.Err()
	default:
		o.recorder.Attempt(ctx, o.name, xmetrics.OutcomeExhausted)
		o.logger.Warn(ctx, "retry exhausted",
			xlog.Session(id), xlog.Attempt(attempt), xlog.Err(lastErr))
		return lastErr
	}
}

func (o *Orchestrator) finishLocked() {
	if o.waitCancel != nil {
		o.waitCancel()
		o.waitCancel = nil
	}
	o.running = false
}

// Cancel 取消待触发的重试，保留 Attempt 计数。
// 无法中断进行中的尝试；该尝试结束后序列以 ErrCanceled 终止（成功则正常返回）。
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked()
}

func (o *Orchestrator) cancelLocked() {
	if o.running && o.waitCancel != nil {
		o.canceled = true
		o.waitCancel()
	}
	if o.auto != nil && o.auto.pending {
		o.auto.cancelPendingLocked()
	}
	o.session.Waiting = false
	o.session.NextFireAt = time.Time{}
	if o.session.State == StateWaiting {
		o.session.State = StateIdle
	}
}

// Reset 取消待触发的重试并清空会话（含 TotalAttempts）。
// 与 Guard.Clear 相互独立，开始新的逻辑操作时两者都应调用。
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked()
	o.session = Session{MaxAttempts: o.policy.MaxAttempts}
}

// Close 取消待触发的重试并停止自动重试，之后 Run 返回 ErrClosed。幂等。
// Guard 由调用方负责关闭。
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.cancelLocked()
	a := o.auto
	o.mu.Unlock()

	if a != nil {
		o.stopAuto(a)
	}
}
