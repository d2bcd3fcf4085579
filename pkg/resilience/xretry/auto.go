package xretry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/omeyang/xfunnel/pkg/observability/xlog"
	"github.com/omeyang/xfunnel/pkg/observability/xmetrics"
	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
)

// autoRetry 自动重试的运行状态，字段由 Orchestrator.mu 保护
type autoRetry struct {
	ctx         context.Context
	op          func(ctx context.Context) error
	unsubscribe func()
	timer       clockwork.Timer
	gen         uint64
	pending     bool
	inFlight    bool
	stopped     bool
	done        chan struct{}
}

func (a *autoRetry) cancelPendingLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.pending = false
	a.gen++
}

// EnableAutoRetry 开启自动重试：Guard 记录到新故障时，无需调用方再次 Run，
// 编排器按策略延迟后自行调用 op，同样受 Guard.CanRetryWithin 约束。
//
// 触发条件：
//   - EventFailure
//   - EventRateLimitLifted 且当前仍有故障记录
//
// 已有待触发或进行中的尝试、或 Run 正在执行时不会重复安排。
// 返回的 stop 停止自动重试（幂等）；ctx 结束或 Close 同样会停止。
// 再次调用 EnableAutoRetry 会替换之前的设置。
func (o *Orchestrator) EnableAutoRetry(ctx context.Context, op func(ctx context.Context) error) (stop func()) {
	if op == nil {
		return func() {}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a := &autoRetry{ctx: ctx, op: op, done: make(chan struct{})}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return func() {}
	}
	prev := o.auto
	o.mu.Unlock()
	if prev != nil {
		o.stopAuto(prev)
	}

	unsubscribe := o.guard.Subscribe(func(ev xfault.Event) {
		o.onGuardEvent(a, ev)
	})

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		unsubscribe()
		return func() {}
	}
	a.unsubscribe = unsubscribe
	o.auto = a
	o.mu.Unlock()

	var once sync.Once
	stop = func() {
		once.Do(func() { o.stopAuto(a) })
	}
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				stop()
			case <-a.done:
			}
		}()
	}
	return stop
}

func (o *Orchestrator) stopAuto(a *autoRetry) {
	o.mu.Lock()
	if a.stopped {
		o.mu.Unlock()
		return
	}
	a.stopped = true
	a.cancelPendingLocked()
	if o.auto == a {
		o.auto = nil
		if o.session.State == StateWaiting && !o.running {
			o.session.State = StateIdle
			o.session.Waiting = false
			o.session.NextFireAt = time.Time{}
		}
	}
	unsubscribe := a.unsubscribe
	close(a.done)
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (o *Orchestrator) onGuardEvent(a *autoRetry, ev xfault.Event) {
	switch ev.Type {
	case xfault.EventFailure:
	case xfault.EventRateLimitLifted:
		if !ev.Record.HasFailure {
			return
		}
	default:
		return
	}
	if cause := ev.Record.Cause; cause != nil && (!IsRecoverable(cause) || !IsRetryable(cause)) {
		return
	}
	o.scheduleAuto(a, ev.Record.AttemptIndex)
}

// scheduleAuto 在允许时安排下一次自动尝试
func (o *Orchestrator) scheduleAuto(a *autoRetry, attempt int) {
	if !o.guard.CanRetryWithin(o.policy.MaxAttempts) {
		return
	}
	d := o.policy.Delay(attempt)

	o.mu.Lock()
	if o.closed || o.auto != a || a.stopped || a.pending || a.inFlight || o.running {
		o.mu.Unlock()
		return
	}
	a.gen++
	gen := a.gen
	a.pending = true
	if o.session.ID == "" || o.session.State != StateAttempting {
		o.session.ID = uuid.NewString()
	}
	o.session.State = StateWaiting
	o.session.Waiting = true
	o.session.NextFireAt = o.clock.Now().Add(d)
	id := o.session.ID
	a.timer = o.clock.AfterFunc(d, func() {
		o.fireAuto(a, gen)
	})
	o.mu.Unlock()

	o.recorder.Attempt(a.ctx, o.name, xmetrics.OutcomeRetry)
	o.recorder.Delay(a.ctx, o.name, d)
	o.logger.Debug(a.ctx, "auto retry scheduled",
		xlog.Session(id), xlog.Attempt(attempt), xlog.Duration(d))
}

func (o *Orchestrator) fireAuto(a *autoRetry, gen uint64) {
	o.mu.Lock()
	if o.closed || o.auto != a || a.stopped || gen != a.gen || !a.pending {
		o.mu.Unlock()
		return
	}
	a.pending = false
	a.timer = nil
	a.inFlight = true
	o.session.State = StateAttempting
	o.session.Waiting = false
	o.session.NextFireAt = time.Time{}
	o.session.TotalAttempts++
	ctx, op := a.ctx, a.op
	attempt := o.session.Attempt
	o.mu.Unlock()

	attemptCtx, span := xmetrics.Start(ctx, o.observer, xmetrics.SpanOptions{
		Component: "xretry",
		Operation: "xretry.auto_attempt",
		Attrs:     []xmetrics.Attr{xmetrics.String("site", o.name), xmetrics.Int("attempt", attempt)},
	})
	err := safeRun(attemptCtx, op)
	span.End(xmetrics.Result{Err: err})

	// 先释放 inFlight，RecordAttempt 触发的事件才能安排下一次尝试
	o.mu.Lock()
	a.inFlight = false
	o.mu.Unlock()

	if err == nil {
		o.mu.Lock()
		retried := o.session.Attempt
		o.session.Attempt = 0
		o.session.State = StateSucceeded
		o.session.Succeeded++
		id := o.session.ID
		o.mu.Unlock()

		o.guard.Clear()
		o.recorder.Attempt(ctx, o.name, xmetrics.OutcomeSuccess)
		o.logger.Info(ctx, "auto retry succeeded", xlog.Session(id), xlog.Attempt(retried))
		return
	}

	rec := o.guard.RecordAttempt(ctx, err)
	// 限流窗口解除时由 EventRateLimitLifted 重新安排
	parked := o.guard.RateLimit().Active

	o.mu.Lock()
	o.session.Attempt = rec.AttemptIndex
	rescheduled := a.pending
	if !rescheduled && o.session.State == StateAttempting {
		if parked {
			o.session.State = StateIdle
		} else {
			o.session.State = StateExhausted
		}
	}
	id := o.session.ID
	o.mu.Unlock()

	if !rescheduled && !parked {
		o.recorder.Attempt(ctx, o.name, xmetrics.OutcomeExhausted)
		o.logger.Warn(ctx, "auto retry exhausted",
			xlog.Session(id), xlog.Attempt(rec.AttemptIndex), xlog.Err(err))
	}
}

// safeRun 执行 op 并把 panic 转为错误
func safeRun(ctx context.Context, op func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("xretry: operation panicked: %v", r)
		}
	}()
	return op(ctx)
}
