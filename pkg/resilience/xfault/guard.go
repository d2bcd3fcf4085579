package xfault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/omeyang/xfunnel/pkg/observability/xlog"
	"github.com/omeyang/xfunnel/pkg/observability/xmetrics"
)

// Guard 故障分类与状态持有者。
//
// 一个 Guard 只属于一个逻辑调用上下文。所有状态变更在 mu 内完成，
// 订阅者回调在释放锁之后调用，回调内可以安全地读取 Guard。
// 计时器回调通过代数（gen）判断自身是否已过期，过期回调不产生任何效果。
type Guard struct {
	clock         clockwork.Clock
	logger        xlog.Logger
	recorder      xmetrics.Recorder
	observer      xmetrics.Observer
	classifier    Classifier
	maxAttempts   int
	validationTTL time.Duration
	name          string

	mu           sync.Mutex
	record       Record
	window       Window
	autoClear    clockwork.Timer
	autoClearGen uint64
	windowTimer  clockwork.Timer
	windowGen    uint64
	listeners    map[uint64]func(Event)
	nextID       uint64
	closed       bool
}

// NewGuard 创建 Guard
func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		clock:         clockwork.NewRealClock(),
		logger:        xlog.Discard(),
		recorder:      xmetrics.NoopRecorder{},
		observer:      xmetrics.NoopObserver{},
		classifier:    DefaultClassifier{},
		maxAttempts:   DefaultMaxAttempts,
		validationTTL: DefaultValidationTTL,
		name:          "default",
		listeners:     make(map[uint64]func(Event)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.logger = g.logger.With(xlog.Component("xfault"), slog.String("guard", g.name))
	return g
}

// Clock 返回 Guard 使用的时钟
func (g *Guard) Clock() clockwork.Clock {
	return g.clock
}

// RecordFailure 记录一次故障。
//
// 未指定 WithKind 时由分类器推断，推断不出时为 Unknown。
// 未指定 WithMessage 时使用 cause 的描述，cause 为 nil 时使用通用描述。
// AttemptIndex 保持不变。
//
// 副作用：
//   - Validation 故障在 validationTTL 后自动清除（期间被 Clear 或新记录覆盖则取消）
//   - RateLimited 故障若携带未来的 ResetAt，自动激活限流窗口
func (g *Guard) RecordFailure(ctx context.Context, cause error, opts ...FailureOption) Record {
	return g.recordFailure(ctx, cause, false, opts)
}

// RecordAttempt 记录一次重试尝试的失败：AttemptIndex 加一并写入故障记录。
// 两步在同一临界区内完成，供重试编排器保持计数一致。
func (g *Guard) RecordAttempt(ctx context.Context, cause error, opts ...FailureOption) Record {
	return g.recordFailure(ctx, cause, true, opts)
}

func (g *Guard) recordFailure(ctx context.Context, cause error, bump bool, opts []FailureOption) Record {
	if ctx == nil {
		ctx = context.Background()
	}
	var fo failureOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&fo)
		}
	}

	kind := fo.kind
	if !fo.hasKind {
		kind = g.classify(cause)
	}
	message := fo.message
	if message == "" {
		message = userMessage(cause)
	}
	code := CodeOf(cause)
	now := g.clock.Now()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return Record{}
	}
	attempt := g.record.AttemptIndex
	if bump {
		attempt++
	}
	g.record = Record{
		HasFailure:   true,
		Message:      message,
		Kind:         kind,
		Code:         code,
		AttemptIndex: attempt,
		Cause:        cause,
		OccurredAt:   now,
	}
	g.stopAutoClearLocked()
	if kind == KindValidation && g.validationTTL > 0 {
		g.armAutoClearLocked()
	}
	if kind == KindRateLimited {
		if resetAt, ok := ResetAtOf(cause); ok && resetAt.After(now) {
			g.markRateLimitedLocked(resetAt, now)
		}
	}
	ev := Event{Type: EventFailure, Record: g.record, Window: g.window}
	listeners := g.listenersLocked()
	g.mu.Unlock()

	g.logger.Warn(ctx, "failure recorded",
		xlog.Kind(kind),
		xlog.Code(code),
		xlog.Attempt(attempt),
		slog.String("message", message),
		xlog.Err(cause),
	)
	g.recorder.Fault(ctx, kind.String())
	g.notify(listeners, ev)
	return ev.Record
}

// classify 调用分类器并隔离其 panic
func (g *Guard) classify(cause error) (kind Kind) {
	if cause == nil {
		return KindUnknown
	}
	defer func() {
		if r := recover(); r != nil {
			kind = KindUnknown
		}
	}()
	return g.classifier.Classify(cause)
}

// userMessage 提取面向用户的消息：优先 *Error.Message，其次原始错误文本
func userMessage(cause error) string {
	if cause == nil {
		return defaultMessage
	}
	var fe *Error
	if errors.As(cause, &fe) {
		if fe.Message != "" {
			return fe.Message
		}
		if fe.Err != nil {
			return fe.Err.Error()
		}
	}
	if msg := cause.Error(); msg != "" {
		return msg
	}
	return defaultMessage
}

// Clear 清除故障记录并取消待执行的自动清除，幂等
func (g *Guard) Clear() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	had := g.record.HasFailure
	g.record = Record{}
	g.stopAutoClearLocked()
	ev := Event{Type: EventCleared, Window: g.window}
	listeners := g.listenersLocked()
	g.mu.Unlock()

	if had {
		g.notify(listeners, ev)
	}
}

// MarkRateLimited 激活限流窗口，resetAt 到达后自动解除。
// resetAt 不在未来时不激活。重复调用以最后一次为准。
func (g *Guard) MarkRateLimited(resetAt time.Time) {
	now := g.clock.Now()
	if !resetAt.After(now) {
		return
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.markRateLimitedLocked(resetAt, now)
	g.mu.Unlock()

	g.logger.Info(context.Background(), "rate limit window opened",
		slog.Time("reset_at", resetAt), xlog.Duration(resetAt.Sub(now)))
}

func (g *Guard) markRateLimitedLocked(resetAt, now time.Time) {
	if g.windowTimer != nil {
		g.windowTimer.Stop()
	}
	g.windowGen++
	gen := g.windowGen
	g.window = Window{Active: true, ResetAt: resetAt}
	g.windowTimer = g.clock.AfterFunc(resetAt.Sub(now), func() {
		g.liftWindow(gen)
	})
}

func (g *Guard) liftWindow(gen uint64) {
	g.mu.Lock()
	if g.closed || gen != g.windowGen {
		g.mu.Unlock()
		return
	}
	g.window = Window{}
	g.windowTimer = nil
	ev := Event{Type: EventRateLimitLifted, Record: g.record}
	listeners := g.listenersLocked()
	g.mu.Unlock()

	g.logger.Info(context.Background(), "rate limit window lifted")
	g.notify(listeners, ev)
}

func (g *Guard) armAutoClearLocked() {
	g.autoClearGen++
	gen := g.autoClearGen
	g.autoClear = g.clock.AfterFunc(g.validationTTL, func() {
		g.fireAutoClear(gen)
	})
}

func (g *Guard) stopAutoClearLocked() {
	if g.autoClear != nil {
		g.autoClear.Stop()
		g.autoClear = nil
	}
	g.autoClearGen++
}

func (g *Guard) fireAutoClear(gen uint64) {
	g.mu.Lock()
	if g.closed || gen != g.autoClearGen {
		g.mu.Unlock()
		return
	}
	g.autoClear = nil
	had := g.record.HasFailure
	g.record = Record{}
	ev := Event{Type: EventCleared, Window: g.window}
	listeners := g.listenersLocked()
	g.mu.Unlock()

	if had {
		g.notify(listeners, ev)
	}
}

// CanRetry 使用 Guard 自身的重试上限判断是否允许重试
func (g *Guard) CanRetry() bool {
	return g.CanRetryWithin(g.maxAttempts)
}

// CanRetryWithin 判断在给定重试上限下是否允许重试：
//   - 限流窗口有效 → false（与当前记录的分类无关）
//   - 校验故障 → false
//   - AttemptIndex >= maxAttempts → false
//   - 其余 → true
func (g *Guard) CanRetryWithin(maxAttempts int) bool {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.effectiveWindowLocked(now).Active {
		return false
	}
	if g.record.HasFailure && g.record.Kind == KindValidation {
		return false
	}
	return g.record.AttemptIndex < maxAttempts
}

// Snapshot 返回当前故障记录的副本
func (g *Guard) Snapshot() Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.record
}

// RateLimit 返回当前限流窗口的副本。
// 已过 ResetAt 但计时器尚未回调时同样视为未激活。
func (g *Guard) RateLimit() Window {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.effectiveWindowLocked(now)
}

func (g *Guard) effectiveWindowLocked(now time.Time) Window {
	if g.window.Active && now.Before(g.window.ResetAt) {
		return g.window
	}
	return Window{}
}

// Subscribe 订阅状态变更，返回取消订阅函数（幂等）。
// 回调在 Guard 的锁之外同步调用，应保持轻量；回调 panic 被隔离。
func (g *Guard) Subscribe(fn func(Event)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return func() {}
	}
	g.nextID++
	id := g.nextID
	g.listeners[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.listeners, id)
	}
}

func (g *Guard) listenersLocked() []func(Event) {
	if len(g.listeners) == 0 {
		return nil
	}
	out := make([]func(Event), 0, len(g.listeners))
	for id := uint64(1); id <= g.nextID; id++ {
		if fn, ok := g.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (g *Guard) notify(listeners []func(Event), ev Event) {
	for _, fn := range listeners {
		g.safeCall(fn, ev)
	}
}

func (g *Guard) safeCall(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error(context.Background(), "event listener panicked",
				slog.String("event", ev.Type.String()),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(ev)
}

// Close 停止所有计时器并移除订阅者，之后的状态变更被忽略。幂等。
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.stopAutoClearLocked()
	if g.windowTimer != nil {
		g.windowTimer.Stop()
		g.windowTimer = nil
	}
	g.windowGen++
	g.listeners = make(map[uint64]func(Event))
}
