package xfault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xfunnel/pkg/observability/xlog"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestGuard(t *testing.T, opts ...Option) (*Guard, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	g := NewGuard(append([]Option{WithClock(fc)}, opts...)...)
	t.Cleanup(g.Close)
	return g, fc
}

func TestGuard_RecordFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("ExplicitKindAndMessage", func(t *testing.T) {
		g, fc := newTestGuard(t)
		rec := g.RecordFailure(ctx, errors.New("boom"), WithKind(KindNetwork), WithMessage("connection lost"))

		assert.True(t, rec.HasFailure)
		assert.Equal(t, KindNetwork, rec.Kind)
		assert.Equal(t, "connection lost", rec.Message)
		assert.Equal(t, 0, rec.AttemptIndex)
		assert.Equal(t, fc.Now(), rec.OccurredAt)
		assert.Equal(t, rec, g.Snapshot())
	})

	t.Run("DefaultsToUnknown", func(t *testing.T) {
		g, _ := newTestGuard(t)
		rec := g.RecordFailure(ctx, errors.New("something odd"))
		assert.Equal(t, KindUnknown, rec.Kind)
		assert.Equal(t, "something odd", rec.Message)
	})

	t.Run("NilCauseUsesGenericMessage", func(t *testing.T) {
		g, _ := newTestGuard(t)
		rec := g.RecordFailure(ctx, nil)
		assert.True(t, rec.HasFailure)
		assert.Equal(t, defaultMessage, rec.Message)
	})

	t.Run("StructuredErrorMessageAndCode", func(t *testing.T) {
		g, _ := newTestGuard(t)
		rec := g.RecordFailure(ctx, New(KindRemoteAPI, CodeQuotaExceeded, "quota exhausted"))
		assert.Equal(t, KindRemoteAPI, rec.Kind)
		assert.Equal(t, CodeQuotaExceeded, rec.Code)
		assert.Equal(t, "quota exhausted", rec.Message)
	})

	t.Run("KeepsAttemptIndex", func(t *testing.T) {
		g, _ := newTestGuard(t)
		g.RecordAttempt(ctx, errors.New("a"))
		g.RecordAttempt(ctx, errors.New("b"))
		rec := g.RecordFailure(ctx, errors.New("c"))
		assert.Equal(t, 2, rec.AttemptIndex)
	})

	t.Run("ClassifierPanicIsContained", func(t *testing.T) {
		g, _ := newTestGuard(t, WithClassifier(ClassifierFunc(func(error) Kind { panic("bad") })))
		rec := g.RecordFailure(ctx, errors.New("x"))
		assert.Equal(t, KindUnknown, rec.Kind)
	})

	t.Run("OfflineClassifiesAsNetwork", func(t *testing.T) {
		g, _ := newTestGuard(t, WithNetwork(staticConn(false)))
		rec := g.RecordFailure(ctx, errors.New("request failed"))
		assert.Equal(t, KindNetwork, rec.Kind)
	})
}

func TestGuard_ValidationAutoClear(t *testing.T) {
	ctx := context.Background()

	t.Run("ClearsAfterTTL", func(t *testing.T) {
		g, fc := newTestGuard(t)
		var log eventLog
		g.Subscribe(log.add)

		g.RecordFailure(ctx, errors.New("title is required"), WithKind(KindValidation))
		assert.True(t, g.Snapshot().HasFailure)

		fc.Advance(DefaultValidationTTL - time.Millisecond)
		assert.True(t, g.Snapshot().HasFailure)

		fc.Advance(time.Millisecond)
		require.Eventually(t, func() bool { return !g.Snapshot().HasFailure }, time.Second, time.Millisecond)
		require.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]EventType{EventFailure, EventCleared}, log.types())
		}, time.Second, time.Millisecond)
	})

	t.Run("ManualClearCancelsTimer", func(t *testing.T) {
		g, fc := newTestGuard(t)
		g.RecordFailure(ctx, errors.New("invalid"), WithKind(KindValidation))
		fc.Advance(2 * time.Second)
		g.Clear()
		g.RecordFailure(ctx, errors.New("offline"), WithKind(KindNetwork))

		fc.Advance(10 * time.Second)
		assert.Never(t, func() bool { return !g.Snapshot().HasFailure }, 50*time.Millisecond, 5*time.Millisecond)
		assert.Equal(t, KindNetwork, g.Snapshot().Kind)
	})

	t.Run("NewRecordReplacesTimer", func(t *testing.T) {
		g, fc := newTestGuard(t)
		g.RecordFailure(ctx, errors.New("first"), WithKind(KindValidation))
		fc.Advance(3 * time.Second)
		g.RecordFailure(ctx, errors.New("second"), WithKind(KindValidation))

		fc.Advance(3 * time.Second)
		assert.Never(t, func() bool { return !g.Snapshot().HasFailure }, 50*time.Millisecond, 5*time.Millisecond)

		fc.Advance(2 * time.Second)
		require.Eventually(t, func() bool { return !g.Snapshot().HasFailure }, time.Second, time.Millisecond)
	})

	t.Run("ZeroTTLDisables", func(t *testing.T) {
		g, fc := newTestGuard(t, WithValidationTTL(0))
		g.RecordFailure(ctx, errors.New("invalid"), WithKind(KindValidation))
		fc.Advance(time.Hour)
		assert.True(t, g.Snapshot().HasFailure)
	})
}

func TestGuard_Clear(t *testing.T) {
	g, _ := newTestGuard(t)
	var log eventLog
	g.Subscribe(log.add)

	g.Clear()
	assert.Empty(t, log.types(), "clearing an empty record emits nothing")

	g.RecordAttempt(context.Background(), errors.New("x"))
	g.Clear()
	g.Clear()

	assert.Equal(t, Record{}, g.Snapshot())
	assert.Equal(t, []EventType{EventFailure, EventCleared}, log.types())
}

func TestGuard_RateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("MarkAloneBlocksRetryUntilReset", func(t *testing.T) {
		g, fc := newTestGuard(t)
		var log eventLog
		g.Subscribe(log.add)

		g.MarkRateLimited(fc.Now().Add(10000 * time.Millisecond))
		assert.False(t, g.CanRetry())
		w := g.RateLimit()
		assert.True(t, w.Active)
		assert.Equal(t, 10*time.Second, w.Remaining(fc.Now()))

		fc.Advance(10001 * time.Millisecond)
		assert.True(t, g.CanRetry())
		assert.False(t, g.RateLimit().Active)
		require.Eventually(t, func() bool {
			types := log.types()
			return len(types) == 1 && types[0] == EventRateLimitLifted
		}, time.Second, time.Millisecond)
	})

	t.Run("RateLimitedRecordInsideWindow", func(t *testing.T) {
		g, fc := newTestGuard(t)
		g.MarkRateLimited(fc.Now().Add(10 * time.Second))
		g.RecordFailure(ctx, errors.New("slow down"), WithKind(KindRateLimited))

		assert.False(t, g.CanRetry())
		fc.Advance(10 * time.Second)
		assert.True(t, g.CanRetry())
	})

	t.Run("PastResetIsNoop", func(t *testing.T) {
		g, fc := newTestGuard(t)
		g.MarkRateLimited(fc.Now().Add(-time.Second))
		g.MarkRateLimited(fc.Now())
		assert.False(t, g.RateLimit().Active)
	})

	t.Run("StructuredErrorOpensWindow", func(t *testing.T) {
		g, fc := newTestGuard(t)
		g.RecordFailure(ctx, RateLimited(errors.New("429"), fc.Now().Add(30*time.Second)))

		rec := g.Snapshot()
		assert.Equal(t, KindRateLimited, rec.Kind)
		assert.Equal(t, CodeRateLimitExceeded, rec.Code)
		assert.True(t, g.RateLimit().Active)
		assert.False(t, g.CanRetry())
	})

	t.Run("LastMarkWins", func(t *testing.T) {
		g, fc := newTestGuard(t)
		g.MarkRateLimited(fc.Now().Add(5 * time.Second))
		g.MarkRateLimited(fc.Now().Add(20 * time.Second))
		fc.Advance(6 * time.Second)
		assert.True(t, g.RateLimit().Active)
		assert.Equal(t, 14*time.Second, g.RateLimit().Remaining(fc.Now()))
	})

	t.Run("WindowBlocksAnyKind", func(t *testing.T) {
		g, fc := newTestGuard(t)
		g.MarkRateLimited(fc.Now().Add(time.Minute))
		g.RecordFailure(ctx, errors.New("offline"), WithKind(KindNetwork))
		assert.False(t, g.CanRetry())

		fc.Advance(time.Minute)
		assert.True(t, g.CanRetry())
	})
}

func TestGuard_CanRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("NoFailure", func(t *testing.T) {
		g, _ := newTestGuard(t)
		assert.True(t, g.CanRetry())
	})

	t.Run("ValidationNeverRetries", func(t *testing.T) {
		g, _ := newTestGuard(t)
		g.RecordFailure(ctx, errors.New("bad"), WithKind(KindValidation))
		assert.False(t, g.CanRetry())
	})

	t.Run("AttemptCap", func(t *testing.T) {
		g, _ := newTestGuard(t)
		for i := 0; i < 2; i++ {
			g.RecordAttempt(ctx, errors.New("offline"), WithKind(KindNetwork))
			assert.True(t, g.CanRetry())
		}
		g.RecordAttempt(ctx, errors.New("offline"), WithKind(KindNetwork))
		assert.Equal(t, 3, g.Snapshot().AttemptIndex)
		assert.False(t, g.CanRetry())
		assert.True(t, g.CanRetryWithin(5))
	})

	t.Run("CustomMax", func(t *testing.T) {
		g, _ := newTestGuard(t, WithMaxAttempts(1))
		g.RecordAttempt(ctx, errors.New("x"))
		assert.False(t, g.CanRetry())
	})
}

func TestGuard_Subscribe(t *testing.T) {
	g, _ := newTestGuard(t)
	var log eventLog
	cancel := g.Subscribe(log.add)
	g.Subscribe(func(Event) { panic("listener bug") })

	g.RecordFailure(context.Background(), errors.New("x"))
	cancel()
	cancel()
	g.RecordFailure(context.Background(), errors.New("y"))

	assert.Equal(t, []EventType{EventFailure}, log.types())
}

func TestGuard_Close(t *testing.T) {
	fc := clockwork.NewFakeClock()
	g := NewGuard(WithClock(fc))
	var log eventLog
	g.Subscribe(log.add)

	g.RecordFailure(context.Background(), errors.New("x"), WithKind(KindValidation))
	g.Close()
	g.Close()

	assert.Equal(t, Record{}, g.RecordFailure(context.Background(), errors.New("y")))
	fc.Advance(time.Minute)
	assert.Equal(t, []EventType{EventFailure}, log.types())
}

type staticConn bool

func (s staticConn) IsOnline() bool { return bool(s) }

// reentrantWriter 在写日志时读取 Guard，日志若在持锁期间输出会死锁
type reentrantWriter struct {
	mu    sync.Mutex
	guard *Guard
	reads int
}

func (w *reentrantWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	g := w.guard
	w.mu.Unlock()
	if g != nil {
		_ = g.RateLimit()
		w.mu.Lock()
		w.reads++
		w.mu.Unlock()
	}
	return len(p), nil
}

func TestGuard_MarkRateLimitedLogsOutsideLock(t *testing.T) {
	w := &reentrantWriter{}
	logger, cleanup, err := xlog.New().SetOutput(w).SetLevelString("debug").Build()
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	g, fc := newTestGuard(t, WithLogger(logger))
	w.mu.Lock()
	w.guard = g
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.MarkRateLimited(fc.Now().Add(time.Second))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MarkRateLimited blocked while logging")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Positive(t, w.reads)
}
