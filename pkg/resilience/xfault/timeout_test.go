package xfault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/omeyang/xfunnel/pkg/observability/xmetrics"
)

func TestRunWithTimeout(t *testing.T) {
	t.Run("FastOperationWins", func(t *testing.T) {
		g, _ := newTestGuard(t)
		v, err := RunWithTimeoutResult(context.Background(), g, time.Second, func(context.Context) (string, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.False(t, g.Snapshot().HasFailure)
	})

	t.Run("OperationErrorPropagatesUnrecorded", func(t *testing.T) {
		g, _ := newTestGuard(t)
		opErr := errors.New("remote said no")
		err := g.RunWithTimeout(context.Background(), time.Second, func(context.Context) error {
			return opErr
		})
		assert.Same(t, opErr, err)
		assert.False(t, g.Snapshot().HasFailure)
	})

	t.Run("TimeoutRecordsFailure", func(t *testing.T) {
		g, fc := newTestGuard(t)
		opCanceled := make(chan struct{})

		errCh := make(chan error, 1)
		go func() {
			errCh <- g.RunWithTimeout(context.Background(), 2*time.Second, func(ctx context.Context) error {
				<-ctx.Done()
				close(opCanceled)
				return ctx.Err()
			})
		}()

		require.NoError(t, fc.BlockUntilContext(context.Background(), 1))
		fc.Advance(2 * time.Second)

		err := <-errCh
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.True(t, IsKind(err, KindTimeout))

		rec := g.Snapshot()
		assert.True(t, rec.HasFailure)
		assert.Equal(t, KindTimeout, rec.Kind)
		assert.Equal(t, "operation timed out after 2s", rec.Message)

		select {
		case <-opCanceled:
		case <-time.After(time.Second):
			t.Fatal("operation context was not canceled")
		}
	})

	t.Run("CallerCancellation", func(t *testing.T) {
		g, _ := newTestGuard(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := g.RunWithTimeout(ctx, time.Hour, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("ZeroTimeoutIsUnbounded", func(t *testing.T) {
		g, _ := newTestGuard(t)
		var called bool
		err := g.RunWithTimeout(context.Background(), 0, func(context.Context) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("PanicBecomesError", func(t *testing.T) {
		g, _ := newTestGuard(t)
		err := g.RunWithTimeout(context.Background(), time.Second, func(context.Context) error {
			panic("kaboom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kaboom")
	})

	t.Run("NilArguments", func(t *testing.T) {
		g := NewGuard(WithClock(clockwork.NewFakeClock()))
		defer g.Close()
		assert.ErrorIs(t, g.RunWithTimeout(context.Background(), time.Second, nil), ErrNilFunc)
		_, err := RunWithTimeoutResult[int](context.Background(), nil, time.Second, func(context.Context) (int, error) { return 0, nil })
		assert.ErrorIs(t, err, ErrNilGuard)
	})
}

func TestRunWithTimeout_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	g, fc := newTestGuard(t, WithName("llm"), WithObserver(xmetrics.NewOTelObserver(xmetrics.WithTracerProvider(tp))))

	require.NoError(t, g.RunWithTimeout(context.Background(), time.Second, func(context.Context) error { return nil }))

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.RunWithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	require.NoError(t, fc.BlockUntilContext(context.Background(), 1))
	fc.Advance(time.Second)
	require.ErrorIs(t, <-errCh, ErrTimeout)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for _, s := range spans {
		assert.Equal(t, "xfault.run_with_timeout", s.Name())
	}
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[1].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "llm", attrs["guard"].AsString())
	assert.Equal(t, int64(1000), attrs["timeout_ms"].AsInt64())
	assert.True(t, attrs["timed_out"].AsBool())
}
