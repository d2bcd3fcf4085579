package xrun

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xfunnel/pkg/observability/xlog"
)

// Task 命名任务
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Group 并发任务组。Go 与 Cancel 可并发调用，Wait 只应调用一次。
type Group struct {
	eg       *errgroup.Group
	ctx      context.Context
	causeCtx context.Context
	cancel   context.CancelCauseFunc
	opts     *groupOptions
	logger   xlog.Logger
}

// NewGroup 创建任务组，返回的 ctx 在任一任务出错或 Cancel 时取消
func NewGroup(ctx context.Context, opts ...Option) (*Group, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	causeCtx, cancel := context.WithCancelCause(ctx)
	eg, egCtx := errgroup.WithContext(causeCtx)
	return &Group{
		eg:       eg,
		ctx:      egCtx,
		causeCtx: causeCtx,
		cancel:   cancel,
		opts:     o,
		logger:   o.logger.With(xlog.Component("xrun"), slog.String("group", o.name)),
	}, egCtx
}

// Go 启动命名任务
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if fn == nil {
			return ErrNilFunc
		}
		g.logger.Debug(g.ctx, "task starting", slog.String("task", name))
		err := fn(g.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			g.logger.Warn(g.ctx, "task exited with error", slog.String("task", name), xlog.Err(err))
		} else {
			g.logger.Debug(g.ctx, "task stopped", slog.String("task", name))
		}
		return err
	})
}

// Cancel 以 cause 为原因取消全部任务，Wait 会返回该 cause。
// cause 不应包装 context.Canceled，否则会被当作普通取消。
func (g *Group) Cancel(cause error) {
	g.cancel(cause)
}

// Context 返回任务组的 ctx
func (g *Group) Context() context.Context {
	return g.ctx
}

// Wait 等待全部任务结束，返回第一个有意义的退出原因
func (g *Group) Wait() error {
	defer g.cancel(nil)
	err := g.eg.Wait()

	explicitCause := func() error {
		if g.causeCtx.Err() == nil {
			return nil
		}
		if cause := context.Cause(g.causeCtx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
		return nil
	}

	switch {
	case errors.Is(err, context.Canceled):
		// 来自任务内部的取消（组未被取消）原样返回
		if g.causeCtx.Err() == nil {
			return err
		}
		return explicitCause()
	case err == nil:
		return explicitCause()
	}
	return err
}

// Run 运行任务直到全部结束，同时监听信号；收到信号时返回 *SignalError
func Run(ctx context.Context, opts []Option, tasks ...Task) error {
	g, _ := NewGroup(ctx, opts...)

	var wg sync.WaitGroup
	finished := make(chan struct{})

	signals := g.opts.signals
	if len(signals) == 0 {
		signals = DefaultSignals()
	}
	sigCh, stop := g.opts.notify(signals)
	g.Go("signals", func(ctx context.Context) error {
		defer stop()
		select {
		case sig := <-sigCh:
			g.logger.Info(ctx, "received signal", slog.String("signal", sig.String()))
			g.Cancel(&SignalError{Signal: sig})
			return nil
		case <-ctx.Done():
			return nil
		case <-finished:
			return nil
		}
	})

	for _, t := range tasks {
		if t.Run == nil {
			g.Go(t.Name, nil)
			continue
		}
		wg.Add(1)
		g.Go(t.Name, func(ctx context.Context) error {
			defer wg.Done()
			return t.Run(ctx)
		})
	}
	go func() {
		wg.Wait()
		close(finished)
	}()
	return g.Wait()
}
