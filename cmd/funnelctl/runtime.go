package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/xfunnel/internal/settings"
	"github.com/omeyang/xfunnel/pkg/config/xconf"
	"github.com/omeyang/xfunnel/pkg/network/xnetwatch"
	"github.com/omeyang/xfunnel/pkg/observability/xlog"
	"github.com/omeyang/xfunnel/pkg/observability/xmetrics"
	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
	"github.com/omeyang/xfunnel/pkg/resilience/xretry"
)

// runtime 一次命令执行共享的组件
type runtime struct {
	mu       sync.RWMutex
	settings settings.Settings

	cfg      *xconf.Config
	logger   xlog.LoggerWithLevel
	recorder xmetrics.Recorder
	observer xmetrics.Observer
	stdout   io.Writer

	source  *xnetwatch.Source
	closers []func() error
}

// loadRuntime 读取配置并构建日志与指标
func loadRuntime(cmd *cli.Command) (*runtime, error) {
	root := cmd.Root()
	s := settings.Default()
	var cfg *xconf.Config
	if path := root.String("config"); path != "" {
		var err error
		if s, cfg, err = settings.Load(path); err != nil {
			return nil, err
		}
	}
	if v := root.String("log-level"); v != "" {
		s.Log.Level = v
	}
	if v := root.String("log-format"); v != "" {
		s.Log.Format = v
	}

	b := xlog.New().SetLevelString(s.Log.Level).SetFormat(s.Log.Format).SetOutput(root.ErrWriter)
	if s.Log.File != "" {
		b = b.SetRotation(s.Log.File)
	}
	logger, cleanup, err := b.Build()
	if err != nil {
		return nil, usagef("log settings: %v", err)
	}

	recorder, err := xmetrics.NewOTelRecorder(xmetrics.WithInstrumentationName("github.com/omeyang/xfunnel/cmd/funnelctl"))
	if err != nil {
		logger.Warn(context.Background(), "metrics disabled", xlog.Err(err))
		recorder = xmetrics.NoopRecorder{}
	}

	return &runtime{
		settings: s,
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		observer: xmetrics.NewOTelObserver(xmetrics.WithInstrumentationName("github.com/omeyang/xfunnel/cmd/funnelctl")),
		stdout:   root.Writer,
		closers:  []func() error{cleanup},
	}, nil
}

// current 返回当前生效的配置
func (r *runtime) current() settings.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// apply 替换配置，之后执行的调用点使用新的策略
func (r *runtime) apply(s settings.Settings) {
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
	r.logger.SetLevel(levelOrKeep(s.Log.Level, r.logger))
}

// Close 逆序释放资源
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

func (r *runtime) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// redis 按配置创建客户端，随 runtime 关闭
func (r *runtime) redis() *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: r.current().Redis.Addr, DB: r.current().Redis.DB})
	r.onClose(client.Close)
	return client
}

// network 返回网络信号源，配置了探测地址时先同步探测一次
func (r *runtime) network(ctx context.Context) *xnetwatch.Source {
	if r.source != nil {
		return r.source
	}
	n := r.current().Network
	opts := []xnetwatch.Option{
		xnetwatch.WithLogger(r.logger),
		xnetwatch.WithInterval(n.Interval),
		xnetwatch.WithSlowThreshold(n.SlowThreshold),
	}
	if n.ProbeAddr != "" {
		opts = append(opts, xnetwatch.WithProber(xnetwatch.DialProber{Addr: n.ProbeAddr, Timeout: n.Timeout}))
	}
	r.source = xnetwatch.New(opts...)
	r.onClose(func() error {
		r.source.Close()
		return nil
	})
	if n.ProbeAddr != "" {
		st := r.source.Probe(ctx)
		r.logger.Debug(ctx, "network probed", slog.Bool("online", st.Online), slog.String("quality", string(st.Quality)))
	}
	return r.source
}

// newGuard 创建调用点的 Guard，CanRetry 的上限取调用点策略
func (r *runtime) newGuard(site string, cfg settings.Site, opts ...xfault.Option) *xfault.Guard {
	fault := r.current().Fault
	base := []xfault.Option{
		xfault.WithLogger(r.logger),
		xfault.WithRecorder(r.recorder),
		xfault.WithObserver(r.observer),
		xfault.WithMaxAttempts(cfg.Policy.MaxAttempts),
		xfault.WithValidationTTL(fault.ValidationTTL),
		xfault.WithName(site),
	}
	return xfault.NewGuard(append(base, opts...)...)
}

// failureError 携带失败时的故障记录，便于向用户输出可读信息
type failureError struct {
	site   string
	record xfault.Record
	err    error
}

func (e *failureError) Error() string {
	if e.record.Code != "" {
		return fmt.Sprintf("%s: %s (%s/%s)", e.site, e.record.Message, e.record.Kind, e.record.Code)
	}
	return fmt.Sprintf("%s: %s (%s)", e.site, e.record.Message, e.record.Kind)
}

func (e *failureError) Unwrap() error {
	return e.err
}

// runSite 在调用点的策略下执行 op：每次尝试受单次超时约束，失败按策略重试
func (r *runtime) runSite(ctx context.Context, site string, op func(ctx context.Context) error) error {
	cfg, err := r.current().Site(site)
	if err != nil {
		return usagef("%v", err)
	}
	guard := r.newGuard(site, cfg, xfault.WithNetwork(r.network(ctx)))
	defer guard.Close()

	orch, err := xretry.New(guard, cfg.Policy,
		xretry.WithLogger(r.logger),
		xretry.WithRecorder(r.recorder),
		xretry.WithObserver(r.observer),
		xretry.WithName(site),
	)
	if err != nil {
		return err
	}
	defer orch.Close()

	err = orch.Run(ctx, func(ctx context.Context) error {
		return guard.RunWithTimeout(ctx, cfg.Timeout, op)
	})
	if err == nil {
		return nil
	}
	if rec := guard.Snapshot(); rec.HasFailure {
		return &failureError{site: site, record: rec, err: err}
	}
	return err
}
