package xconf

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"github.com/omeyang/xfunnel/pkg/observability/xlog"
)

// DefaultDebounce 默认防抖时间
const DefaultDebounce = 100 * time.Millisecond

// ReloadFunc 重载回调，err 非 nil 表示重载失败（旧配置仍然有效）
type ReloadFunc func(cfg *Config, err error)

// WatchOption 监视器选项
type WatchOption func(*Watcher)

// WithDebounce 设置防抖时间，<= 0 时忽略
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchClock 注入时钟
func WithWatchClock(c clockwork.Clock) WatchOption {
	return func(w *Watcher) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithWatchLogger 设置日志记录器
func WithWatchLogger(l xlog.Logger) WatchOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher 配置文件监视器
type Watcher struct {
	cfg      *Config
	fs       *fsnotify.Watcher
	onReload ReloadFunc
	debounce time.Duration
	clock    clockwork.Clock
	logger   xlog.Logger

	mu      sync.Mutex
	timer   clockwork.Timer
	gen     uint64
	running bool
	stopped bool
}

// NewWatcher 创建监视器，调用 Run 开始监视
func NewWatcher(cfg *Config, onReload ReloadFunc, opts ...WatchOption) (*Watcher, error) {
	if cfg == nil || cfg.path == "" {
		return nil, ErrNotFileBacked
	}
	w := &Watcher{
		cfg:      cfg,
		onReload: onReload,
		debounce: DefaultDebounce,
		clock:    clockwork.NewRealClock(),
		logger:   xlog.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.logger = w.logger.With(xlog.Component("xconf"))

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("xconf: create watcher: %w", err)
	}
	// 监视目录而非文件：编辑器保存时可能先删除再创建
	dir := filepath.Dir(cfg.path)
	if err := fs.Add(dir); err != nil {
		return nil, errors.Join(fmt.Errorf("xconf: watch directory %s: %w", dir, err), fs.Close())
	}
	w.fs = fs
	return w, nil
}

// Run 监视直到 ctx 结束，返回时取消尚未触发的重载。只能调用一次。
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return ErrWatcherRunning
	}
	w.running = true
	w.mu.Unlock()
	defer w.stop()

	filename := filepath.Base(w.cfg.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != filename {
				continue
			}
			// Write: 直接修改；Create/Rename: 原子写入
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "config watch error", xlog.Err(err))
			w.notify(fmt.Errorf("xconf: watch error: %w", err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = w.clock.AfterFunc(w.debounce, func() { w.fire(gen) })
}

func (w *Watcher) fire(gen uint64) {
	w.mu.Lock()
	if w.stopped || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.mu.Unlock()

	err := w.cfg.Reload()
	if err != nil {
		w.logger.Warn(context.Background(), "config reload failed", xlog.Err(err))
	} else {
		w.logger.Info(context.Background(), "config reloaded")
	}
	w.notify(err)
}

func (w *Watcher) notify(err error) {
	if w.onReload != nil {
		w.onReload(w.cfg, err)
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	w.stopped = true
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	_ = w.fs.Close()
}

// Close 释放资源，未调用 Run 时使用
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	already := w.stopped
	w.stopped = true
	w.mu.Unlock()
	if already {
		return nil
	}
	return w.fs.Close()
}
