package xrun

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/omeyang/xfunnel/pkg/observability/xlog"
)

// Option 任务组选项
type Option func(*groupOptions)

type groupOptions struct {
	logger  xlog.Logger
	name    string
	signals []os.Signal
	// notify 订阅信号，返回通道与退订函数
	notify func(signals []os.Signal) (<-chan os.Signal, func())
}

func defaultOptions() *groupOptions {
	return &groupOptions{
		logger: xlog.Discard(),
		name:   "xrun",
		notify: notifySignals,
	}
}

func notifySignals(signals []os.Signal) (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	return ch, func() { signal.Stop(ch) }
}

// DefaultSignals 默认监听的信号，每次返回新切片
func DefaultSignals() []os.Signal {
	return []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
}

// WithLogger 设置日志记录器
func WithLogger(l xlog.Logger) Option {
	return func(o *groupOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithName 设置任务组名称
func WithName(name string) Option {
	return func(o *groupOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithSignals 设置 Run 监听的信号，空列表使用 DefaultSignals
func WithSignals(signals ...os.Signal) Option {
	copied := append([]os.Signal(nil), signals...)
	return func(o *groupOptions) {
		o.signals = copied
	}
}
