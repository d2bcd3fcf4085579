package xretry

import (
	"github.com/jonboulle/clockwork"

	"github.com/omeyang/xfunnel/pkg/observability/xlog"
	"github.com/omeyang/xfunnel/pkg/observability/xmetrics"
)

// Option 编排器配置选项
type Option func(*Orchestrator)

// WithClock 设置时钟，默认沿用 Guard 的时钟
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(l xlog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder 设置指标记录器
func WithRecorder(r xmetrics.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithObserver 设置追踪器：每个重试会话一个跨度，每次尝试一个子跨度
func WithObserver(obs xmetrics.Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithName 设置调用点名称（日志与指标的 site 维度），如 "llm"、"store"
func WithName(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.name = name
		}
	}
}
