// Package xmetrics 提供韧性层（重试、故障分类）的指标记录与追踪接口。
//
// Recorder 记录计数与延迟，Observer 为重试会话、单次尝试和限时执行开启跨度，
// 默认实现分别基于 OpenTelemetry metric API 与 trace API。
package xmetrics

import (
	"context"
	"time"
)

// Outcome 表示单次尝试的结果。
type Outcome string

const (
	// OutcomeSuccess 尝试成功。
	OutcomeSuccess Outcome = "success"
	// OutcomeRetry 尝试失败，已安排下一次重试。
	OutcomeRetry Outcome = "retry"
	// OutcomeExhausted 尝试失败且不再重试（次数耗尽或不可重试）。
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeCanceled 序列被取消。
	OutcomeCanceled Outcome = "canceled"
)

// Recorder 定义韧性层的指标记录接口。
//
// 实现必须是并发安全的，且不得阻塞调用方。
type Recorder interface {
	// Attempt 记录一次尝试结果。site 为调用点标签（如 "llm"）。
	Attempt(ctx context.Context, site string, outcome Outcome)

	// Delay 记录一次退避等待的时长。
	Delay(ctx context.Context, site string, d time.Duration)

	// Fault 记录一次被分类的故障。
	Fault(ctx context.Context, kind string)
}

// NoopRecorder 是空实现。
type NoopRecorder struct{}

// Attempt 空实现。
func (NoopRecorder) Attempt(context.Context, string, Outcome) {}

// Delay 空实现。
func (NoopRecorder) Delay(context.Context, string, time.Duration) {}

// Fault 空实现。
func (NoopRecorder) Fault(context.Context, string) {}

// OrNoop 在 r 为 nil 时返回 NoopRecorder。
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
