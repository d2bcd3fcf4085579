package xfault

import "time"

// Record 当前故障记录（只读快照）。
//
// 不变量：HasFailure == false 时 AttemptIndex == 0 且 Cause == nil。
type Record struct {
	// HasFailure 当前是否存在故障
	HasFailure bool
	// Message 面向用户的描述
	Message string
	// Kind 故障分类
	Kind Kind
	// Code 结构化错误码（来自 *Error，可为空）
	Code string
	// AttemptIndex 本次故障周期内已执行的重试次数
	AttemptIndex int
	// Cause 原始错误，用于诊断
	Cause error
	// OccurredAt 故障记录时间
	OccurredAt time.Time
}

// Window 限流窗口（只读快照）。
//
// 不变量：Active == true 时 ResetAt 在未来。窗口到期后由计时器自动解除。
type Window struct {
	Active  bool
	ResetAt time.Time
}

// Remaining 返回距离窗口解除的剩余时间，未激活时返回 0
func (w Window) Remaining(now time.Time) time.Duration {
	if !w.Active {
		return 0
	}
	if d := w.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// EventType 状态变更事件类型
type EventType int

const (
	// EventFailure 记录了新的故障
	EventFailure EventType = iota + 1
	// EventCleared 故障记录被清除
	EventCleared
	// EventRateLimitLifted 限流窗口到期解除
	EventRateLimitLifted
)

// String 返回事件类型名
func (t EventType) String() string {
	switch t {
	case EventFailure:
		return "failure"
	case EventCleared:
		return "cleared"
	case EventRateLimitLifted:
		return "rate_limit_lifted"
	default:
		return "unknown"
	}
}

// Event 状态变更通知，携带变更后的快照
type Event struct {
	Type   EventType
	Record Record
	Window Window
}
