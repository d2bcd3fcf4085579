package xretry

import (
	"fmt"
	"time"
)

// State 重试会话状态
//
//	Idle → Waiting → Attempting → Succeeded
//	                     ↓
//	                  Waiting（可重试）/ Exhausted（不可重试或次数耗尽）
//
// Cancel 使 Waiting 回到 Idle；Reset 使任意状态回到 Idle。
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateAttempting
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateAttempting:
		return "attempting"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session 重试会话快照，供界面展示进度与倒计时
type Session struct {
	// ID 本次重试序列的标识，每个新序列重新生成
	ID string
	// Attempt 当前故障周期内已重试次数，与 xfault.Record.AttemptIndex 保持一致
	Attempt int
	// MaxAttempts 策略的重试上限
	MaxAttempts int
	State       State
	// Waiting 是否有待触发的重试
	Waiting bool
	// NextFireAt 下一次重试的触发时间，Waiting 为 false 时为零值
	NextFireAt time.Time
	// TotalAttempts 会话生命周期内执行过的尝试总数，只有 Reset 会清零
	TotalAttempts int
	// Succeeded 成功完成的序列数
	Succeeded int
}

// Countdown 返回距离下一次重试的剩余时间
func (s Session) Countdown(now time.Time) time.Duration {
	if !s.Waiting || s.NextFireAt.IsZero() {
		return 0
	}
	if d := s.NextFireAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
