package xretry

import "errors"

var (
	// ErrInvalidPolicy 重试策略参数越界
	ErrInvalidPolicy = errors.New("xretry: invalid policy")

	// ErrCanceled Cancel/Reset 中止了等待中的重试，包装最后一次失败
	ErrCanceled = errors.New("xretry: retry canceled")

	// ErrBusy 同一编排器上已有进行中的重试序列
	ErrBusy = errors.New("xretry: retry sequence already in progress")

	// ErrClosed 编排器已关闭
	ErrClosed = errors.New("xretry: orchestrator closed")

	// ErrNilGuard 未提供故障状态持有者
	ErrNilGuard = errors.New("xretry: guard cannot be nil")

	// ErrNilOrchestrator 编排器为 nil
	ErrNilOrchestrator = errors.New("xretry: orchestrator cannot be nil")

	// ErrNilFunc 操作函数为 nil
	ErrNilFunc = errors.New("xretry: function cannot be nil")

	// ErrNilContext context 为 nil
	ErrNilContext = errors.New("xretry: context cannot be nil")
)

// RetryableError 可重试错误接口
// 实现此接口的错误会被自动识别为可重试或不可重试（*xfault.Error 即实现了它）
type RetryableError interface {
	error
	Retryable() bool
}

// PermanentError 永久性错误（不应重试）
type PermanentError struct {
	Err error
}

// Permanent 将错误标记为永久性，nil 保持为 nil
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func (e *PermanentError) Retryable() bool {
	return false
}

// IsRetryable 检查错误是否可重试
// 规则：
//   - nil 错误：不需要重试（视为成功）
//   - 实现 RetryableError 接口：根据 Retryable() 返回值判断
//   - 其他错误：默认视为可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}

	// 默认：未知错误视为可重试
	return true
}

// IsPermanent 检查错误是否为永久性错误
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return !IsRetryable(err)
}
