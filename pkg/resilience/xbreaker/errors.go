package xbreaker

import (
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
)

var (
	// ErrNilBreaker 传入的 Breaker 为 nil
	ErrNilBreaker = errors.New("xbreaker: breaker cannot be nil")

	// ErrNilFunc 传入的操作函数为 nil
	ErrNilFunc = errors.New("xbreaker: function cannot be nil")
)

// BreakerError 熔断器错误包装类型
//
// 包装 gobreaker 的错误（ErrOpenState、ErrTooManyRequests）：
//   - Retryable() 返回 false，熔断期间快速失败，不进入退避重试
//   - FaultKind() 返回 RemoteAPI，让故障状态持有者正确分类
type BreakerError struct {
	Err   error  // 原始错误（ErrOpenState 或 ErrTooManyRequests）
	Name  string // 熔断器名称
	State State  // 出错时的熔断器状态
}

// Error 实现 error 接口
func (e *BreakerError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("breaker %s: %v", e.Name, e.Err)
	}
	return e.Err.Error()
}

// Unwrap 实现 errors.Unwrap 接口
func (e *BreakerError) Unwrap() error {
	return e.Err
}

// Retryable 实现 xretry.RetryableError 接口
func (e *BreakerError) Retryable() bool {
	return false
}

// FaultKind 实现 xfault 的分类约定
func (e *BreakerError) FaultKind() xfault.Kind {
	return xfault.KindRemoteAPI
}

// FaultCode 返回稳定的错误码
func (e *BreakerError) FaultCode() string {
	return xfault.CodeCircuitOpen
}

// wrapBreakerError 如果是熔断器错误则包装，否则原样返回
//
// 只比较直接的 sentinel error，不遍历错误链，避免在嵌套熔断器场景下
// 把内层熔断器的错误归因到外层。状态从错误类型推导，而非事后查询 State()。
func wrapBreakerError(err error, name string) error {
	if err == nil {
		return nil
	}

	var be *BreakerError
	if errors.As(err, &be) {
		return err
	}

	if err == gobreaker.ErrOpenState {
		return &BreakerError{Err: err, Name: name, State: StateOpen}
	}
	if err == gobreaker.ErrTooManyRequests {
		return &BreakerError{Err: err, Name: name, State: StateHalfOpen}
	}
	return err
}

// IsOpen 检查错误是否是熔断器打开错误
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState)
}

// IsTooManyRequests 检查错误是否是请求过多错误
func IsTooManyRequests(err error) bool {
	return errors.Is(err, gobreaker.ErrTooManyRequests)
}

// IsBreakerError 检查错误是否是熔断器相关错误
func IsBreakerError(err error) bool {
	return IsOpen(err) || IsTooManyRequests(err)
}
