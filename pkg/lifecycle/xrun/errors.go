package xrun

import (
	"errors"
	"fmt"
	"os"
)

// ErrSignal 因收到系统信号而终止，配合 errors.Is 使用
var ErrSignal = errors.New("received signal")

// ErrNilFunc 任务函数为 nil
var ErrNilFunc = errors.New("xrun: task function cannot be nil")

// SignalError 携带触发终止的信号
type SignalError struct {
	Signal os.Signal
}

// Error 实现 error 接口
func (e *SignalError) Error() string {
	if e.Signal == nil {
		return "received signal <nil>"
	}
	return fmt.Sprintf("received signal %s", e.Signal)
}

// Unwrap 返回 ErrSignal
func (e *SignalError) Unwrap() error {
	return ErrSignal
}
