package xfault

import (
	"errors"
	"fmt"
	"time"
)

// 哨兵错误
var (
	// ErrTimeout 操作超过时限，RunWithTimeout 返回的 *Error 包装此错误
	ErrTimeout = errors.New("xfault: operation timed out")

	// ErrValidation 输入校验失败，Validate 记录的故障原因包装此错误
	ErrValidation = errors.New("xfault: validation failed")

	// ErrUnknownKind 无法解析的分类名
	ErrUnknownKind = errors.New("xfault: unknown kind")

	// ErrNilFunc 传入的操作函数为 nil
	ErrNilFunc = errors.New("xfault: function cannot be nil")

	// ErrNilGuard 传入的 Guard 为 nil
	ErrNilGuard = errors.New("xfault: guard cannot be nil")
)

// 常用结构化错误码，协作方可自定义更多
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeQuotaExceeded     = "quota_exceeded"
	CodeAuthFailed        = "auth_failed"
	CodeNotFound          = "not_found"
	CodeCircuitOpen       = "circuit_open"
	CodeTimeout           = "timeout"
	CodeInvalidInput      = "invalid_input"
	CodeUnavailable       = "unavailable"
)

// Error 协作方返回的结构化故障。
//
// 协作方（数据库、语言模型）在适配层把原生错误翻译为 *Error，
// 让分类依赖稳定的 Kind/Code，而不是消息子串。
type Error struct {
	// Kind 故障分类
	Kind Kind
	// Code 稳定的机器可读错误码（可选）
	Code string
	// Message 面向用户的描述（可选，为空时使用 Err 的文本）
	Message string
	// ResetAt 限流解除时间（仅 RateLimited 有意义）
	ResetAt time.Time
	// Permanent 为 true 时即便分类允许也不重试（如鉴权失败、资源不存在）
	Permanent bool
	// Err 原始错误
	Err error
}

// New 创建结构化故障
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap 以指定分类包装原始错误，err 为 nil 时返回 nil
func Wrap(err error, kind Kind, code string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Err: err}
}

// RateLimited 创建限流故障，resetAt 为限流解除时间
func RateLimited(err error, resetAt time.Time) *Error {
	return &Error{
		Kind:    KindRateLimited,
		Code:    CodeRateLimitExceeded,
		ResetAt: resetAt,
		Err:     err,
	}
}

// Error 实现 error 接口
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = "unexpected failure"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s [%s/%s]", msg, e.Kind, e.Code)
	}
	return fmt.Sprintf("%s [%s]", msg, e.Kind)
}

// Unwrap 实现 errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Err
}

// FaultKind 返回故障分类，供 Classifier 识别
func (e *Error) FaultKind() Kind {
	return e.Kind
}

// Retryable 实现 xretry.RetryableError。
// 校验类与标记为 Permanent 的故障不可重试。
func (e *Error) Retryable() bool {
	return !e.Permanent && e.Kind.Retriable()
}

// kindCarrier 由携带分类信息的错误实现（*Error、熔断器错误等）
type kindCarrier interface {
	FaultKind() Kind
}

// KindOf 返回错误链中第一个携带分类的错误的分类。
// 不存在时返回 KindUnknown 与 false。
func KindOf(err error) (Kind, bool) {
	var kc kindCarrier
	if errors.As(err, &kc) {
		return kc.FaultKind(), true
	}
	return KindUnknown, false
}

// IsKind 检查错误链是否携带指定分类
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// codeCarrier 由携带错误码、但不是 *Error 的错误实现（如熔断器错误）
type codeCarrier interface {
	FaultCode() string
}

// CodeOf 返回错误链中的结构化错误码，不存在时返回空串
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	var cc codeCarrier
	if errors.As(err, &cc) {
		return cc.FaultCode()
	}
	return ""
}

// ResetAtOf 返回错误链中限流故障的解除时间
func ResetAtOf(err error) (time.Time, bool) {
	var fe *Error
	if errors.As(err, &fe) && !fe.ResetAt.IsZero() {
		return fe.ResetAt, true
	}
	return time.Time{}, false
}
