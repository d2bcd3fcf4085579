package xlog

import (
	"log/slog"
	"time"
)

// 常用属性 Key 常量
const (
	KeyError     = "error"
	KeyDuration  = "duration"
	KeyComponent = "component"
	KeyKind      = "kind"
	KeyCode      = "code"
	KeyAttempt   = "attempt"
	KeySite      = "site"
	KeySession   = "session_id"
)

// Err 创建错误属性
// 如果 err 为 nil，返回空属性（会被 slog 忽略）。
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 创建耗时属性（人类可读格式，如 "1.5s"）
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.String())
}

// Component 创建组件名属性
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Kind 创建故障分类属性
// 接受 fmt.Stringer，避免 xlog 反向依赖 xfault。
func Kind(k interface{ String() string }) slog.Attr {
	if k == nil {
		return slog.Attr{}
	}
	return slog.String(KeyKind, k.String())
}

// Code 创建结构化错误码属性，空码返回空属性
func Code(code string) slog.Attr {
	if code == "" {
		return slog.Attr{}
	}
	return slog.String(KeyCode, code)
}

// Attempt 创建尝试次数属性
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Site 创建调用点属性（如 "llm"、"store"）
func Site(name string) slog.Attr {
	return slog.String(KeySite, name)
}

// Session 创建重试会话 ID 属性
func Session(id string) slog.Attr {
	return slog.String(KeySession, id)
}
