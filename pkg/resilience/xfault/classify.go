package xfault

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Classifier 将原始错误归入某个分类。
// 实现必须是并发安全的且永不 panic。
type Classifier interface {
	Classify(err error) Kind
}

// ClassifierFunc 函数适配器
type ClassifierFunc func(err error) Kind

// Classify 实现 Classifier
func (f ClassifierFunc) Classify(err error) Kind {
	return f(err)
}

// Connectivity 由网络信号源实现，用于离线感知分类
type Connectivity interface {
	IsOnline() bool
}

// DefaultClassifier 默认分类器。
//
// 判定顺序：
//  1. 错误链中携带分类（FaultKind）的错误
//  2. ErrTimeout、context.DeadlineExceeded、net.Error.Timeout() → Timeout
//  3. 网络层错误（连接拒绝/重置、DNS、OpError） → Network
//  4. 网络信号源报告离线 → Network
//  5. 其余 → Unknown
type DefaultClassifier struct {
	// Network 可选的网络信号源
	Network Connectivity
}

// Classify 实现 Classifier
func (c DefaultClassifier) Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if k, ok := KindOf(err); ok {
		return k
	}
	if isTimeout(err) {
		return KindTimeout
	}
	if isNetwork(err) {
		return KindNetwork
	}
	if c.Network != nil && !c.Network.IsOnline() {
		return KindNetwork
	}
	return KindUnknown
}

func isTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isNetwork(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Phrase 消息子串到分类的映射
type Phrase struct {
	Substring string
	Kind      Kind
}

// PhraseClassifier 基于消息子串的分类器。
//
// 消息文本不是稳定契约，只在协作方无法提供结构化错误时显式启用。
// 子串匹配大小写不敏感，按顺序取第一个命中项；未命中时交给 Next。
type PhraseClassifier struct {
	Phrases []Phrase
	Next    Classifier
}

// Classify 实现 Classifier
func (c PhraseClassifier) Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if k, ok := KindOf(err); ok {
		return k
	}
	msg := strings.ToLower(err.Error())
	for _, p := range c.Phrases {
		if p.Substring != "" && strings.Contains(msg, strings.ToLower(p.Substring)) {
			return p.Kind
		}
	}
	if c.Next != nil {
		return c.Next.Classify(err)
	}
	return KindUnknown
}
