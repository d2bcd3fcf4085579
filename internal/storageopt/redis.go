package storageopt

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
)

// transientPrefixes Redis 服务端的临时状态前缀，稍后重试即可恢复
var transientPrefixes = []string{"LOADING", "BUSY", "TRYAGAIN", "MASTERDOWN", "CLUSTERDOWN"}

// TranslateRedis 把 go-redis 返回的错误翻译为 *xfault.Error。
//
// 翻译规则：
//   - redis.Nil → RemoteAPI/not_found，永久
//   - context 超时 → Timeout
//   - context 取消 → 原样返回
//   - 网络错误（net.Error、连接池关闭）→ Network
//   - LOADING/BUSY/TRYAGAIN 等临时状态 → RemoteAPI/unavailable
//   - 其余服务端错误 → RemoteAPI，永久
//
// 已是 *xfault.Error 的错误原样返回。
func TranslateRedis(err error, what string) error {
	if err == nil {
		return nil
	}
	var fe *xfault.Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	switch {
	case errors.Is(err, redis.Nil):
		return &xfault.Error{
			Kind: xfault.KindRemoteAPI, Code: xfault.CodeNotFound,
			Message: what + " not found", Permanent: true, Err: err,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &xfault.Error{Kind: xfault.KindTimeout, Code: xfault.CodeTimeout, Err: err}
	case isTransient(err):
		return &xfault.Error{Kind: xfault.KindRemoteAPI, Code: xfault.CodeUnavailable, Err: err}
	case isNetwork(err):
		return &xfault.Error{Kind: xfault.KindNetwork, Code: xfault.CodeUnavailable, Err: err}
	}

	var rerr redis.Error
	if errors.As(err, &rerr) {
		return &xfault.Error{Kind: xfault.KindRemoteAPI, Permanent: true, Err: err}
	}
	return &xfault.Error{Kind: xfault.KindRemoteAPI, Err: err}
}

func isTransient(err error) bool {
	var rerr redis.Error
	if !errors.As(err, &rerr) {
		return false
	}
	msg := rerr.Error()
	for _, p := range transientPrefixes {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}

func isNetwork(err error) bool {
	if errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
