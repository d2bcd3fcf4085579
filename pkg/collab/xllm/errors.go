package xllm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
)

var (
	// ErrNilAPI 底层 API 客户端为 nil
	ErrNilAPI = errors.New("xllm: api client cannot be nil")
	// ErrEmptyPrompt 提示词为空
	ErrEmptyPrompt = errors.New("xllm: prompt cannot be empty")
	// ErrEmptyResponse 提供方未返回任何候选
	ErrEmptyResponse = errors.New("xllm: empty completion")
	// ErrInvalidBrief 漏斗文案需求不完整
	ErrInvalidBrief = errors.New("xllm: invalid brief")
)

// quotaMarkers 429 消息或错误码中出现这些词时表示账户额度用尽，而非瞬时限流
var quotaMarkers = []string{"insufficient_quota", "quota", "billing"}

// statusOf 从 go-openai 的错误中提取 HTTP 状态码、消息与错误码
func statusOf(err error) (status int, message, code string, ok bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return apiErr.HTTPStatusCode, apiErr.Message, code, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, string(reqErr.Body), "", true
	}
	return 0, "", "", false
}

// translate 把提供方错误翻译为 *xfault.Error，now 用于计算限流解除时间
func translate(err error, now time.Time, cooldown time.Duration) error {
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

	if status, msg, code, ok := statusOf(err); ok {
		return fromStatus(err, status, msg, code, now, cooldown)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &xfault.Error{Kind: xfault.KindTimeout, Code: xfault.CodeTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &xfault.Error{Kind: xfault.KindTimeout, Code: xfault.CodeTimeout, Err: err}
		}
		return &xfault.Error{Kind: xfault.KindNetwork, Code: xfault.CodeUnavailable, Err: err}
	}
	return &xfault.Error{Kind: xfault.KindRemoteAPI, Err: err}
}

func fromStatus(err error, status int, msg, code string, now time.Time, cooldown time.Duration) error {
	switch {
	case status == http.StatusTooManyRequests:
		if mentionsQuota(msg, code) {
			return &xfault.Error{
				Kind: xfault.KindRemoteAPI, Code: xfault.CodeQuotaExceeded,
				Message: "the AI provider quota has been used up", Permanent: true, Err: err,
			}
		}
		fe := xfault.RateLimited(err, now.Add(cooldown))
		fe.Message = "the AI provider is rate limiting requests"
		return fe
	case status == http.StatusBadRequest, status == http.StatusNotFound, status == http.StatusUnprocessableEntity:
		return &xfault.Error{Kind: xfault.KindValidation, Code: xfault.CodeInvalidInput, Message: msg, Err: err}
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return &xfault.Error{
			Kind: xfault.KindRemoteAPI, Code: xfault.CodeAuthFailed,
			Message: "the AI provider rejected the credentials", Permanent: true, Err: err,
		}
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return &xfault.Error{Kind: xfault.KindTimeout, Code: xfault.CodeTimeout, Err: err}
	case status >= http.StatusInternalServerError:
		return &xfault.Error{Kind: xfault.KindRemoteAPI, Code: xfault.CodeUnavailable, Err: err}
	}
	return &xfault.Error{Kind: xfault.KindRemoteAPI, Err: err}
}

func mentionsQuota(msg, code string) bool {
	s := strings.ToLower(msg + " " + code)
	for _, m := range quotaMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
