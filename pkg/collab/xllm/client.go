package xllm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sashabaranov/go-openai"

	"github.com/omeyang/xfunnel/pkg/observability/xlog"
	"github.com/omeyang/xfunnel/pkg/resilience/xbreaker"
	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
)

const (
	// DefaultModel 默认模型
	DefaultModel = openai.GPT4oMini
	// DefaultMaxTokens 默认最大输出 token 数
	DefaultMaxTokens = 1024
	// DefaultCooldown 429 未给出解除时间时的默认冷却时长
	DefaultCooldown = 30 * time.Second
)

// ChatCompleter Chat Completions 接口，*openai.Client 隐式实现
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Quota 生成配额检查，*xquota.Gate 隐式实现
type Quota interface {
	Acquire(ctx context.Context, key string) error
}

// Request 一次生成请求
type Request struct {
	// System 系统提示词（可选）
	System string
	// Prompt 用户提示词
	Prompt string
	// User 配额键（通常为用户 ID），为空时不检查配额
	User string
	// MaxTokens 为 0 时使用客户端默认值
	MaxTokens int
}

// Response 生成结果
type Response struct {
	Text         string
	Model        string
	FinishReason string
	PromptTokens int
	OutputTokens int
}

// Option 客户端配置选项
type Option func(*Client)

// WithModel 设置模型
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxTokens 设置默认最大输出 token 数
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTemperature 设置采样温度
func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

// WithCooldown 设置 429 的冷却时长
func WithCooldown(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.cooldown = d
		}
	}
}

// WithClock 注入时钟
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(l xlog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBreaker 替换默认熔断器
func WithBreaker(b *xbreaker.Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

// WithQuota 设置生成配额
func WithQuota(q Quota) Option {
	return func(c *Client) {
		c.quota = q
	}
}

// Client 语言模型客户端，并发安全
type Client struct {
	api         ChatCompleter
	model       string
	maxTokens   int
	temperature float32
	cooldown    time.Duration
	clock       clockwork.Clock
	logger      xlog.Logger
	breaker     *xbreaker.Breaker
	quota       Quota
}

// New 使用给定的 API 客户端创建
func New(api ChatCompleter, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, ErrNilAPI
	}
	c := &Client{
		api:         api,
		model:       DefaultModel,
		maxTokens:   DefaultMaxTokens,
		temperature: 0.7,
		cooldown:    DefaultCooldown,
		clock:       clockwork.NewRealClock(),
		logger:      xlog.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = c.logger.With(xlog.Component("xllm"))
	if c.breaker == nil {
		c.breaker = xbreaker.New("llm", xbreaker.WithLogger(c.logger))
	}
	return c, nil
}

// NewOpenAI 创建指向 OpenAI 兼容端点的客户端，baseURL 为空时使用官方地址
func NewOpenAI(apiKey, baseURL string, httpClient *http.Client, opts ...Option) (*Client, error) {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return New(openai.NewClientWithConfig(cfg), opts...)
}

// Breaker 返回熔断器
func (c *Client) Breaker() *xbreaker.Breaker {
	return c.breaker
}

// Generate 执行一次生成。失败时返回 *xfault.Error 或熔断器错误，不重试。
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, &xfault.Error{
			Kind: xfault.KindValidation, Code: xfault.CodeInvalidInput,
			Message: "prompt is required", Err: ErrEmptyPrompt,
		}
	}
	if c.quota != nil && req.User != "" {
		if err := c.quota.Acquire(ctx, req.User); err != nil {
			return Response{}, err
		}
	}

	chat := c.buildRequest(req)
	start := c.clock.Now()
	resp, err := xbreaker.Execute(ctx, c.breaker, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		resp, err := c.api.CreateChatCompletion(ctx, chat)
		if err != nil {
			return resp, translate(err, c.clock.Now(), c.cooldown)
		}
		if len(resp.Choices) == 0 {
			return resp, &xfault.Error{Kind: xfault.KindRemoteAPI, Err: ErrEmptyResponse}
		}
		return resp, nil
	})
	if err != nil {
		c.logger.Warn(ctx, "generation failed", xlog.Err(err), xlog.Code(xfault.CodeOf(err)))
		return Response{}, err
	}

	out := Response{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	c.logger.Debug(ctx, "generation completed",
		slog.String("model", out.Model),
		slog.Int("output_tokens", out.OutputTokens),
		xlog.Duration(c.clock.Since(start)))
	return out, nil
}

func (c *Client) buildRequest(req Request) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})
	return openai.ChatCompletionRequest{
		Model:               c.model,
		MaxCompletionTokens: maxTokens,
		Temperature:         c.temperature,
		Messages:            messages,
		User:                req.User,
	}
}

// GenerateFunnelCopy 为漏斗的一个步骤生成营销文案
func (c *Client) GenerateFunnelCopy(ctx context.Context, brief Brief) (Response, error) {
	prompt, err := brief.Render()
	if err != nil {
		return Response{}, err
	}
	return c.Generate(ctx, Request{System: funnelSystemPrompt, Prompt: prompt, User: brief.User})
}

// String 便于日志输出
func (r Response) String() string {
	return fmt.Sprintf("%s (%s, %d tokens)", r.Text, r.FinishReason, r.OutputTokens)
}
