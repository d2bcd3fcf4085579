package xquota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xfunnel/internal/storageopt"
	"github.com/omeyang/xfunnel/pkg/observability/xlog"
	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
)

var (
	// ErrNilClient Redis 客户端为 nil
	ErrNilClient = errors.New("xquota: redis client cannot be nil")
	// ErrInvalidLimit 配额参数非法
	ErrInvalidLimit = errors.New("xquota: invalid limit")
	// ErrEmptyKey 配额键为空
	ErrEmptyKey = errors.New("xquota: key cannot be empty")
	// ErrExhausted 配额耗尽，Acquire 返回的限流故障包装此错误
	ErrExhausted = errors.New("xquota: quota exhausted")
)

// DefaultPrefix 默认键前缀
const DefaultPrefix = "xfunnel:quota"

// Limit 配额参数：每 Period 允许 Rate 次，Burst 为 0 时等于 Rate
type Limit struct {
	Rate   int           `koanf:"rate" json:"rate"`
	Burst  int           `koanf:"burst" json:"burst"`
	Period time.Duration `koanf:"period" json:"period"`
}

// Validate 校验配额参数
func (l Limit) Validate() error {
	if l.Rate <= 0 {
		return fmt.Errorf("%w: rate must be positive, got %d", ErrInvalidLimit, l.Rate)
	}
	if l.Period <= 0 {
		return fmt.Errorf("%w: period must be positive, got %s", ErrInvalidLimit, l.Period)
	}
	if l.Burst < 0 {
		return fmt.Errorf("%w: burst must not be negative, got %d", ErrInvalidLimit, l.Burst)
	}
	return nil
}

func (l Limit) toRedis() redis_rate.Limit {
	burst := l.Burst
	if burst == 0 {
		burst = l.Rate
	}
	return redis_rate.Limit{Rate: l.Rate, Burst: burst, Period: l.Period}
}

// Usage 配额使用情况
type Usage struct {
	Remaining int
	// ResetAfter 配额完全恢复所需时间
	ResetAfter time.Duration
}

// Option 配置选项
type Option func(*Gate)

// WithClock 注入时钟，用于计算 ResetAt
func WithClock(c clockwork.Clock) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(l xlog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithPrefix 设置键前缀
func WithPrefix(p string) Option {
	return func(g *Gate) {
		if p != "" {
			g.prefix = p
		}
	}
}

// Gate 配额闸门，并发安全
type Gate struct {
	limiter *redis_rate.Limiter
	limit   Limit
	prefix  string
	clock   clockwork.Clock
	logger  xlog.Logger
}

// New 创建配额闸门
func New(rdb redis.UniversalClient, limit Limit, opts ...Option) (*Gate, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	if err := limit.Validate(); err != nil {
		return nil, err
	}
	g := &Gate{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   limit,
		prefix:  DefaultPrefix,
		clock:   clockwork.NewRealClock(),
		logger:  xlog.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.logger = g.logger.With(xlog.Component("xquota"))
	return g, nil
}

// Limit 返回配额参数
func (g *Gate) Limit() Limit {
	return g.limit
}

func (g *Gate) key(k string) string {
	return g.prefix + ":" + k
}

// Acquire 消耗一次配额。
//
// 配额耗尽时返回 *xfault.Error（RateLimited，ResetAt = now + RetryAfter）；
// Redis 故障按 storageopt.TranslateRedis 翻译。
func (g *Gate) Acquire(ctx context.Context, key string) error {
	return g.AcquireN(ctx, key, 1)
}

// AcquireN 消耗 n 次配额
func (g *Gate) AcquireN(ctx context.Context, key string, n int) error {
	if key == "" {
		return ErrEmptyKey
	}
	res, err := g.limiter.AllowN(ctx, g.key(key), g.limit.toRedis(), n)
	if err != nil {
		return storageopt.TranslateRedis(err, "quota")
	}
	if res.Allowed >= n {
		return nil
	}

	resetAt := g.clock.Now().Add(res.RetryAfter)
	g.logger.Info(ctx, "quota exhausted",
		slog.String("key", key),
		slog.Duration("retry_after", res.RetryAfter))
	fe := xfault.RateLimited(fmt.Errorf("%w for %q", ErrExhausted, key), resetAt)
	fe.Message = fmt.Sprintf("generation quota reached, try again in %s", res.RetryAfter.Round(time.Second))
	return fe
}

// Usage 查询配额状态，不消耗配额
func (g *Gate) Usage(ctx context.Context, key string) (Usage, error) {
	if key == "" {
		return Usage{}, ErrEmptyKey
	}
	res, err := g.limiter.AllowN(ctx, g.key(key), g.limit.toRedis(), 0)
	if err != nil {
		return Usage{}, storageopt.TranslateRedis(err, "quota")
	}
	return Usage{Remaining: res.Remaining, ResetAfter: res.ResetAfter}, nil
}

// Reset 重置配额
func (g *Gate) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return storageopt.TranslateRedis(g.limiter.Reset(ctx, g.key(key)), "quota")
}
