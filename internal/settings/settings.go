// Package settings 定义 funnelctl 的应用配置及其到各组件参数的转换。
package settings

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/omeyang/xfunnel/pkg/collab/xquota"
	"github.com/omeyang/xfunnel/pkg/config/xconf"
	"github.com/omeyang/xfunnel/pkg/resilience/xbreaker"
	"github.com/omeyang/xfunnel/pkg/resilience/xretry"
)

// ErrInvalid 配置非法
var ErrInvalid = errors.New("settings: invalid configuration")

// ErrUnknownSite 未配置的调用点
var ErrUnknownSite = errors.New("settings: unknown site")

// Log 日志配置
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// File 为空时输出到 stderr
	File string `koanf:"file"`
}

// Network 网络探测配置
type Network struct {
	// ProbeAddr 为空时不主动探测
	ProbeAddr     string        `koanf:"probe_addr"`
	Interval      time.Duration `koanf:"interval"`
	Timeout       time.Duration `koanf:"timeout"`
	SlowThreshold time.Duration `koanf:"slow_threshold"`
}

// Fault 故障状态配置
type Fault struct {
	ValidationTTL time.Duration `koanf:"validation_ttl"`
	MaxAttempts   int           `koanf:"max_attempts"`
}

// Site 一个调用点的重试策略与单次超时
type Site struct {
	xretry.Policy `koanf:",squash"`
	// Timeout 单次尝试的超时，0 表示不限制
	Timeout time.Duration `koanf:"timeout"`
}

// LLM 语言模型配置
type LLM struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	// APIKeyEnv 读取 API Key 的环境变量名
	APIKeyEnv        string        `koanf:"api_key_env"`
	Cooldown         time.Duration `koanf:"cooldown"`
	BreakerFailures  uint32        `koanf:"breaker_failures"`
	BreakerOpenAfter time.Duration `koanf:"breaker_open_for"`
	// BreakerRatio > 0 时按失败率熔断，取代连续失败次数
	BreakerRatio       float64 `koanf:"breaker_ratio"`
	BreakerMinRequests uint32  `koanf:"breaker_min_requests"`
}

// TripPolicy 返回熔断判定策略
func (l LLM) TripPolicy() xbreaker.TripPolicy {
	if l.BreakerRatio > 0 {
		return xbreaker.NewFailureRatio(l.BreakerRatio, l.BreakerMinRequests)
	}
	return xbreaker.NewConsecutiveFailures(l.BreakerFailures)
}

// APIKey 从环境变量读取 API Key
func (l LLM) APIKey() string {
	if l.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(l.APIKeyEnv)
}

// Redis Redis 连接配置
type Redis struct {
	Addr   string `koanf:"addr"`
	DB     int    `koanf:"db"`
	Prefix string `koanf:"prefix"`
}

// Settings 应用配置
type Settings struct {
	Log     Log             `koanf:"log"`
	Network Network         `koanf:"network"`
	Fault   Fault           `koanf:"fault"`
	Sites   map[string]Site `koanf:"sites"`
	LLM     LLM             `koanf:"llm"`
	Redis   Redis           `koanf:"redis"`
	Quota   xquota.Limit    `koanf:"quota"`
}

// Default 返回默认配置
func Default() Settings {
	return Settings{
		Log:     Log{Level: "info", Format: "text"},
		Network: Network{Interval: 10 * time.Second, Timeout: 3 * time.Second, SlowThreshold: 800 * time.Millisecond},
		Fault:   Fault{ValidationTTL: 5 * time.Second, MaxAttempts: 3},
		Sites: map[string]Site{
			"llm":   {Policy: xretry.Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second, Jitter: true}, Timeout: 30 * time.Second},
			"store": {Policy: xretry.Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Second}, Timeout: 5 * time.Second},
		},
		LLM: LLM{
			Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY",
			Cooldown: 30 * time.Second, BreakerFailures: 5, BreakerOpenAfter: 30 * time.Second,
		},
		Redis: Redis{Addr: "127.0.0.1:6379", Prefix: "xfunnel"},
		Quota: xquota.Limit{Rate: 20, Period: time.Hour},
	}
}

// FromConfig 在默认值之上覆盖配置内容并校验。
// 文件中出现的调用点整体替换同名默认调用点。
func FromConfig(cfg *xconf.Config) (Settings, error) {
	s := Default()
	if err := cfg.Unmarshal("", &s); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Load 读取配置文件
func Load(path string) (Settings, *xconf.Config, error) {
	cfg, err := xconf.New(path)
	if err != nil {
		return Settings{}, nil, err
	}
	s, err := FromConfig(cfg)
	if err != nil {
		return Settings{}, nil, err
	}
	return s, cfg, nil
}

// Validate 校验配置
func (s Settings) Validate() error {
	var errs []error
	if s.Fault.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("fault.max_attempts must be >= 1, got %d", s.Fault.MaxAttempts))
	}
	if s.Fault.ValidationTTL < 0 {
		errs = append(errs, fmt.Errorf("fault.validation_ttl must not be negative"))
	}
	for _, name := range s.SiteNames() {
		site := s.Sites[name]
		if err := site.Policy.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sites.%s: %w", name, err))
		}
		if site.Timeout < 0 {
			errs = append(errs, fmt.Errorf("sites.%s.timeout must not be negative", name))
		}
	}
	if s.LLM.BreakerRatio < 0 || s.LLM.BreakerRatio > 1 {
		errs = append(errs, fmt.Errorf("llm.breaker_ratio must be within [0, 1], got %v", s.LLM.BreakerRatio))
	}
	if s.Quota.Rate > 0 {
		if err := s.Quota.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("quota: %w", err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// SiteNames 返回排序后的调用点名称
func (s Settings) SiteNames() []string {
	names := make([]string, 0, len(s.Sites))
	for name := range s.Sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Site 返回调用点配置
func (s Settings) Site(name string) (Site, error) {
	site, ok := s.Sites[name]
	if !ok {
		return Site{}, fmt.Errorf("%w: %q", ErrUnknownSite, name)
	}
	return site, nil
}

// Policy 返回调用点的重试策略
func (s Settings) Policy(name string) (xretry.Policy, error) {
	site, err := s.Site(name)
	if err != nil {
		return xretry.Policy{}, err
	}
	return site.Policy, nil
}
