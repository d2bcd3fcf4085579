package xretry

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// MinDelay 退避延迟下限，避免接近零的等待
	MinDelay = 100 * time.Millisecond

	// JitterFraction 抖动幅度（±10%）
	JitterFraction = 0.1
)

// Policy 单个调用点的重试策略（不可变值）
type Policy struct {
	// MaxAttempts 最大重试次数（>= 1）
	MaxAttempts int `koanf:"max_attempts" json:"max_attempts"`
	// BaseDelay 首次退避延迟（> 0）
	BaseDelay time.Duration `koanf:"base_delay" json:"base_delay"`
	// Multiplier 退避乘数（> 1）
	Multiplier float64 `koanf:"multiplier" json:"multiplier"`
	// MaxDelay 退避延迟上限（>= BaseDelay）
	MaxDelay time.Duration `koanf:"max_delay" json:"max_delay"`
	// Jitter 是否添加 ±10% 抖动
	Jitter bool `koanf:"jitter" json:"jitter"`
}

// DefaultPolicy 默认策略：3 次，1s 起，翻倍，上限 30s，带抖动
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Validate 校验策略参数
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be >= 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	case p.BaseDelay <= 0:
		return fmt.Errorf("%w: base delay must be > 0, got %s", ErrInvalidPolicy, p.BaseDelay)
	case !(p.Multiplier > 1) || math.IsInf(p.Multiplier, 0):
		return fmt.Errorf("%w: multiplier must be > 1, got %v", ErrInvalidPolicy, p.Multiplier)
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("%w: max delay %s is below base delay %s", ErrInvalidPolicy, p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// Delay 返回第 attempt 次重试（从 0 开始）前的等待时间。
//
//	delay = min(BaseDelay * Multiplier^attempt, MaxDelay)
//
// 开启抖动时在 ±10% 内均匀扰动，随后下限为 MinDelay，最后以 MaxDelay 封顶。
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))

	// math.Pow 溢出为 +Inf，NaN 的所有比较都为 false，这两种情况都视为已达上限
	if math.IsNaN(delay) || math.IsInf(delay, 0) || delay >= float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay *= 1.0 + (randomFloat64()*2-1)*JitterFraction
	}
	// float64(MaxDelay) 可能向上取整超出 int64，转换前先封顶
	if math.IsNaN(delay) || delay < 0 || delay >= float64(p.MaxDelay) || delay >= float64(math.MaxInt64) {
		return p.MaxDelay
	}

	d := time.Duration(delay)
	if d < MinDelay {
		d = MinDelay
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

const (
	floatBits  = 53
	floatScale = 1.0 / (1 << floatBits)
)

func randomFloat64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand 失败时返回 0.5，即零抖动
		return 0.5
	}
	return float64(binary.LittleEndian.Uint64(buf[:])>>11) * floatScale
}
