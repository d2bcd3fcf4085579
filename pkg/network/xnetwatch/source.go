package xnetwatch

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/omeyang/xfunnel/pkg/observability/xlog"
)

const (
	// DefaultInterval 默认探测间隔
	DefaultInterval = 10 * time.Second
	// DefaultSlowThreshold 往返时间超过该值视为慢速连接
	DefaultSlowThreshold = 800 * time.Millisecond
	// DefaultProbeTimeout DialProber 的默认超时
	DefaultProbeTimeout = 5 * time.Second
)

// Prober 主动探测连通性，返回往返时间
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// ProberFunc 函数适配器
type ProberFunc func(ctx context.Context) (time.Duration, error)

// Probe 实现 Prober
func (f ProberFunc) Probe(ctx context.Context) (time.Duration, error) {
	return f(ctx)
}

// DialProber 以 TCP 建连耗时作为往返时间
type DialProber struct {
	// Network 默认 "tcp"
	Network string
	// Addr host:port
	Addr string
	// Timeout 默认 DefaultProbeTimeout
	Timeout time.Duration
}

// Probe 实现 Prober
func (p DialProber) Probe(ctx context.Context) (time.Duration, error) {
	if p.Addr == "" {
		return 0, ErrNoAddress
	}
	network := p.Network
	if network == "" {
		network = "tcp"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	d := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := d.DialContext(ctx, network, p.Addr)
	if err != nil {
		return 0, fmt.Errorf("xnetwatch: probe %s: %w", p.Addr, err)
	}
	rtt := time.Since(start)
	_ = conn.Close()
	return rtt, nil
}

// Option 信号源配置选项
type Option func(*Source)

// WithClock 注入时钟
func WithClock(c clockwork.Clock) Option {
	return func(s *Source) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(l xlog.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProber 设置主动探测器
func WithProber(p Prober) Option {
	return func(s *Source) {
		s.prober = p
	}
}

// WithInterval 设置探测间隔，<= 0 时忽略
func WithInterval(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSlowThreshold 设置慢速阈值，<= 0 时忽略
func WithSlowThreshold(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.slowThreshold = d
		}
	}
}

// Source 网络信号源。并发安全，读取永不阻塞在 I/O 上。
type Source struct {
	clock         clockwork.Clock
	logger        xlog.Logger
	prober        Prober
	interval      time.Duration
	slowThreshold time.Duration

	mu        sync.Mutex
	status    Status
	listeners map[uint64]func(Status)
	nextID    uint64
	running   bool
	closed    bool
	stop      context.CancelFunc
}

// New 创建信号源，初始状态为在线、质量未知
func New(opts ...Option) *Source {
	s := &Source{
		clock:         clockwork.NewRealClock(),
		logger:        xlog.Discard(),
		interval:      DefaultInterval,
		slowThreshold: DefaultSlowThreshold,
		listeners:     make(map[uint64]func(Status)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With(xlog.Component("xnetwatch"))
	s.status = Status{Online: true, LastChangeAt: s.clock.Now()}
	return s
}

// Status 返回最近一次已知状态
func (s *Source) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsOnline 实现 xfault.Connectivity
func (s *Source) IsOnline() bool {
	return s.Status().Online
}

// SetOnline 输入在线/离线事件
func (s *Source) SetOnline(online bool) {
	s.update(func(st *Status) { st.Online = online })
}

// SetQuality 输入连接质量事件
func (s *Source) SetQuality(q Quality) {
	s.update(func(st *Status) { st.Quality = q })
}

// update 记录事件时间，仅在状态变化时通知订阅者
func (s *Source) update(apply func(*Status)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	before := s.status
	apply(&s.status)
	s.status.LastChangeAt = s.clock.Now()
	changed := before.Online != s.status.Online || before.Quality != s.status.Quality
	if !changed {
		s.mu.Unlock()
		return
	}
	snapshot := s.status
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.logger.Info(context.Background(), "network status changed",
		slog.Bool("online", snapshot.Online),
		slog.String("quality", string(snapshot.Quality)))
	for _, fn := range listeners {
		s.safeCall(fn, snapshot)
	}
}

// Subscribe 订阅状态变化，返回取消订阅函数（幂等）
func (s *Source) Subscribe(fn func(Status)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Source) listenersLocked() []func(Status) {
	out := make([]func(Status), 0, len(s.listeners))
	for id := uint64(1); id <= s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (s *Source) safeCall(fn func(Status), st Status) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(context.Background(), "status listener panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(st)
}

// Run 周期性探测，直到 ctx 结束或 Close。只能启动一次。
// 未配置 Prober 时只等待结束。ctx 结束视为正常退出，返回 nil。
func (s *Source) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.mu.Unlock()
	defer cancel()

	if s.prober == nil {
		<-ctx.Done()
		return nil
	}

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.probeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.probeOnce(ctx)
		}
	}
}

// Probe 立即探测一次并返回最新状态。未配置 Prober 时直接返回当前状态。
func (s *Source) Probe(ctx context.Context) Status {
	if s.prober != nil {
		s.probeOnce(ctx)
	}
	return s.Status()
}

func (s *Source) probeOnce(ctx context.Context) {
	rtt, err := s.prober.Probe(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.logger.Debug(ctx, "probe failed", xlog.Err(err))
		s.SetOnline(false)
		return
	}
	quality := QualityNormal
	if rtt >= s.slowThreshold {
		quality = QualitySlow
	}
	s.update(func(st *Status) {
		st.Online = true
		st.Quality = quality
	})
}

// Close 停止探测并移除订阅者。幂等。
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.stop != nil {
		s.stop()
	}
	s.listeners = make(map[uint64]func(Status))
}
