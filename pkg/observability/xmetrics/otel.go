package xmetrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultInstrumentationName = "github.com/omeyang/xfunnel/xmetrics"

	// MetricRetryAttempts 尝试次数计数器，维度 site/outcome。
	MetricRetryAttempts = "xfunnel.retry.attempts"
	// MetricRetryDelay 退避等待时长直方图（秒），维度 site。
	MetricRetryDelay = "xfunnel.retry.delay"
	// MetricFaultRecorded 故障记录计数器，维度 kind。
	MetricFaultRecorded = "xfunnel.fault.recorded"

	unknownSite = "unknown"
)

type otelConfig struct {
	instrumentationName string
	meterProvider       metric.MeterProvider
	tracerProvider      trace.TracerProvider
}

// Option 定义 OTel Recorder 与 Observer 共用的配置选项。
type Option func(*otelConfig)

// WithInstrumentationName 设置 OTel instrumentation 名称，空值忽略。
func WithInstrumentationName(name string) Option {
	return func(cfg *otelConfig) {
		if name != "" {
			cfg.instrumentationName = name
		}
	}
}

// WithMeterProvider 设置 MeterProvider，nil 忽略（使用全局 provider）。
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(cfg *otelConfig) {
		if provider != nil {
			cfg.meterProvider = provider
		}
	}
}

type otelRecorder struct {
	attempts metric.Int64Counter
	delay    metric.Float64Histogram
	faults   metric.Int64Counter
}

// NewOTelRecorder 创建基于 OpenTelemetry 的 Recorder。
func NewOTelRecorder(opts ...Option) (Recorder, error) {
	cfg := &otelConfig{
		instrumentationName: defaultInstrumentationName,
		meterProvider:       otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	meter := cfg.meterProvider.Meter(cfg.instrumentationName)

	attempts, err := meter.Int64Counter(
		MetricRetryAttempts,
		metric.WithDescription("retry attempts by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("xmetrics: create counter failed: %w", err)
	}

	delay, err := meter.Float64Histogram(
		MetricRetryDelay,
		metric.WithDescription("backoff delay before a retry"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("xmetrics: create histogram failed: %w", err)
	}

	faults, err := meter.Int64Counter(
		MetricFaultRecorded,
		metric.WithDescription("classified failures"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("xmetrics: create counter failed: %w", err)
	}

	return &otelRecorder{attempts: attempts, delay: delay, faults: faults}, nil
}

func (r *otelRecorder) Attempt(ctx context.Context, site string, outcome Outcome) {
	r.attempts.Add(normalizeCtx(ctx), 1, metric.WithAttributes(
		attribute.String("site", siteOrUnknown(site)),
		attribute.String("outcome", string(outcome)),
	))
}

func (r *otelRecorder) Delay(ctx context.Context, site string, d time.Duration) {
	r.delay.Record(normalizeCtx(ctx), d.Seconds(), metric.WithAttributes(
		attribute.String("site", siteOrUnknown(site)),
	))
}

func (r *otelRecorder) Fault(ctx context.Context, kind string) {
	r.faults.Add(normalizeCtx(ctx), 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

func normalizeCtx(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func siteOrUnknown(site string) string {
	if site == "" {
		return unknownSite
	}
	return site
}
