package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ProviderOption TracerProvider 选项
type ProviderOption func(*providerOptions)

type providerOptions struct {
	instanceID string
	processors []trace.SpanProcessor
	global     bool
}

// WithInstanceID 设置 service.instance.id，通常是 ws 服务实例 id
// 多实例共享总线时用于区分 span 来自哪个实例
func WithInstanceID(id string) ProviderOption {
	return func(o *providerOptions) {
		o.instanceID = id
	}
}

// WithSpanProcessor 追加 span 处理器（测试中挂 SpanRecorder）
func WithSpanProcessor(sp trace.SpanProcessor) ProviderOption {
	return func(o *providerOptions) {
		o.processors = append(o.processors, sp)
	}
}

// WithoutGlobal 不替换全局 TracerProvider 与 Propagator
func WithoutGlobal() ProviderOption {
	return func(o *providerOptions) {
		o.global = false
	}
}

// NewTracerProvider 创建 TracerProvider，默认同时设为全局
// 禁用追踪时使用 noop 导出器，span 仍会创建以便传播 trace context
func NewTracerProvider(ctx context.Context, cfg *Config, opts ...ProviderOption) (*trace.TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := providerOptions{global: true}
	for _, opt := range opts {
		opt(&o)
	}

	kind := cfg.ExporterType
	if !cfg.Enabled {
		kind = ExporterNoop
	}
	exporter, err := newExporter(ctx, kind, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := newResource(ctx, cfg, o.instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tpOpts := []trace.TracerProviderOption{
		trace.WithSampler(newSampler(cfg)),
		trace.WithResource(res),
		trace.WithSpanProcessor(trace.NewBatchSpanProcessor(
			exporter,
			trace.WithBatchTimeout(cfg.BatchTimeout),
			trace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			trace.WithMaxQueueSize(cfg.MaxQueueSize),
		)),
	}
	for _, sp := range o.processors {
		tpOpts = append(tpOpts, trace.WithSpanProcessor(sp))
	}
	tp := trace.NewTracerProvider(tpOpts...)

	if o.global {
		otel.SetTracerProvider(tp)
		// 总线信封与 webhook 请求都按 W3C Trace Context 传播
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	return tp, nil
}

func newResource(ctx context.Context, cfg *Config, instanceID string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}
	if instanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceIDKey.String(instanceID))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	if env := os.Getenv("OTEL_RESOURCE_ATTRIBUTES"); env != "" {
		attrs = append(attrs, parseResourceAttributes(env)...)
	}

	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
	)
}

// parseResourceAttributes 解析 key1=value1,key2=value2，忽略不成对的项
func parseResourceAttributes(s string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		attrs = append(attrs, attribute.String(strings.TrimSpace(k), strings.TrimSpace(v)))
	}
	return attrs
}
