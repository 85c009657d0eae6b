package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// useRecorder 安装内存 Span 记录器
func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	for _, exporter := range []string{ExporterOTLP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop} {
		cfg.ExporterType = exporter
		assert.NoError(t, cfg.Validate(), exporter)
	}

	cfg.ExporterType = "zipkin"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SamplingRate = 2
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ServiceName = ""
	var ce *ConfigError
	assert.ErrorAs(t, cfg.Validate(), &ce)
}

func TestNewTracerProviderDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	recorder := tracetest.NewSpanRecorder()

	tp, err := NewTracerProvider(context.Background(), cfg,
		WithInstanceID("srv-1"),
		WithSpanProcessor(recorder),
		WithoutGlobal(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	assert.Equal(t, ExporterStdout, cfg.ExporterType, "config is not modified")

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	id, ok := spans[0].Resource().Set().Value(semconv.ServiceInstanceIDKey)
	require.True(t, ok)
	assert.Equal(t, "srv-1", id.AsString())
}

func TestNewTracerProviderInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SamplingType = "sometimes"
	_, err := NewTracerProvider(context.Background(), cfg)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestSampler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SamplingType = SamplingNever
	assert.Contains(t, newSampler(cfg).Description(), "AlwaysOffSampler")

	cfg.SamplingType = SamplingAlways
	assert.Contains(t, newSampler(cfg).Description(), "AlwaysOnSampler")

	t.Setenv("OTEL_TRACES_SAMPLER", "traceidratio")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")
	assert.Contains(t, newSampler(cfg).Description(), "0.5")
}

func TestParseResourceAttributes(t *testing.T) {
	attrs := parseResourceAttributes("region = eu, zone=a,broken")
	require.Len(t, attrs, 2)
	assert.Equal(t, "region", string(attrs[0].Key))
	assert.Equal(t, "eu", attrs[0].Value.AsString())
}

func TestSpanHelpers(t *testing.T) {
	recorder := useRecorder(t)

	ctx, span := StartSpan(context.Background(), "op")
	SetAttributes(span, map[string]any{"n": 1, "tags": []string{"a"}, "other": struct{}{}})
	AddEvent(span, "step", map[string]any{"ok": true})
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	assert.Equal(t, span, SpanFromContext(ctx))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Len(t, spans[0].Attributes(), 3)
}

func TestInjectExtract(t *testing.T) {
	recorder := useRecorder(t)

	assert.Nil(t, Inject(context.Background()))

	ctx, parent := StartSpan(context.Background(), "publish")
	carrier := Inject(ctx)
	require.Contains(t, carrier, "traceparent")
	parent.End()

	_, child := StartSpan(Extract(context.Background(), carrier), "receive")
	child.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[0].SpanContext().TraceID(), spans[1].SpanContext().TraceID())
	assert.Equal(t, spans[0].SpanContext().SpanID(), spans[1].Parent().SpanID())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := useRecorder(t)

	r := gin.New()
	r.Use(Middleware(WithFilter(func(c *gin.Context) bool {
		return c.Request.URL.Path != "/healthz"
	})))
	r.GET("/ws", func(c *gin.Context) {
		assert.True(t, SpanFromContext(c.Request.Context()).SpanContext().IsValid())
		c.Status(http.StatusInternalServerError)
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.NotEmpty(t, w.Header().Get("traceparent"))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /ws", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
