package tracing

import (
	"os"
	"strconv"

	"go.opentelemetry.io/otel/sdk/trace"
)

// 采样策略
const (
	SamplingAlways      = "always"
	SamplingNever       = "never"
	SamplingRatio       = "ratio"
	SamplingParentBased = "parent_based"
)

// newSampler 创建采样器，OTEL_TRACES_SAMPLER 优先于配置
// parent_based 下跨实例的总线消息沿用发送方的采样决定
func newSampler(cfg *Config) trace.Sampler {
	if name := os.Getenv("OTEL_TRACES_SAMPLER"); name != "" {
		return envSampler(name, envRatio())
	}

	switch cfg.SamplingType {
	case SamplingAlways:
		return trace.AlwaysSample()
	case SamplingNever:
		return trace.NeverSample()
	case SamplingRatio:
		return trace.TraceIDRatioBased(cfg.SamplingRate)
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(cfg.SamplingRate))
	}
}

// envSampler OTEL_TRACES_SAMPLER 取值，未知取值按 parentbased_always_on
func envSampler(name string, ratio float64) trace.Sampler {
	switch name {
	case "always_on":
		return trace.AlwaysSample()
	case "always_off":
		return trace.NeverSample()
	case "traceidratio":
		return trace.TraceIDRatioBased(ratio)
	case "parentbased_always_off":
		return trace.ParentBased(trace.NeverSample())
	case "parentbased_traceidratio":
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	default:
		return trace.ParentBased(trace.AlwaysSample())
	}
}

// envRatio OTEL_TRACES_SAMPLER_ARG，缺失或越界时为 1
func envRatio() float64 {
	ratio, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1
	}
	return ratio
}
