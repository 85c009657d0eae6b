package logger

import "go.uber.org/zap/zapcore"

// Option 配置选项
type Option func(*Config)

func WithLevel(level Level) Option {
	return func(c *Config) { c.Level = level }
}

func WithFormat(format Format) Option {
	return func(c *Config) { c.Format = format }
}

func WithConsoleOutput() Option {
	return func(c *Config) { c.Console = true }
}

func WithFileOutput(filename string) Option {
	return func(c *Config) { c.File = filename }
}

// WithRotateOutput 按 lumberjack 轮转写文件，与 WithFileOutput 可同时使用
func WithRotateOutput(rotate *RotateConfig) Option {
	return func(c *Config) { c.Rotate = rotate }
}

// WithSampling 高频日志采样（大房间广播时的 debug 日志）
func WithSampling(sampling *SamplingConfig) Option {
	return func(c *Config) { c.Sampling = sampling }
}

func WithCaller(enable bool) Option {
	return func(c *Config) { c.EnableCaller = enable }
}

func WithStacktrace(enable bool) Option {
	return func(c *Config) { c.EnableStacktrace = enable }
}

func WithEncoderConfig(ec *zapcore.EncoderConfig) Option {
	return func(c *Config) { c.EncoderConfig = ec }
}
