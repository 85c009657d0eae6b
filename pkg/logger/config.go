package logger

import "go.uber.org/zap/zapcore"

// Config 日志配置
type Config struct {
	// 基础配置
	Level  Level  `mapstructure:"level"`  // 日志级别（默认 InfoLevel）
	Format Format `mapstructure:"format"` // 日志格式（json/console，默认 json）

	// 输出配置
	Console bool          `mapstructure:"console"` // 是否输出到控制台（未配置任何输出时默认 true）
	File    string        `mapstructure:"file"`    // 文件路径（空则不输出到文件）
	Rotate  *RotateConfig `mapstructure:"rotate"`  // 轮转配置（nil 则不轮转）

	// 性能配置
	Sampling *SamplingConfig `mapstructure:"sampling"` // 采样配置（nil 则不采样）

	// 功能配置
	EnableCaller     bool `mapstructure:"caller"`     // 是否记录调用位置
	EnableStacktrace bool `mapstructure:"stacktrace"` // 是否记录堆栈（Error 及以上）

	// 扩展配置
	EncoderConfig *zapcore.EncoderConfig `mapstructure:"-"` // 自定义 Encoder 配置
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	// 没有任何输出时回退到控制台
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
}
