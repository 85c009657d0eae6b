package app

import (
	"time"

	"github.com/gin-gonic/gin"
)

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":8080"
	Addr string `mapstructure:"addr"`

	// ReadTimeout 读取超时（只作用于升级前的 HTTP 阶段）
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout 写入超时，升级后的连接由 gorilla 清除
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout 空闲超时
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// MaxHeaderBytes 最大请求头字节数
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// ShutdownConfig 关机配置
type ShutdownConfig struct {
	// Timeout 关机超时时间，默认 10 秒
	Timeout time.Duration `mapstructure:"timeout"`

	// BeforeShutdown 关机前回调
	BeforeShutdown func() `mapstructure:"-"`

	// AfterShutdown 关机后回调
	AfterShutdown func() `mapstructure:"-"`
}

// RateLimitConfig 升级请求限流（按客户端 IP）
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"` // 默认 10
	Burst             int           `mapstructure:"burst"`               // 默认 20
	BucketExpiry      time.Duration `mapstructure:"bucket_expiry"`       // 无访问多久后清理，默认 10 分钟
}

// Config 宿主配置
type Config struct {
	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`

	Server   ServerConfig   `mapstructure:"server"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`

	// Path WebSocket 端点
	Path string `mapstructure:"path"`

	// TrustedProxies 信任的代理 IP
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// AccessLog 是否记录 HTTP 访问日志
	AccessLog bool `mapstructure:"access_log"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Banner 启动时打印 banner 与路由表
	Banner bool `mapstructure:"banner"`
}

// Option 配置选项函数
type Option func(*Config)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Mode: gin.ReleaseMode,
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
		},
		Shutdown: ShutdownConfig{
			Timeout: 10 * time.Second,
		},
		Path:      "/ws",
		AccessLog: true,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			BucketExpiry:      10 * time.Minute,
		},
		Banner: true,
	}
}

// WithMode 设置运行模式
func WithMode(mode string) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithAddr 设置监听地址
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Server.Addr = addr
	}
}

// WithPath 设置 WebSocket 端点
func WithPath(path string) Option {
	return func(c *Config) {
		c.Path = path
	}
}

// WithShutdownTimeout 设置关机超时
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Shutdown.Timeout = timeout
	}
}

// WithBeforeShutdown 设置关机前回调
func WithBeforeShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.BeforeShutdown = fn
	}
}

// WithAfterShutdown 设置关机后回调
func WithAfterShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.AfterShutdown = fn
	}
}

// WithRateLimit 启用升级限流
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.RequestsPerSecond = rps
		c.RateLimit.Burst = burst
	}
}

// WithTrustedProxies 设置信任的代理
func WithTrustedProxies(proxies ...string) Option {
	return func(c *Config) {
		c.TrustedProxies = proxies
	}
}

// WithBanner 是否打印 banner
func WithBanner(enable bool) Option {
	return func(c *Config) {
		c.Banner = enable
	}
}

// WithAccessLog 是否记录访问日志
func WithAccessLog(enable bool) Option {
	return func(c *Config) {
		c.AccessLog = enable
	}
}
