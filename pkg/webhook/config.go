package webhook

import (
	"net/http"
	"time"

	"github.com/tokmz/qiws/pkg/logger"
)

// Config 回调配置
type Config struct {
	AuthURL  string            `mapstructure:"auth_url"`  // 认证回调地址（必填）
	RoomsURL string            `mapstructure:"rooms_url"` // 房间校验回调地址，为空时不校验房间
	Headers  map[string]string `mapstructure:"headers"`   // 附加请求头（如服务间令牌）
	Timeout  time.Duration     `mapstructure:"timeout"`   // 单次请求超时（默认 3s）

	Retry RetryConfig `mapstructure:"retry"`

	Transport http.RoundTripper `mapstructure:"-"` // 为空时使用 http.DefaultTransport
	Logger    logger.Logger     `mapstructure:"-"`
}

// RetryConfig 重试配置，只对网络错误与 5xx 生效
type RetryConfig struct {
	MaxAttempts  uint          `mapstructure:"max_attempts"`  // 最大尝试次数（默认 3，含首次）
	InitialDelay time.Duration `mapstructure:"initial_delay"` // 初始退避（默认 100ms）
	MaxDelay     time.Duration `mapstructure:"max_delay"`     // 最大退避（默认 2s）
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Timeout: 3 * time.Second,
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
	}
}

// Option 配置选项
type Option func(*Config)

// WithAuthURL 设置认证回调地址
func WithAuthURL(url string) Option {
	return func(c *Config) {
		c.AuthURL = url
	}
}

// WithRoomsURL 设置房间校验回调地址
func WithRoomsURL(url string) Option {
	return func(c *Config) {
		c.RoomsURL = url
	}
}

// WithHeader 添加请求头
func WithHeader(key, value string) Option {
	return func(c *Config) {
		if c.Headers == nil {
			c.Headers = make(map[string]string)
		}
		c.Headers[key] = value
	}
}

// WithTimeout 设置单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithRetry 设置重试
func WithRetry(cfg RetryConfig) Option {
	return func(c *Config) {
		c.Retry = cfg
	}
}

// WithTransport 设置底层 RoundTripper
func WithTransport(t http.RoundTripper) Option {
	return func(c *Config) {
		c.Transport = t
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.AuthURL == "" {
		return ErrInvalidConfig.WithMessage("webhook: auth url is required")
	}
	if c.Timeout <= 0 {
		return ErrInvalidConfig.WithMessage("webhook: timeout must be positive")
	}
	return nil
}

// normalize 填充零值重试字段
func (r *RetryConfig) normalize() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = 100 * time.Millisecond
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 2 * time.Second
	}
}
