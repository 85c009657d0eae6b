package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tokmz/qiws/pkg/bus"
	"github.com/tokmz/qiws/pkg/logger"
)

// Config 服务配置
type Config struct {
	// 生命周期
	AuthTimeout       time.Duration `mapstructure:"auth_timeout"`       // 认证超时
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"` // 心跳扫描间隔
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`  // 心跳超时

	// 连接
	MaxConnections int `mapstructure:"max_connections"` // 最大连接数，0 表示不限制

	// 房间
	MaxRoomNameLength int      `mapstructure:"max_room_name_length"` // 房间名最大长度
	DefaultRooms      []string `mapstructure:"default_rooms"`        // 认证成功后自动加入的房间

	// 投递
	DeliveryConcurrency int `mapstructure:"delivery_concurrency"` // 逐连接投递的并发窗口

	// 加密
	EncryptionRequired bool `mapstructure:"encryption_required"` // 强制每个连接完成握手

	// 总线
	Bus BusConfig `mapstructure:"bus"`

	// Upgrader 配置
	Upgrader UpgraderConfig `mapstructure:"upgrader"`

	// 回调
	Authenticate   AuthenticateFunc       `mapstructure:"-"` // 必填
	ValidateRoom   ValidateRoomFunc       `mapstructure:"-"` // 未设置时拒绝所有 join
	OnConnected    ClientConnectedFunc    `mapstructure:"-"`
	OnDisconnected ClientDisconnectedFunc `mapstructure:"-"`
	Handshake      HandshakeFunc          `mapstructure:"-"`
	Transform      OutboundTransformFunc  `mapstructure:"-"`

	// 协作者
	Transport Transport     `mapstructure:"-"` // 为空时使用内置 Hub
	BusClient bus.Client    `mapstructure:"-"` // 为空时单机运行
	Logger    logger.Logger `mapstructure:"-"`
	Metrics   Metrics       `mapstructure:"-"`
}

// BusConfig 总线桥接配置
type BusConfig struct {
	Prefix   string `mapstructure:"prefix"`   // 频道命名空间前缀
	Required bool   `mapstructure:"required"` // 必须配置总线客户端
}

// UpgraderConfig Upgrader 配置
type UpgraderConfig struct {
	ReadBufferSize    int                      `mapstructure:"read_buffer_size"`   // 读缓冲区大小
	WriteBufferSize   int                      `mapstructure:"write_buffer_size"`  // 写缓冲区大小
	EnableCompression bool                     `mapstructure:"enable_compression"` // 是否启用压缩
	AllowedOrigins    []string                 `mapstructure:"allowed_origins"`    // 允许的 Origin 白名单
	MaxMessageSize    int64                    `mapstructure:"max_message_size"`   // 最大入站消息
	SendQueueSize     int                      `mapstructure:"send_queue_size"`    // 发送队列长度
	WriteWait         time.Duration            `mapstructure:"write_wait"`         // 单次写超时
	CheckOrigin       func(*http.Request) bool `mapstructure:"-"`                  // Origin 检查函数
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		AuthTimeout:         5 * time.Second,
		HeartbeatInterval:   30 * time.Second,
		HeartbeatTimeout:    90 * time.Second,
		MaxRoomNameLength:   128,
		DeliveryConcurrency: 10,
		Bus: BusConfig{
			Prefix: "qiws:",
		},
		Upgrader: UpgraderConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			MaxMessageSize:  512 * 1024, // 512KB
			SendQueueSize:   256,
			WriteWait:       10 * time.Second,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Authenticate == nil {
		return fmt.Errorf("%w: Authenticate callback is required", ErrInvalidConfig)
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("%w: AuthTimeout must be positive, got %v", ErrInvalidConfig, c.AuthTimeout)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: HeartbeatInterval must be positive, got %v", ErrInvalidConfig, c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w: HeartbeatTimeout (%v) must be greater than HeartbeatInterval (%v)",
			ErrInvalidConfig, c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("%w: MaxConnections must not be negative, got %d", ErrInvalidConfig, c.MaxConnections)
	}
	if c.MaxRoomNameLength <= 0 {
		return fmt.Errorf("%w: MaxRoomNameLength must be positive, got %d", ErrInvalidConfig, c.MaxRoomNameLength)
	}
	if c.DeliveryConcurrency <= 0 {
		return fmt.Errorf("%w: DeliveryConcurrency must be positive, got %d", ErrInvalidConfig, c.DeliveryConcurrency)
	}

	// 加密
	if c.Handshake != nil && c.Transform == nil {
		return fmt.Errorf("%w: Handshake requires an outbound Transform", ErrInvalidConfig)
	}
	if c.EncryptionRequired && c.Handshake == nil {
		return fmt.Errorf("%w: EncryptionRequired needs a Handshake callback", ErrInvalidConfig)
	}

	// 总线
	if c.Bus.Prefix == "" {
		return fmt.Errorf("%w: Bus.Prefix must not be empty", ErrInvalidConfig)
	}
	if c.Bus.Required && c.BusClient == nil {
		return fmt.Errorf("%w: bus client is required", ErrInvalidConfig)
	}

	// Upgrader
	if c.Upgrader.ReadBufferSize <= 0 {
		return fmt.Errorf("%w: Upgrader.ReadBufferSize must be positive, got %d", ErrInvalidConfig, c.Upgrader.ReadBufferSize)
	}
	if c.Upgrader.WriteBufferSize <= 0 {
		return fmt.Errorf("%w: Upgrader.WriteBufferSize must be positive, got %d", ErrInvalidConfig, c.Upgrader.WriteBufferSize)
	}
	if c.Upgrader.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: Upgrader.MaxMessageSize must be positive, got %d", ErrInvalidConfig, c.Upgrader.MaxMessageSize)
	}
	if c.Upgrader.SendQueueSize <= 0 {
		return fmt.Errorf("%w: Upgrader.SendQueueSize must be positive, got %d", ErrInvalidConfig, c.Upgrader.SendQueueSize)
	}
	if c.Upgrader.WriteWait <= 0 {
		return fmt.Errorf("%w: Upgrader.WriteWait must be positive, got %v", ErrInvalidConfig, c.Upgrader.WriteWait)
	}

	return nil
}

// Option 配置选项
type Option func(*Config)

// WithConfig 以给定配置为基础（通常来自配置文件）
// 只覆盖可序列化字段，回调与协作者保持不变
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		c.AuthTimeout = cfg.AuthTimeout
		c.HeartbeatInterval = cfg.HeartbeatInterval
		c.HeartbeatTimeout = cfg.HeartbeatTimeout
		c.MaxConnections = cfg.MaxConnections
		c.MaxRoomNameLength = cfg.MaxRoomNameLength
		c.DefaultRooms = cfg.DefaultRooms
		c.DeliveryConcurrency = cfg.DeliveryConcurrency
		c.EncryptionRequired = cfg.EncryptionRequired
		c.Bus = cfg.Bus
		checkOrigin := c.Upgrader.CheckOrigin
		c.Upgrader = cfg.Upgrader
		if c.Upgrader.CheckOrigin == nil {
			c.Upgrader.CheckOrigin = checkOrigin
		}
	}
}

// WithAuthenticate 设置认证回调
func WithAuthenticate(fn AuthenticateFunc) Option {
	return func(c *Config) {
		c.Authenticate = fn
	}
}

// WithValidateRoom 设置房间校验回调
func WithValidateRoom(fn ValidateRoomFunc) Option {
	return func(c *Config) {
		c.ValidateRoom = fn
	}
}

// WithOnConnected 设置认证成功回调
func WithOnConnected(fn ClientConnectedFunc) Option {
	return func(c *Config) {
		c.OnConnected = fn
	}
}

// WithOnDisconnected 设置断开回调
func WithOnDisconnected(fn ClientDisconnectedFunc) Option {
	return func(c *Config) {
		c.OnDisconnected = fn
	}
}

// WithEncryption 设置握手与出站转换
func WithEncryption(handshake HandshakeFunc, transform OutboundTransformFunc, required bool) Option {
	return func(c *Config) {
		c.Handshake = handshake
		c.Transform = transform
		c.EncryptionRequired = required
	}
}

// WithTransform 只设置出站转换
func WithTransform(fn OutboundTransformFunc) Option {
	return func(c *Config) {
		c.Transform = fn
	}
}

// WithAuthTimeout 设置认证超时
func WithAuthTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.AuthTimeout = d
	}
}

// WithHeartbeat 设置心跳扫描间隔与超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatTimeout = timeout
	}
}

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithDefaultRooms 设置默认房间
func WithDefaultRooms(rooms ...string) Option {
	return func(c *Config) {
		c.DefaultRooms = rooms
	}
}

// WithDeliveryConcurrency 设置逐连接投递并发窗口
func WithDeliveryConcurrency(n int) Option {
	return func(c *Config) {
		c.DeliveryConcurrency = n
	}
}

// WithBus 设置总线客户端
func WithBus(client bus.Client) Option {
	return func(c *Config) {
		c.BusClient = client
	}
}

// WithBusPrefix 设置频道前缀
func WithBusPrefix(prefix string) Option {
	return func(c *Config) {
		c.Bus.Prefix = prefix
	}
}

// WithBusRequired 要求必须配置总线
func WithBusRequired(required bool) Option {
	return func(c *Config) {
		c.Bus.Required = required
	}
}

// WithTransport 设置本地主题发布器
func WithTransport(t Transport) Option {
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

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithCheckOrigin 设置 Origin 检查函数
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *Config) {
		c.Upgrader.CheckOrigin = fn
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
// 示例：WithCheckOriginWhitelist([]string{"https://example.com", "https://app.example.com"})
func WithCheckOriginWhitelist(allowedOrigins []string) Option {
	return func(c *Config) {
		c.Upgrader.AllowedOrigins = allowedOrigins
		c.Upgrader.CheckOrigin = createWhitelistChecker(allowedOrigins)
	}
}

// WithAllowAllOrigins 允许所有来源（仅用于开发环境，生产环境禁用）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.Upgrader.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}
