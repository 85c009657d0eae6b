// Package metrics 提供 ws.Metrics 的 Prometheus 实现
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tokmz/qiws/pkg/ws"
)

// Config Prometheus 指标配置
type Config struct {
	Namespace   string            `mapstructure:"namespace"`
	Subsystem   string            `mapstructure:"subsystem"`
	ConstLabels prometheus.Labels `mapstructure:"const_labels"`

	// Registry 为空时使用 prometheus.DefaultRegisterer
	Registry prometheus.Registerer `mapstructure:"-"`
}

// Option 配置选项
type Option func(*Config)

// WithNamespace 设置命名空间
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem 设置子系统
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels 设置常量标签（例如实例名）
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry 设置注册器
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "qiws",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Prometheus ws.Metrics 实现
type Prometheus struct {
	connections     prometheus.Gauge
	connectsTotal   prometheus.Counter
	closedTotal     *prometheus.CounterVec
	authTotal       *prometheus.CounterVec
	messagesTotal   *prometheus.CounterVec
	invalidMessages prometheus.Counter
	rooms           prometheus.Gauge
	deliveriesTotal *prometheus.CounterVec
	droppedTotal    prometheus.Counter
	backpressure    prometheus.Counter
	busPublished    prometheus.Counter
	busReceived     prometheus.Counter
	busDiscarded    *prometheus.CounterVec
}

var _ ws.Metrics = (*Prometheus)(nil)

// New 创建并注册全部指标
// 同一注册器上重复创建会 panic，与 promauto 行为一致
func New(opts ...Option) *Prometheus {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig 使用配置创建
func NewWithConfig(cfg Config) *Prometheus {
	if cfg.Namespace == "" {
		cfg.Namespace = "qiws"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		})
	}

	return &Prometheus{
		connections:     gauge("connections", "Number of open WebSocket connections"),
		connectsTotal:   counter("connections_total", "Total number of accepted WebSocket connections"),
		closedTotal:     counterVec("closed_total", "Total number of closed connections by close code", "code"),
		authTotal:       counterVec("auth_total", "Total number of authentication attempts by result", "result"),
		messagesTotal:   counterVec("messages_total", "Total number of inbound messages by event", "event"),
		invalidMessages: counter("invalid_messages_total", "Total number of malformed inbound messages"),
		rooms:           gauge("rooms", "Number of rooms with local members"),
		deliveriesTotal: counterVec("deliveries_total", "Total number of local deliveries by scope and path", "scope", "path"),
		droppedTotal:    counter("dropped_messages_total", "Total number of frames dropped by the transport"),
		backpressure:    counter("backpressure_total", "Total number of sends that hit backpressure"),
		busPublished:    counter("bus_published_total", "Total number of envelopes published to the bus"),
		busReceived:     counter("bus_received_total", "Total number of envelopes received from the bus"),
		busDiscarded:    counterVec("bus_discarded_total", "Total number of bus envelopes discarded by reason", "reason"),
	}
}

func (p *Prometheus) IncrementConnections() {
	p.connections.Inc()
	p.connectsTotal.Inc()
}

func (p *Prometheus) DecrementConnections()        { p.connections.Dec() }
func (p *Prometheus) SetConnectionCount(count int) { p.connections.Set(float64(count)) }

func (p *Prometheus) IncrementClosed(code int) {
	p.closedTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (p *Prometheus) IncrementAuth(result string) { p.authTotal.WithLabelValues(result).Inc() }

func (p *Prometheus) IncrementMessageCount(event string) {
	p.messagesTotal.WithLabelValues(event).Inc()
}

func (p *Prometheus) IncrementInvalidMessages() { p.invalidMessages.Inc() }
func (p *Prometheus) SetRoomCount(count int)    { p.rooms.Set(float64(count)) }
func (p *Prometheus) IncrementDroppedMessages() { p.droppedTotal.Inc() }
func (p *Prometheus) IncrementBackpressure()    { p.backpressure.Inc() }
func (p *Prometheus) IncrementBusPublished()    { p.busPublished.Inc() }
func (p *Prometheus) IncrementBusReceived()     { p.busReceived.Inc() }

func (p *Prometheus) IncrementDelivery(scope ws.MessageType, path string) {
	p.deliveriesTotal.WithLabelValues(string(scope), path).Inc()
}

func (p *Prometheus) IncrementBusDiscarded(reason string) {
	p.busDiscarded.WithLabelValues(reason).Inc()
}
