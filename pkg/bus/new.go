package bus

import "fmt"

// New 创建总线客户端
func New(cfg *Config) (Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverRedis:
		return newRedisClient(cfg.Redis, cfg.ConnectTimeout)
	case DriverAMQP:
		return newAMQPClient(cfg.AMQP)
	case DriverKafka:
		return newKafkaClient(cfg.Kafka)
	default:
		return nil, fmt.Errorf("%w: unsupported driver: %s", ErrBusInvalidConfig, cfg.Driver)
	}
}

// NewWithOptions 使用 Options 模式创建总线客户端
func NewWithOptions(opts ...Option) (Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg)
}
