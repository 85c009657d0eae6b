package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{name: "memory", opts: []Option{WithMemory()}},
		{name: "redis standalone", opts: []Option{WithRedis(DefaultRedisConfig())}},
		{name: "redis nil", opts: []Option{WithRedis(nil)}, wantErr: true},
		{name: "redis cluster without addrs", opts: []Option{WithRedis(&RedisConfig{Mode: RedisCluster})}, wantErr: true},
		{name: "redis sentinel without master", opts: []Option{WithRedis(&RedisConfig{Mode: RedisSentinel, Addrs: []string{"a:1"}})}, wantErr: true},
		{name: "redis unknown mode", opts: []Option{WithRedis(&RedisConfig{Mode: "ring", Addr: "a:1"})}, wantErr: true},
		{name: "amqp", opts: []Option{WithAMQP(DefaultAMQPConfig())}},
		{name: "amqp without exchange", opts: []Option{WithAMQP(&AMQPConfig{URL: "amqp://x"})}, wantErr: true},
		{name: "kafka", opts: []Option{WithKafka(DefaultKafkaConfig())}},
		{name: "kafka without topic", opts: []Option{WithKafka(&KafkaConfig{Brokers: []string{"b:1"}})}, wantErr: true},
		{name: "bad timeout", opts: []Option{WithConnectTimeout(0)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			for _, opt := range tt.opts {
				opt(cfg)
			}
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBusInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}

	cfg := DefaultConfig()
	cfg.Driver = "nats"
	assert.ErrorIs(t, cfg.Validate(), ErrBusInvalidConfig)
}

func TestNewMemory(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryClient{}, c)
	require.NoError(t, c.Close())

	_, err = NewWithOptions(WithRedis(nil))
	assert.ErrorIs(t, err, ErrBusInvalidConfig)
}
