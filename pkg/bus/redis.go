package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient Redis 总线实现
type redisClient struct {
	client         redis.UniversalClient
	cfg            *RedisConfig
	connectTimeout time.Duration
	closed         atomic.Bool

	mu   sync.Mutex
	subs map[*redisSubscription]struct{}
}

// newRedisClient 创建 Redis 总线客户端并测试连接
func newRedisClient(cfg *RedisConfig, connectTimeout time.Duration) (*redisClient, error) {
	client, err := newRedisUniversal(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrBusConnection, err)
	}

	return &redisClient{
		client:         client,
		cfg:            cfg,
		connectTimeout: connectTimeout,
		subs:           make(map[*redisSubscription]struct{}),
	}, nil
}

// newRedisUniversal 根据模式构建底层客户端（不发起连接）
func newRedisUniversal(cfg *RedisConfig) (redis.UniversalClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: redis config is required", ErrBusInvalidConfig)
	}

	switch cfg.Mode {
	case RedisStandalone, "":
		return redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}), nil

	case RedisCluster:
		if len(cfg.Addrs) == 0 {
			return nil, fmt.Errorf("%w: cluster mode requires addrs", ErrBusInvalidConfig)
		}
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}), nil

	case RedisSentinel:
		if len(cfg.Addrs) == 0 {
			return nil, fmt.Errorf("%w: sentinel mode requires addrs", ErrBusInvalidConfig)
		}
		if cfg.MasterName == "" {
			return nil, fmt.Errorf("%w: sentinel mode requires master name", ErrBusInvalidConfig)
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		}), nil

	default:
		return nil, fmt.Errorf("%w: unsupported redis mode: %s", ErrBusInvalidConfig, cfg.Mode)
	}
}

// Publish 发布消息
func (r *redisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	if r.closed.Load() {
		return ErrBusClosed
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBusPublish, err)
	}
	return nil
}

// Subscribe 订阅频道（SUBSCRIBE）与模式（PSUBSCRIBE）
func (r *redisClient) Subscribe(ctx context.Context, channels, patterns []string, handler Handler) (Subscription, error) {
	if r.closed.Load() {
		return nil, ErrBusClosed
	}

	ps := r.client.Subscribe(ctx)
	if len(channels) > 0 {
		if err := ps.Subscribe(ctx, channels...); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("%w: %w", ErrBusSubscribe, err)
		}
	}
	if len(patterns) > 0 {
		if err := ps.PSubscribe(ctx, patterns...); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("%w: %w", ErrBusSubscribe, err)
		}
	}

	s := &redisSubscription{
		client: r,
		ps:     ps,
		exited: make(chan struct{}),
	}
	go func() {
		defer close(s.exited)
		for msg := range ps.Channel() {
			handler(Message{
				Channel: msg.Channel,
				Pattern: msg.Pattern,
				Payload: []byte(msg.Payload),
			})
		}
	}()

	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()

	return s, nil
}

// Duplicate 以相同配置建立一条新连接
func (r *redisClient) Duplicate() (Client, error) {
	if r.closed.Load() {
		return nil, ErrBusClosed
	}
	return newRedisClient(r.cfg, r.connectTimeout)
}

// Ping 检查连接
func (r *redisClient) Ping(ctx context.Context) error {
	if r.closed.Load() {
		return ErrBusClosed
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBusConnection, err)
	}
	return nil
}

// Close 关闭连接及所有订阅
func (r *redisClient) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.Lock()
	subs := make([]*redisSubscription, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	return r.client.Close()
}

// redisSubscription Redis 订阅
type redisSubscription struct {
	client    *redisClient
	ps        *redis.PubSub
	exited    chan struct{}
	closeOnce sync.Once
	err       error
}

// Close 取消订阅
func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.client.mu.Lock()
		delete(s.client.subs, s)
		s.client.mu.Unlock()

		s.err = s.ps.Close()
	})
	<-s.exited
	return s.err
}
