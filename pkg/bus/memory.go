package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

const memoryQueueSize = 1024

// memoryBroker 进程内消息中枢，由同一来源复制出的客户端共享
type memoryBroker struct {
	mu   sync.RWMutex
	subs map[*memorySubscription]struct{}
}

// MemoryClient 进程内总线客户端
type MemoryClient struct {
	broker *memoryBroker
	closed atomic.Bool

	mu   sync.Mutex
	subs map[*memorySubscription]struct{}
}

// NewMemory 创建进程内总线
// 通过 Duplicate 复制出的客户端共享同一个中枢，可以模拟多实例共享总线
func NewMemory() *MemoryClient {
	return newMemoryClient(&memoryBroker{
		subs: make(map[*memorySubscription]struct{}),
	})
}

func newMemoryClient(b *memoryBroker) *MemoryClient {
	return &MemoryClient{
		broker: b,
		subs:   make(map[*memorySubscription]struct{}),
	}
}

// Publish 发布消息
func (c *MemoryClient) Publish(ctx context.Context, channel string, payload []byte) error {
	if c.closed.Load() {
		return ErrBusClosed
	}

	c.broker.mu.RLock()
	targets := make([]*memorySubscription, 0, len(c.broker.subs))
	for s := range c.broker.subs {
		targets = append(targets, s)
	}
	c.broker.mu.RUnlock()

	// 拷贝一份，避免订阅方修改发布方的缓冲区
	data := append([]byte(nil), payload...)
	for _, s := range targets {
		pattern, ok := matchAny(s.channels, s.patterns, channel)
		if !ok {
			continue
		}
		if err := s.enqueue(ctx, Message{Channel: channel, Pattern: pattern, Payload: data}); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe 订阅频道与模式
func (c *MemoryClient) Subscribe(ctx context.Context, channels, patterns []string, handler Handler) (Subscription, error) {
	if c.closed.Load() {
		return nil, ErrBusClosed
	}
	if handler == nil {
		return nil, ErrBusSubscribe.WithMessage("bus subscribe failed: nil handler")
	}

	s := &memorySubscription{
		client:   c,
		channels: append([]string(nil), channels...),
		patterns: append([]string(nil), patterns...),
		handler:  handler,
		queue:    make(chan Message, memoryQueueSize),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go s.loop()

	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	c.broker.mu.Lock()
	c.broker.subs[s] = struct{}{}
	c.broker.mu.Unlock()

	return s, nil
}

// Duplicate 复制客户端，共享同一中枢
func (c *MemoryClient) Duplicate() (Client, error) {
	if c.closed.Load() {
		return nil, ErrBusClosed
	}
	return newMemoryClient(c.broker), nil
}

// Ping 检查客户端状态
func (c *MemoryClient) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrBusClosed
	}
	return nil
}

// Close 关闭客户端及其订阅
func (c *MemoryClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	subs := make([]*memorySubscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}

// memorySubscription 进程内订阅
type memorySubscription struct {
	client   *MemoryClient
	channels []string
	patterns []string
	handler  Handler

	queue     chan Message
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscription) enqueue(ctx context.Context, msg Message) error {
	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		// 订阅已关闭，丢弃
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memorySubscription) loop() {
	defer close(s.exited)
	for {
		select {
		case msg := <-s.queue:
			s.handler(msg)
		case <-s.done:
			return
		}
	}
}

// Close 取消订阅
// 会等待回调协程退出，不能在 handler 内调用
func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		b := s.client.broker
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()

		s.client.mu.Lock()
		delete(s.client.subs, s)
		s.client.mu.Unlock()

		close(s.done)
	})
	<-s.exited
	return nil
}
