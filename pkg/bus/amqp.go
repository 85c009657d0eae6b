package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channelHeader 承载完整频道名的消息头
const channelHeader = "x-channel"

// amqpClient RabbitMQ 总线实现
// 所有频道发布到同一个 topic exchange，routing key 取频道前两段（qiws:room:a -> qiws.room），
// 订阅端按 routing key 绑定后，再按 x-channel 头做精确/模式过滤
type amqpClient struct {
	cfg    *AMQPConfig
	conn   *amqp.Connection
	pubMu  sync.Mutex
	pubCh  *amqp.Channel
	closed atomic.Bool

	mu   sync.Mutex
	subs map[*amqpSubscription]struct{}
}

// newAMQPClient 连接 RabbitMQ 并声明 exchange
func newAMQPClient(cfg *AMQPConfig) (*amqpClient, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusConnection, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrBusConnection, err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrBusConnection, err)
	}

	return &amqpClient{
		cfg:   cfg,
		conn:  conn,
		pubCh: ch,
		subs:  make(map[*amqpSubscription]struct{}),
	}, nil
}

// routingKey 频道对应的 routing key
func routingKey(channel string) string {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, ".")
}

// bindingKey 订阅频道或模式对应的绑定键
func bindingKey(channelOrPattern string) string {
	key := routingKey(channelOrPattern)
	// 模式的通配落在前两段时退化为全量绑定，再由客户端过滤
	if strings.ContainsAny(key, "*?[") {
		return "#"
	}
	return key
}

// Publish 发布消息
func (a *amqpClient) Publish(ctx context.Context, channel string, payload []byte) error {
	if a.closed.Load() {
		return ErrBusClosed
	}

	a.pubMu.Lock()
	defer a.pubMu.Unlock()

	err := a.pubCh.PublishWithContext(ctx, a.cfg.Exchange, routingKey(channel), false, false, amqp.Publishing{
		Headers:     amqp.Table{channelHeader: channel},
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBusPublish, err)
	}
	return nil
}

// Subscribe 声明独占队列并按 routing key 绑定
func (a *amqpClient) Subscribe(ctx context.Context, channels, patterns []string, handler Handler) (Subscription, error) {
	if a.closed.Load() {
		return nil, ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusSubscribe, err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: %w", ErrBusSubscribe, err)
	}

	keys := make(map[string]struct{})
	for _, c := range channels {
		keys[bindingKey(c)] = struct{}{}
	}
	for _, p := range patterns {
		keys[bindingKey(p)] = struct{}{}
	}
	for key := range keys {
		if err := ch.QueueBind(q.Name, key, a.cfg.Exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%w: %w", ErrBusSubscribe, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: %w", ErrBusSubscribe, err)
	}

	s := &amqpSubscription{
		client: a,
		ch:     ch,
		exited: make(chan struct{}),
	}
	chans := append([]string(nil), channels...)
	pats := append([]string(nil), patterns...)
	go func() {
		defer close(s.exited)
		for d := range deliveries {
			channel, _ := d.Headers[channelHeader].(string)
			if channel == "" {
				continue
			}
			pattern, ok := matchAny(chans, pats, channel)
			if !ok {
				continue
			}
			handler(Message{Channel: channel, Pattern: pattern, Payload: d.Body})
		}
	}()

	a.mu.Lock()
	a.subs[s] = struct{}{}
	a.mu.Unlock()

	return s, nil
}

// Duplicate 建立一条新的 AMQP 连接
func (a *amqpClient) Duplicate() (Client, error) {
	if a.closed.Load() {
		return nil, ErrBusClosed
	}
	return newAMQPClient(a.cfg)
}

// Ping 检查连接
func (a *amqpClient) Ping(ctx context.Context) error {
	if a.closed.Load() || a.conn.IsClosed() {
		return ErrBusClosed
	}
	return nil
}

// Close 关闭连接及所有订阅
func (a *amqpClient) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	a.mu.Lock()
	subs := make([]*amqpSubscription, 0, len(a.subs))
	for s := range a.subs {
		subs = append(subs, s)
	}
	a.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	return a.conn.Close()
}

// amqpSubscription AMQP 订阅
type amqpSubscription struct {
	client    *amqpClient
	ch        *amqp.Channel
	exited    chan struct{}
	closeOnce sync.Once
	err       error
}

// Close 关闭消费 channel，独占队列随之删除
func (s *amqpSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.client.mu.Lock()
		delete(s.client.subs, s)
		s.client.mu.Unlock()

		s.err = s.ch.Close()
	})
	<-s.exited
	return s.err
}
