// Package bus 提供跨进程的发布/订阅客户端抽象及其驱动实现
//
// 支持的驱动：
//   - memory: 进程内总线，用于单机与测试
//   - redis: 基于 go-redis 的 PUBLISH / SUBSCRIBE / PSUBSCRIBE
//   - amqp: 基于 RabbitMQ topic exchange
//   - kafka: 基于 sarama 的单 topic 广播
//
// 每个 Client 都可以通过 Duplicate 复制出一条独立连接，
// 发布与订阅通常各自占用一条复制出的连接。
package bus

import "context"

// Message 总线消息
type Message struct {
	Channel string // 实际频道
	Pattern string // 命中的模式，精确订阅时为空
	Payload []byte // 消息体
}

// Handler 消息处理函数
// 同一订阅内的消息按到达顺序串行回调
type Handler func(Message)

// Subscription 订阅句柄
type Subscription interface {
	// Close 取消订阅并等待回调协程退出
	Close() error
}

// Client 总线客户端
type Client interface {
	// Publish 向频道发布消息
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe 订阅精确频道与通配模式，所有消息交给同一个 handler
	Subscribe(ctx context.Context, channels, patterns []string, handler Handler) (Subscription, error)

	// Duplicate 复制出一个使用独立连接的客户端
	Duplicate() (Client, error)

	// Ping 检查连接是否可用
	Ping(ctx context.Context) error

	// Close 关闭客户端及其所有订阅
	Close() error
}
