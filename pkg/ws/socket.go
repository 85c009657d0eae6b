package ws

// SendStatus 单次发送结果
//   - > 0 已写入或已排队
//   - = 0 连接已关闭，消息丢弃
//   - < 0 出现背压，消息可能被丢弃，等待 Drain 通知
type SendStatus int

const (
	SendBackpressure SendStatus = -1
	SendDropped      SendStatus = 0
	SendOK           SendStatus = 1
)

// Socket 已升级的连接句柄
type Socket interface {
	// Send 发送一帧文本消息
	Send(data []byte) SendStatus

	// Subscribe 订阅本地主题，返回是否新订阅
	Subscribe(topic string) bool

	// Unsubscribe 取消订阅本地主题，返回之前是否已订阅
	Unsubscribe(topic string) bool

	// Close 以关闭码关闭连接
	Close(code int, reason string)

	// RemoteAddr 远端地址
	RemoteAddr() string
}

// Transport 进程内主题发布，一次调用送达所有订阅了该主题的本地连接
type Transport interface {
	Publish(topic string, data []byte)
}

// 本地主题
const broadcastTopic = "broadcast"

func clientTopic(id string) string { return "client:" + id }

func roomTopic(name string) string { return "room:" + name }
