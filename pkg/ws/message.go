package ws

import "encoding/json"

// 保留事件名
const (
	EventAuthenticate = "authenticate" // 客户端 -> 服务端
	EventConnected    = "connected"    // 服务端 -> 客户端，认证成功
	EventError        = "error"        // 服务端 -> 客户端，{message}
	EventJoin         = "join"         // 客户端 -> 服务端，{rooms}
	EventLeave        = "leave"        // 客户端 -> 服务端，{rooms}
	EventJoined       = "joined"       // 服务端 -> 客户端，实际加入的房间
	EventLeft         = "left"         // 服务端 -> 客户端，实际离开的房间
	EventHeartbeat    = "heartbeat"    // 客户端 -> 服务端，仅刷新活跃时间
	EventEncrypted    = "encrypted"    // 加密后的出站消息
)

// 关闭码
const (
	CloseGoingAway          = 1001 // 服务关闭
	CloseAuthTimeout        = 4001 // 认证超时
	CloseHeartbeatTimeout   = 4002 // 心跳超时
	CloseAuthRejected       = 4003 // 认证失败
	CloseEncryptionRequired = 4004 // 要求加密但未建立
)

// MessageType 跨实例消息的投递范围
type MessageType string

const (
	MessageTypeClient    MessageType = "client"
	MessageTypeUser      MessageType = "user"
	MessageTypeRoom      MessageType = "room"
	MessageTypeBroadcast MessageType = "broadcast"
)

// Valid 是否为已知类型
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeClient, MessageTypeUser, MessageTypeRoom, MessageTypeBroadcast:
		return true
	}
	return false
}

// Envelope 客户端与服务端之间的消息
type Envelope struct {
	// Event 事件名称，不能为空
	Event string `json:"event"`

	// Data 消息数据（JSON）
	Data json.RawMessage `json:"data,omitempty"`

	// ID 可选的请求 ID，回复时原样带回
	ID string `json:"id,omitempty"`
}

// NewEnvelope 创建消息
func NewEnvelope(event string, data any) (*Envelope, error) {
	env := &Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	env.Data = b
	return env, nil
}

// DistributedEnvelope 总线上传递的消息
type DistributedEnvelope struct {
	OriginServerID string          `json:"originServerId"`
	MessageType    MessageType     `json:"messageType"`
	Target         string          `json:"target,omitempty"`
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data,omitempty"`
	Exclude        []string        `json:"exclude,omitempty"`

	// Trace W3C 追踪上下文（traceparent / tracestate）
	Trace map[string]string `json:"trace,omitempty"`
}

// Envelope 还原为本地投递的消息
func (d *DistributedEnvelope) Envelope() *Envelope {
	return &Envelope{Event: d.Event, Data: d.Data}
}

// ErrorData error 事件数据
type ErrorData struct {
	Message string `json:"message"`
}

// RoomsData join/leave/joined/left 事件数据
type RoomsData struct {
	Rooms []string `json:"rooms"`
}

// ConnectedData connected 事件数据
type ConnectedData struct {
	ID              string `json:"id"`
	UserID          string `json:"userId,omitempty"`
	Time            int64  `json:"time"` // 毫秒时间戳
	ServerPublicKey string `json:"serverPublicKey,omitempty"`
}

// Payload Send 的消息体，Topic 即事件名
type Payload struct {
	Topic string `json:"topic"`
	Data  any    `json:"data,omitempty"`
}
