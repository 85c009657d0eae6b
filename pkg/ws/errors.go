package ws

import "github.com/tokmz/qiws/pkg/errors"

// 关闭类错误，Code 即关闭码
var (
	ErrGoingAway          = errors.New(CloseGoingAway, "server shutting down")
	ErrAuthTimeout        = errors.New(CloseAuthTimeout, "authentication timeout")
	ErrHeartbeatTimeout   = errors.New(CloseHeartbeatTimeout, "heartbeat timeout")
	ErrAuthRejected       = errors.New(CloseAuthRejected, "authentication failed")
	ErrEncryptionRequired = errors.New(CloseEncryptionRequired, "encryption required")
)

// 协议类错误，以 error 事件回复客户端，连接保持打开
var (
	ErrInvalidMessage       = errors.New(2001, "invalid message format")
	ErrNotAuthenticated     = errors.New(2002, "not authenticated")
	ErrAlreadyAuthenticated = errors.New(2003, "already authenticated")
	ErrAuthInProgress       = errors.New(2004, "authentication in progress")
	ErrUnknownEvent         = errors.New(2005, "unknown event")
	ErrInvalidRooms         = errors.New(2006, "invalid rooms payload")
	ErrInvalidRequest       = errors.New(2007, "invalid request data")
)

// 服务端错误
var (
	ErrInvalidConfig      = errors.New(2101, "ws: invalid config")
	ErrTooManyConnections = errors.New(2102, "ws: too many connections")
	ErrConnectionNotFound = errors.New(2103, "ws: connection not found")
	ErrServerClosed       = errors.New(2104, "ws: server closed")
	ErrHandlerExists      = errors.New(2105, "ws: handler already exists")
	ErrReservedEvent      = errors.New(2106, "ws: reserved event")
	ErrRouterFrozen       = errors.New(2107, "ws: router is frozen")
	ErrInternal           = errors.New(2108, "internal error")
	ErrConnectionExists   = errors.New(2109, "ws: connection id already exists")
	ErrEmitterClosed      = errors.New(2110, "ws: emitter closed")
)

// clientMessage 返回可以暴露给客户端的错误信息
// 只有协议类错误原样返回，其余一律替换为 internal error
func clientMessage(err error) string {
	var e *errors.Error
	if errors.As(err, &e) && e.Code >= 2000 && e.Code < 2100 {
		return e.Message
	}
	return ErrInternal.Message
}

// ProtocolError 构造可以回复给客户端的错误
// 处理器返回它时，message 会原样出现在 error 事件里
func ProtocolError(message string) error {
	return errors.New(2099, message)
}
