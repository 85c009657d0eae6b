package ws

// ConnState 连接状态
type ConnState int32

const (
	// StateUnauthorized 已升级，等待 authenticate
	StateUnauthorized ConnState = iota
	// StateAuthenticating 认证回调执行中
	StateAuthenticating
	// StateAuthenticated 已认证，可加入房间、接收投递
	StateAuthenticated
	// StateDisconnected 已断开（终态）
	StateDisconnected
)

// String 返回状态名
func (s ConnState) String() string {
	switch s {
	case StateUnauthorized:
		return "UNAUTHORIZED"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// transition 判断状态迁移是否合法
// UNAUTHORIZED -> AUTHENTICATING -> AUTHENTICATED，任意非终态 -> DISCONNECTED
func transition(from, to ConnState) bool {
	if from == StateDisconnected {
		return false
	}
	switch to {
	case StateAuthenticating:
		return from == StateUnauthorized
	case StateAuthenticated:
		return from == StateAuthenticating
	case StateDisconnected:
		return true
	default:
		return false
	}
}
