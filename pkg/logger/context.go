package logger

import "context"

type contextKey string

const (
	connIDKey contextKey = "conn_id"
	userIDKey contextKey = "user_id"
)

// WithConnID 将连接 ID 写入 Context，*Context 日志方法会自动带上
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey, id)
}

// WithUserID 将用户 ID 写入 Context
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, userIDKey, uid)
}

// ConnIDFromContext 读取连接 ID
func ConnIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey).(string)
	return id
}

// UserIDFromContext 读取用户 ID
func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(userIDKey).(string)
	return uid
}
