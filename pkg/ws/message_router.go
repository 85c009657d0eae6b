package ws

import (
	"context"
	"encoding/json"
	"sync"
)

// Handler 应用事件处理器
type Handler func(ctx context.Context, c *Connection, env *Envelope) error

// NextFunc 中间件下一步函数
type NextFunc func() error

// MiddlewareFunc 中间件函数
type MiddlewareFunc func(ctx context.Context, c *Connection, env *Envelope, next NextFunc) error

// MessageRouter 应用事件路由器
// 只处理已认证连接发来的非保留事件
type MessageRouter struct {
	handlers   map[string]Handler
	middleware []MiddlewareFunc
	compiled   map[string]Handler // 预编译的处理器链
	mu         sync.RWMutex
	frozen     bool
}

// NewMessageRouter 创建路由器
func NewMessageRouter() *MessageRouter {
	return &MessageRouter{
		handlers: make(map[string]Handler),
	}
}

// isReserved 保留事件不能注册处理器
func isReserved(event string) bool {
	switch event {
	case EventAuthenticate, EventConnected, EventError, EventJoin, EventLeave,
		EventJoined, EventLeft, EventHeartbeat, EventEncrypted:
		return true
	}
	return false
}

// Register 注册处理器
func (r *MessageRouter) Register(event string, handler Handler) error {
	if isReserved(event) {
		return ErrReservedEvent
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRouterFrozen
	}
	if _, exists := r.handlers[event]; exists {
		return ErrHandlerExists
	}

	r.handlers[event] = handler
	return nil
}

// Use 添加中间件
func (r *MessageRouter) Use(middleware ...MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// Freeze 冻结路由器（启动后不可修改）
func (r *MessageRouter) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true

	r.compiled = make(map[string]Handler, len(r.handlers))
	for event, handler := range r.handlers {
		r.compiled[event] = buildChain(r.middleware, handler)
	}
}

// buildChain 从后向前构建中间件链
func buildChain(middleware []MiddlewareFunc, handler Handler) Handler {
	final := handler
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := final
		final = func(ctx context.Context, c *Connection, env *Envelope) error {
			return mw(ctx, c, env, func() error {
				return next(ctx, c, env)
			})
		}
	}
	return final
}

// Has 事件是否已注册
func (r *MessageRouter) Has(event string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[event]
	return ok
}

// Route 路由消息，没有处理器时返回 ErrUnknownEvent
func (r *MessageRouter) Route(ctx context.Context, c *Connection, env *Envelope) error {
	r.mu.RLock()
	if r.frozen {
		handler, exists := r.compiled[env.Event]
		r.mu.RUnlock()
		if !exists {
			return ErrUnknownEvent
		}
		return handler(ctx, c, env)
	}

	// 未冻结时动态构建
	handler, exists := r.handlers[env.Event]
	middleware := r.middleware
	r.mu.RUnlock()

	if !exists {
		return ErrUnknownEvent
	}
	return buildChain(middleware, handler)(ctx, c, env)
}

// HandlerFunc 泛型处理器函数（有请求有响应）
type HandlerFunc[Req any, Resp any] func(ctx context.Context, c *Connection, req *Req) (*Resp, error)

// HandlerFunc0 泛型处理器函数（有请求无响应）
type HandlerFunc0[Req any] func(ctx context.Context, c *Connection, req *Req) error

// Handle 注册泛型处理器，响应以同名事件回复并带回请求 id
func Handle[Req any, Resp any](s *Server, event string, handler HandlerFunc[Req, Resp]) error {
	return s.router.Register(event, func(ctx context.Context, c *Connection, env *Envelope) error {
		req, err := decodeRequest[Req](env)
		if err != nil {
			return err
		}

		resp, err := handler(ctx, c, req)
		if err != nil {
			return err
		}

		s.reply(ctx, c, event, resp, env.ID)
		return nil
	})
}

// Handle0 注册泛型处理器（有请求无响应）
func Handle0[Req any](s *Server, event string, handler HandlerFunc0[Req]) error {
	return s.router.Register(event, func(ctx context.Context, c *Connection, env *Envelope) error {
		req, err := decodeRequest[Req](env)
		if err != nil {
			return err
		}
		return handler(ctx, c, req)
	})
}

func decodeRequest[Req any](env *Envelope) (*Req, error) {
	var req Req
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return nil, ErrInvalidRequest.WithError(err)
		}
	}
	return &req, nil
}
