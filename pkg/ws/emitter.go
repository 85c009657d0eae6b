package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tokmz/qiws/pkg/bus"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/tracing"
)

// EmitterOrigin Emitter 发布时使用的来源标识，不会与任何服务实例的 id 相同
const EmitterOrigin = "emitter"

// Emitter 只发布不订阅的总线客户端
// 供没有本地连接的进程（定时任务、后台服务）向在线客户端推送消息
type Emitter struct {
	ch  channels
	pub bus.Client
	log logger.Logger

	mu     sync.Mutex
	closed bool
}

// EmitterOption Emitter 选项
type EmitterOption func(*Emitter)

// WithEmitterPrefix 设置频道前缀，需与服务端 Bus.Prefix 一致
func WithEmitterPrefix(prefix string) EmitterOption {
	return func(e *Emitter) {
		e.ch.prefix = prefix
	}
}

// WithEmitterLogger 设置日志
func WithEmitterLogger(l logger.Logger) EmitterOption {
	return func(e *Emitter) {
		e.log = l
	}
}

// NewEmitter 复制一条独立的发布连接
func NewEmitter(client bus.Client, opts ...EmitterOption) (*Emitter, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: bus client is required", ErrInvalidConfig)
	}

	e := &Emitter{
		ch:  channels{prefix: DefaultConfig().Bus.Prefix},
		log: logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ch.prefix == "" {
		return nil, fmt.Errorf("%w: emitter prefix must not be empty", ErrInvalidConfig)
	}

	pub, err := client.Duplicate()
	if err != nil {
		return nil, fmt.Errorf("duplicate publisher: %w", err)
	}
	e.pub = pub
	return e, nil
}

// ToClient 发送给指定连接
func (e *Emitter) ToClient(ctx context.Context, connID, event string, data any) error {
	return e.emit(ctx, MessageTypeClient, connID, event, data, nil)
}

// ToUser 发送给用户的全部会话
func (e *Emitter) ToUser(ctx context.Context, userID, event string, data any, exclude ...string) error {
	return e.emit(ctx, MessageTypeUser, userID, event, data, exclude)
}

// ToRoom 发送给房间
func (e *Emitter) ToRoom(ctx context.Context, room, event string, data any, exclude ...string) error {
	return e.emit(ctx, MessageTypeRoom, room, event, data, exclude)
}

// Broadcast 广播给全部已认证连接
func (e *Emitter) Broadcast(ctx context.Context, event string, data any, exclude ...string) error {
	return e.emit(ctx, MessageTypeBroadcast, "", event, data, exclude)
}

func (e *Emitter) emit(ctx context.Context, scope MessageType, target, event string, data any, exclude []string) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEmitterClosed
	}

	if event == "" {
		return ErrInvalidRequest.WithMessage("event is required")
	}
	if scope != MessageTypeBroadcast && target == "" {
		return ErrInvalidRequest.WithMessage("target is required")
	}

	env, err := NewEnvelope(event, data)
	if err != nil {
		return ErrInvalidRequest.WithError(err)
	}
	payload, err := json.Marshal(&DistributedEnvelope{
		OriginServerID: EmitterOrigin,
		MessageType:    scope,
		Target:         target,
		Event:          env.Event,
		Data:           env.Data,
		Exclude:        exclude,
		Trace:          tracing.Inject(ctx),
	})
	if err != nil {
		return err
	}

	channel := e.ch.scoped(scope, target)
	if err := e.pub.Publish(ctx, channel, payload); err != nil {
		e.log.Warn("emitter publish failed",
			zap.String("channel", channel),
			zap.String("event", event),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Close 释放发布连接
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.pub.Close()
}
