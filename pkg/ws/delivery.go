package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// OutboundTransformFunc 出站转换回调
// 返回 (nil, nil) 表示使用原消息；返回错误时该连接的这条消息被丢弃。
// 同一个 env 会被并发传给多个连接，回调不能修改它
type OutboundTransformFunc func(ctx context.Context, c *Connection, env *Envelope) (*Envelope, error)

// 投递路径
const (
	pathFast       = "fast"
	pathIndividual = "individual"
)

// deliverLocal 本地投递
//
// 两个开关决定路径：是否配置了出站转换、是否带排除列表。
// 都没有时走原生主题发布（每个主题一次 Publish）；否则逐连接发送，
// 房间与广播范围的逐连接发送受 DeliveryConcurrency 窗口限制。
func (s *Server) deliverLocal(ctx context.Context, scope MessageType, target string, env *Envelope, exclude []string) {
	transform := s.cfg.Transform != nil
	excluding := len(exclude) > 0

	if !transform && !excluding {
		s.metrics.IncrementDelivery(scope, pathFast)
		s.deliverFast(scope, target, env)
		return
	}

	s.metrics.IncrementDelivery(scope, pathIndividual)
	members := s.resolve(scope, target)
	if excluding {
		skip := make(map[string]struct{}, len(exclude))
		for _, id := range exclude {
			skip[id] = struct{}{}
		}
		kept := members[:0]
		for _, c := range members {
			if _, ok := skip[c.id]; !ok {
				kept = append(kept, c)
			}
		}
		members = kept
	}
	if len(members) == 0 {
		return
	}

	raw, err := json.Marshal(env)
	if err != nil {
		s.log.Error("marshal envelope failed", zap.String("event", env.Event), zap.Error(err))
		return
	}

	switch scope {
	case MessageTypeRoom, MessageTypeBroadcast:
		s.sendWindowed(ctx, members, env, raw)
	default:
		for _, c := range members {
			s.sendTo(ctx, c, env, raw)
		}
	}
}

// deliverFast 原生主题发布
func (s *Server) deliverFast(scope MessageType, target string, env *Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		s.log.Error("marshal envelope failed", zap.String("event", env.Event), zap.Error(err))
		return
	}

	switch scope {
	case MessageTypeClient:
		s.transport.Publish(clientTopic(target), raw)
	case MessageTypeUser:
		for _, id := range s.reg.userSessionIDs(target) {
			s.transport.Publish(clientTopic(id), raw)
		}
	case MessageTypeRoom:
		s.transport.Publish(roomTopic(target), raw)
	case MessageTypeBroadcast:
		s.transport.Publish(broadcastTopic, raw)
	}
}

// resolve 投递范围内的本地连接
func (s *Server) resolve(scope MessageType, target string) []*Connection {
	switch scope {
	case MessageTypeClient:
		if c, ok := s.reg.get(target); ok {
			return []*Connection{c}
		}
		return nil
	case MessageTypeUser:
		return s.reg.userSessions(target)
	case MessageTypeRoom:
		return s.reg.roomMembers(target)
	case MessageTypeBroadcast:
		return s.reg.authenticated()
	default:
		return nil
	}
}

// sendWindowed 在并发窗口内逐连接发送，全部完成后返回
// 只有服务关闭会中断进行中的扇出，发送方连接断开不影响其余成员
func (s *Server) sendWindowed(ctx context.Context, members []*Connection, env *Envelope, raw []byte) {
	ctx = context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for _, c := range members {
		if err := s.window.Acquire(s.ctx, 1); err != nil {
			s.log.Warn("delivery cancelled", zap.Int("pending", len(members)), zap.Error(err))
			break
		}
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			defer s.window.Release(1)
			s.sendTo(ctx, c, env, raw)
		}(c)
	}
	wg.Wait()
}

// sendTo 向单个连接发送，必要时先执行出站转换
// raw 是 env 的序列化结果，转换返回 nil 时直接复用
func (s *Server) sendTo(ctx context.Context, c *Connection, env *Envelope, raw []byte) SendStatus {
	if s.cfg.Transform != nil {
		out, err := s.callTransform(ctx, c, env)
		if err != nil {
			s.log.Warn("outbound transform failed, message dropped",
				zap.String("conn_id", c.id),
				zap.String("event", env.Event),
				zap.Error(err),
			)
			s.metrics.IncrementDroppedMessages()
			return SendDropped
		}
		if out != nil {
			if raw, err = json.Marshal(out); err != nil {
				s.log.Error("marshal envelope failed", zap.String("event", out.Event), zap.Error(err))
				return SendDropped
			}
		}
	}
	return s.sendRaw(c, raw)
}

// sendRaw 直接写入 socket 并处理返回信号
func (s *Server) sendRaw(c *Connection, raw []byte) SendStatus {
	status := c.socket.Send(raw)
	switch {
	case status == SendDropped:
		s.log.Debug("send dropped, socket closed", zap.String("conn_id", c.id))
		s.metrics.IncrementDroppedMessages()
	case status < 0:
		c.setBackpressure(true)
		s.log.Debug("socket backpressure", zap.String("conn_id", c.id))
		s.metrics.IncrementBackpressure()
	}
	return status
}

// sendEnvelope 绕过出站转换直接发送（connected 等控制消息）
func (s *Server) sendEnvelope(c *Connection, event string, data any, id string) SendStatus {
	env, err := NewEnvelope(event, data)
	if err != nil {
		s.log.Error("build envelope failed", zap.String("event", event), zap.Error(err))
		return SendDropped
	}
	env.ID = id
	raw, err := json.Marshal(env)
	if err != nil {
		s.log.Error("marshal envelope failed", zap.String("event", event), zap.Error(err))
		return SendDropped
	}
	return s.sendRaw(c, raw)
}

// reply 回复单个连接，走出站转换（加密连接收到密文）
func (s *Server) reply(ctx context.Context, c *Connection, event string, data any, id string) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		s.log.Error("build envelope failed", zap.String("event", event), zap.Error(err))
		return
	}
	env.ID = id
	raw, err := json.Marshal(env)
	if err != nil {
		s.log.Error("marshal envelope failed", zap.String("event", event), zap.Error(err))
		return
	}
	s.sendTo(ctx, c, env, raw)
}

// sendError 回复 error 事件
func (s *Server) sendError(c *Connection, err error, id string) {
	s.reply(c.ctx, c, EventError, ErrorData{Message: clientMessage(err)}, id)
}

// Drain 传输层通知连接发送缓冲已排空，清除背压标记
func (s *Server) Drain(c *Connection) {
	c.setBackpressure(false)
}

// callTransform 调用出站转换，panic 视为错误
func (s *Server) callTransform(ctx context.Context, c *Connection, env *Envelope) (out *Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("outbound transform panic: %v", r)
		}
	}()
	return s.cfg.Transform(ctx, c, env)
}

// newWindow 逐连接投递的并发窗口
func newWindow(n int) *semaphore.Weighted {
	return semaphore.NewWeighted(int64(n))
}
