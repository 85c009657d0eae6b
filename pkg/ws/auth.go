package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/qiws/pkg/tracing"
)

// AuthResult 认证结果
type AuthResult struct {
	UserID   string         // 可为空（匿名会话）
	Metadata map[string]any // 合并进连接元数据
	Rooms    []string       // 额外的默认房间
}

// AuthenticateFunc 认证回调，data 为 authenticate 事件的数据
// 返回错误或 nil 结果视为拒绝
type AuthenticateFunc func(ctx context.Context, c *Connection, data json.RawMessage) (*AuthResult, error)

// ClientConnectedFunc 认证成功回调，失败只记录日志
type ClientConnectedFunc func(ctx context.Context, c *Connection) error

// ClientDisconnectedFunc 断开回调
type ClientDisconnectedFunc func(c *Connection, code int, reason string)

// 认证指标结果
const (
	authAccepted           = "accepted"
	authRejected           = "rejected"
	authTimeout            = "timeout"
	authEncryptionRequired = "encryption_required"
)

// startAuthTimer 启动认证超时
func (s *Server) startAuthTimer(c *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authTimer = time.AfterFunc(s.cfg.AuthTimeout, func() {
		s.onAuthTimeout(c)
	})
}

// onAuthTimeout 仍处于 UNAUTHORIZED 时以 4001 关闭
func (s *Server) onAuthTimeout(c *Connection) {
	closed := s.terminate(c, ErrAuthTimeout, func(c *Connection) bool {
		return c.state == StateUnauthorized
	})
	if closed {
		s.metrics.IncrementAuth(authTimeout)
		s.log.Info("authentication timeout", zap.String("conn_id", c.id))
	}
}

// handleAuthenticate 处理 authenticate 事件
func (s *Server) handleAuthenticate(c *Connection, env *Envelope) {
	c.mu.Lock()
	switch c.state {
	case StateAuthenticated:
		c.mu.Unlock()
		s.sendError(c, ErrAlreadyAuthenticated, env.ID)
		return
	case StateAuthenticating:
		c.mu.Unlock()
		s.sendError(c, ErrAuthInProgress, env.ID)
		return
	}
	c.stopAuthTimerLocked()
	ok := c.setStateLocked(StateAuthenticating)
	c.mu.Unlock()
	if !ok {
		return
	}

	ctx, span := tracing.StartSpan(c.ctx, "ws.authenticate")
	defer span.End()

	res, err := s.callAuthenticate(ctx, c, env.Data)
	if err == nil && res == nil {
		err = fmt.Errorf("authenticate returned no result")
	}
	if err != nil {
		tracing.RecordError(span, err)
		s.rejectAuth(c, env.ID, err)
		return
	}

	// 认证期间连接已断开，不再握手
	if c.ctx.Err() != nil || c.State() == StateDisconnected {
		return
	}

	publicKey, encrypt, ok := s.negotiate(ctx, c, env.Data)
	if !ok {
		return
	}

	if !s.reg.bindUser(c, res.UserID, res.Metadata) {
		// 认证期间连接已断开
		return
	}

	if encrypt {
		c.enableEncryption()
	} else {
		c.subscribe(broadcastTopic)
	}
	rooms := make([]string, 0, len(s.cfg.DefaultRooms)+len(res.Rooms))
	rooms = append(rooms, s.cfg.DefaultRooms...)
	rooms = append(rooms, res.Rooms...)
	s.rooms.assign(c, rooms)

	s.metrics.IncrementAuth(authAccepted)
	s.log.InfoContext(ctx, "client authenticated",
		zap.String("conn_id", c.id),
		zap.String("user_id", res.UserID),
		zap.Bool("encrypted", encrypt),
	)

	// connected 不经过出站转换，客户端此时还没有会话密钥
	s.sendEnvelope(c, EventConnected, ConnectedData{
		ID:              c.id,
		UserID:          res.UserID,
		Time:            time.Now().UnixMilli(),
		ServerPublicKey: publicKey,
	}, env.ID)

	if s.cfg.OnConnected != nil {
		if err := s.callConnected(ctx, c); err != nil {
			s.log.Warn("client connected callback failed",
				zap.String("conn_id", c.id),
				zap.Error(err),
			)
		}
	}
}

// rejectAuth 回复 error 后以 4003 关闭
// 回调返回的错误细节只写日志，不下发给客户端
func (s *Server) rejectAuth(c *Connection, id string, cause error) {
	s.metrics.IncrementAuth(authRejected)
	s.log.Info("authentication rejected", zap.String("conn_id", c.id), zap.Error(cause))
	s.sendEnvelope(c, EventError, ErrorData{Message: ErrAuthRejected.Message}, id)
	s.terminate(c, ErrAuthRejected, nil)
}

// callAuthenticate 调用认证回调，panic 视为拒绝
func (s *Server) callAuthenticate(ctx context.Context, c *Connection, data json.RawMessage) (res *AuthResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("authenticate panic: %v", r)
		}
	}()
	return s.cfg.Authenticate(ctx, c, data)
}

// callConnected 调用认证成功回调
func (s *Server) callConnected(ctx context.Context, c *Connection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("client connected panic: %v", r)
		}
	}()
	return s.cfg.OnConnected(ctx, c)
}
