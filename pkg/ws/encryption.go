package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tokmz/qiws/pkg/tracing"
)

// HandshakeResult 加密握手结果
type HandshakeResult struct {
	PublicKey string // 服务端公钥，随 connected 事件下发
}

// HandshakeFunc 加密握手回调，与 authenticate 使用同一份数据
// 非强制加密时返回 (nil, nil) 表示该连接保持明文
type HandshakeFunc func(ctx context.Context, c *Connection, data json.RawMessage) (*HandshakeResult, error)

// negotiate 认证通过后执行加密握手
//
// 返回服务端公钥、是否切换到加密模式，以及连接是否仍可继续。
// 强制加密时握手失败会以 4004 关闭连接并返回 ok=false。
func (s *Server) negotiate(ctx context.Context, c *Connection, data json.RawMessage) (publicKey string, encrypt bool, ok bool) {
	if s.cfg.Handshake == nil {
		return "", false, true
	}

	ctx, span := tracing.StartSpan(ctx, "ws.handshake")
	defer span.End()

	hs, err := s.callHandshake(ctx, c, data)
	if err == nil && hs == nil && s.cfg.EncryptionRequired {
		err = fmt.Errorf("handshake returned no result")
	}
	tracing.RecordError(span, err)

	switch {
	case err != nil && s.cfg.EncryptionRequired:
		s.metrics.IncrementAuth(authEncryptionRequired)
		s.log.Warn("encryption handshake failed",
			zap.String("conn_id", c.id),
			zap.Error(err),
		)
		s.terminate(c, ErrEncryptionRequired, nil)
		return "", false, false
	case err != nil:
		s.log.Debug("handshake failed, staying plain", zap.String("conn_id", c.id), zap.Error(err))
		return "", false, true
	case hs == nil:
		return "", false, true
	}
	return hs.PublicKey, true, true
}

// callHandshake 调用握手回调，panic 视为失败
func (s *Server) callHandshake(ctx context.Context, c *Connection, data json.RawMessage) (res *HandshakeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("handshake panic: %v", r)
		}
	}()
	return s.cfg.Handshake(ctx, c, data)
}
