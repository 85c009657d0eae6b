package ws

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// runHeartbeat 按 HeartbeatInterval 扫描，直到 ctx 取消
// 服务端从不主动探测客户端，存活完全由客户端的入站消息决定
func (s *Server) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.sweep(now); n > 0 {
				s.log.Info("heartbeat sweep closed idle connections", zap.Int("closed", n))
			}
		}
	}
}

// sweep 关闭超过 HeartbeatTimeout 没有入站消息的已认证连接，返回关闭数量
// 未认证连接只受认证超时约束
func (s *Server) sweep(now time.Time) int {
	deadline := now.Add(-s.cfg.HeartbeatTimeout)
	closed := 0
	for _, c := range s.reg.all() {
		ok := s.terminate(c, ErrHeartbeatTimeout, func(c *Connection) bool {
			return c.state == StateAuthenticated && c.lastActivity.Before(deadline)
		})
		if ok {
			closed++
		}
	}
	return closed
}
