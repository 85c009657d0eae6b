package ws

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tokmz/qiws/pkg/logger"
)

// ValidateRoomFunc 房间校验回调，返回允许加入的子集
type ValidateRoomFunc func(ctx context.Context, c *Connection, rooms []string) ([]string, error)

// RoomManager 房间管理器
type RoomManager struct {
	reg      *registry
	validate ValidateRoomFunc
	prefix   string // 总线命名空间前缀，房间名不能以它开头
	maxLen   int
	log      logger.Logger
	metrics  Metrics
}

func newRoomManager(reg *registry, cfg *Config, log logger.Logger, metrics Metrics) *RoomManager {
	return &RoomManager{
		reg:      reg,
		validate: cfg.ValidateRoom,
		prefix:   cfg.Bus.Prefix,
		maxLen:   cfg.MaxRoomNameLength,
		log:      log,
		metrics:  metrics,
	}
}

// Sanitize 过滤房间名：去空白、去重，拒绝空名、超长和总线前缀开头的名称
func (rm *RoomManager) Sanitize(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || len(name) > rm.maxLen || strings.HasPrefix(name, rm.prefix) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Join 客户端请求加入房间，返回实际加入的房间
// 未配置校验回调时拒绝全部请求
func (rm *RoomManager) Join(ctx context.Context, c *Connection, names []string) []string {
	if c.State() != StateAuthenticated {
		return nil
	}

	candidates := rm.Sanitize(names)
	if len(candidates) == 0 {
		return nil
	}
	if rm.validate == nil {
		rm.log.Debug("join rejected, no room validator configured",
			zap.String("conn_id", c.ID()),
			zap.Strings("rooms", candidates),
		)
		return nil
	}

	allowed, err := rm.callValidate(ctx, c, candidates)
	if err != nil {
		rm.log.Warn("room validator failed",
			zap.String("conn_id", c.ID()),
			zap.Error(err),
		)
		return nil
	}

	// 只接受候选集内的房间，校验回调不能凭空加房间
	permitted := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		permitted[r] = struct{}{}
	}
	applied := make([]string, 0, len(candidates))
	for _, r := range candidates {
		if _, ok := permitted[r]; !ok {
			continue
		}
		if rm.add(c, r) {
			applied = append(applied, r)
		}
	}
	return applied
}

// assign 服务端指定的房间（默认房间、认证结果携带的房间），不经过校验回调
func (rm *RoomManager) assign(c *Connection, names []string) []string {
	applied := make([]string, 0, len(names))
	for _, r := range rm.Sanitize(names) {
		if rm.add(c, r) {
			applied = append(applied, r)
		}
	}
	return applied
}

// add 写入索引并订阅房间主题；已在房间内也视为成功
func (rm *RoomManager) add(c *Connection, room string) bool {
	if rm.reg.join(c, room) {
		c.subscribe(roomTopic(room))
		rm.metrics.SetRoomCount(rm.reg.roomCount())
		return true
	}
	return c.InRoom(room)
}

// Leave 离开房间，不做校验；不在房间内时为空操作
func (rm *RoomManager) Leave(c *Connection, names []string) []string {
	left := make([]string, 0, len(names))
	for _, name := range names {
		if rm.reg.leave(c, name) {
			c.unsubscribe(roomTopic(name))
			left = append(left, name)
		}
	}
	if len(left) > 0 {
		rm.metrics.SetRoomCount(rm.reg.roomCount())
	}
	return left
}

// callValidate 调用校验回调，panic 视为拒绝
func (rm *RoomManager) callValidate(ctx context.Context, c *Connection, rooms []string) (allowed []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			allowed, err = nil, fmt.Errorf("room validator panic: %v", r)
		}
	}()
	return rm.validate(ctx, c, rooms)
}
