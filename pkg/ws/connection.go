package ws

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Connection 一个客户端会话
type Connection struct {
	id          string
	socket      Socket
	connectedAt time.Time

	// 连接关闭时取消，传给认证/握手/转换回调
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	userID       string
	state        ConnState
	rooms        map[string]struct{}
	backpressure bool
	encrypted    bool
	lastActivity time.Time
	metadata     map[string]any
	authTimer    *time.Timer

	cleanupOnce sync.Once
}

// ConnOption 连接选项
type ConnOption func(*Connection)

// WithConnID 指定连接 ID（默认 uuid）
func WithConnID(id string) ConnOption {
	return func(c *Connection) {
		c.id = id
	}
}

// WithConnMetadata 设置元数据
func WithConnMetadata(key string, value any) ConnOption {
	return func(c *Connection) {
		c.metadata[key] = value
	}
}

func newConnection(parent context.Context, id string, sock Socket, now time.Time, opts ...ConnOption) *Connection {
	ctx, cancel := context.WithCancel(parent)
	c := &Connection{
		id:           id,
		socket:       sock,
		connectedAt:  now,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateUnauthorized,
		rooms:        make(map[string]struct{}),
		lastActivity: now,
		metadata:     make(map[string]any),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID 连接 ID
func (c *Connection) ID() string { return c.id }

// Context 连接生命周期 context，断开后取消
func (c *Connection) Context() context.Context { return c.ctx }

// ConnectedAt 建立时间
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// RemoteAddr 远端地址
func (c *Connection) RemoteAddr() string { return c.socket.RemoteAddr() }

// UserID 认证后的用户 ID
func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// State 当前状态
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rooms 已加入的房间（有序）
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// InRoom 是否在房间内
func (c *Connection) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// IsEncrypted 是否已切换到加密模式
func (c *Connection) IsEncrypted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encrypted
}

// IsBackpressured 是否处于背压状态
func (c *Connection) IsBackpressured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backpressure
}

// LastActivity 最近一次入站消息时间
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Metadata 获取元数据
func (c *Connection) Metadata(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// SetMetadata 设置元数据
func (c *Connection) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// touch 刷新活跃时间
func (c *Connection) touch(now time.Time) {
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

// setState 执行状态迁移，非法迁移返回 false
func (c *Connection) setState(to ConnState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setStateLocked(to)
}

func (c *Connection) setStateLocked(to ConnState) bool {
	if !transition(c.state, to) {
		return false
	}
	c.state = to
	return true
}

func (c *Connection) setBackpressure(v bool) {
	c.mu.Lock()
	c.backpressure = v
	c.mu.Unlock()
}

func (c *Connection) stopAuthTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopAuthTimerLocked()
}

func (c *Connection) stopAuthTimerLocked() {
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
}

// enableEncryption 切换到加密模式，最多一次
// 取消本连接的全部原生主题订阅，此后只能通过逐连接路径收到消息
func (c *Connection) enableEncryption() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encrypted || c.state == StateDisconnected {
		return false
	}
	c.encrypted = true
	c.socket.Unsubscribe(clientTopic(c.id))
	c.socket.Unsubscribe(broadcastTopic)
	for r := range c.rooms {
		c.socket.Unsubscribe(roomTopic(r))
	}
	return true
}

// subscribe 订阅原生主题，加密连接不订阅
func (c *Connection) subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.encrypted {
		c.socket.Subscribe(topic)
	}
}

// unsubscribe 取消原生主题订阅
func (c *Connection) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.encrypted {
		c.socket.Unsubscribe(topic)
	}
}
