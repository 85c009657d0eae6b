package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/tokmz/qiws/pkg/errors"
	"github.com/tokmz/qiws/pkg/logger"
)

// Server 实时消息服务
//
// 持有连接索引、房间、投递引擎和总线桥接。每个 Server 有独立的 id，
// 用于总线消息去重，同一进程内可以同时运行多个互不干扰的实例。
type Server struct {
	id     string
	cfg    *Config
	reg    *registry
	rooms  *RoomManager
	router *MessageRouter
	bridge *bridge

	transport Transport
	upgrader  *websocket.Upgrader
	window    *semaphore.Weighted

	log     logger.Logger
	metrics Metrics

	// 生命周期
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	closed  bool
}

// New 创建服务
func New(opts ...Option) (*Server, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	transport := cfg.Transport
	if transport == nil {
		transport = NewHub()
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	reg := newRegistry(cfg.MaxConnections)

	s := &Server{
		id:        id,
		cfg:       cfg,
		reg:       reg,
		router:    NewMessageRouter(),
		transport: transport,
		upgrader:  newUpgrader(cfg.Upgrader),
		window:    newWindow(cfg.DeliveryConcurrency),
		log:       log.With(zap.String("server_id", id)),
		metrics:   metrics,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.rooms = newRoomManager(reg, cfg, s.log, metrics)

	if cfg.BusClient != nil {
		b, err := newBridge(s, cfg.BusClient)
		if err != nil {
			cancel()
			return nil, err
		}
		s.bridge = b
	}
	return s, nil
}

// Start 启动心跳扫描和总线订阅，冻结路由
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.started {
		return nil
	}

	if s.bridge != nil {
		if err := s.bridge.start(ctx); err != nil {
			return err
		}
	}

	s.router.Freeze()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runHeartbeat(s.ctx)
	}()

	s.started = true
	s.log.Info("ws server started",
		zap.Bool("bus", s.bridge != nil),
		zap.Bool("encryption_required", s.cfg.EncryptionRequired),
	)
	return nil
}

// ServerID 实例 id
func (s *Server) ServerID() string { return s.id }

// Rooms 房间管理器
func (s *Server) Rooms() *RoomManager { return s.rooms }

// Handle 注册应用事件处理器
func (s *Server) Handle(event string, handler Handler) error {
	return s.router.Register(event, handler)
}

// Use 添加应用事件中间件
func (s *Server) Use(middleware ...MiddlewareFunc) {
	s.router.Use(middleware...)
}

// Open 注册新升级的连接，状态为 UNAUTHORIZED 并开始认证计时
func (s *Server) Open(sock Socket, opts ...ConnOption) (*Connection, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrServerClosed
	}

	c := newConnection(s.ctx, uuid.NewString(), sock, time.Now(), opts...)
	if err := s.reg.add(c); err != nil {
		c.cancel()
		return nil, err
	}
	c.subscribe(clientTopic(c.id))
	s.startAuthTimer(c)

	s.metrics.IncrementConnections()
	s.metrics.SetConnectionCount(s.reg.count())
	s.log.Debug("connection opened",
		zap.String("conn_id", c.id),
		zap.String("remote_addr", sock.RemoteAddr()),
	)
	return c, nil
}

// Message 处理一帧入站消息
// 同一连接的消息必须顺序调用
func (s *Server) Message(c *Connection, data []byte) {
	c.touch(time.Now())

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		s.metrics.IncrementInvalidMessages()
		s.sendError(c, ErrInvalidMessage, env.ID)
		return
	}
	s.metrics.IncrementMessageCount(s.metricEvent(env.Event))

	if env.Event == EventAuthenticate {
		s.handleAuthenticate(c, &env)
		return
	}

	if c.State() != StateAuthenticated {
		s.sendError(c, ErrNotAuthenticated, env.ID)
		return
	}

	switch env.Event {
	case EventHeartbeat:
		// 活跃时间已刷新
	case EventJoin, EventLeave:
		s.handleRooms(c, &env)
	default:
		if err := s.router.Route(c.ctx, c, &env); err != nil {
			if !errors.Is(err, ErrUnknownEvent) {
				s.log.Warn("handler failed",
					zap.String("conn_id", c.id),
					zap.String("event", env.Event),
					zap.Error(err),
				)
			}
			s.sendError(c, err, env.ID)
		}
	}
}

// metricEvent 未注册的事件统一记为 unknown
func (s *Server) metricEvent(event string) string {
	if isReserved(event) || s.router.Has(event) {
		return event
	}
	return "unknown"
}

// handleRooms 处理 join / leave 并回复实际生效的房间
func (s *Server) handleRooms(c *Connection, env *Envelope) {
	var req RoomsData
	if len(env.Data) == 0 {
		s.sendError(c, ErrInvalidRooms, env.ID)
		return
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		s.sendError(c, ErrInvalidRooms, env.ID)
		return
	}

	if env.Event == EventJoin {
		joined := s.rooms.Join(c.ctx, c, req.Rooms)
		s.reply(c.ctx, c, EventJoined, RoomsData{Rooms: joined}, env.ID)
		return
	}
	left := s.rooms.Leave(c, req.Rooms)
	s.reply(c.ctx, c, EventLeft, RoomsData{Rooms: left}, env.ID)
}

// Closed 传输层通知连接已关闭
func (s *Server) Closed(c *Connection, code int, reason string) {
	c.mu.Lock()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	s.cleanup(c, code, reason)
}

// Close 以指定关闭码主动关闭连接
func (s *Server) Close(c *Connection, code int, reason string) {
	s.terminate(c, errors.New(code, reason), nil)
}

// terminate 满足条件时把连接置为 DISCONNECTED 并关闭 socket
// cond 在连接锁内求值，计时器回调借此避免误关已迁移的连接
func (s *Server) terminate(c *Connection, err *errors.Error, cond func(*Connection) bool) bool {
	c.mu.Lock()
	if c.state == StateDisconnected || (cond != nil && !cond(c)) {
		c.mu.Unlock()
		return false
	}
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.socket.Close(err.Code, err.Message)
	s.cleanup(c, err.Code, err.Message)
	return true
}

// cleanup 释放连接资源，只执行一次
func (s *Server) cleanup(c *Connection, code int, reason string) {
	c.cleanupOnce.Do(func() {
		c.stopAuthTimer()
		c.cancel()
		rooms := s.reg.remove(c)
		if len(rooms) > 0 {
			s.metrics.SetRoomCount(s.reg.roomCount())
		}

		s.metrics.DecrementConnections()
		s.metrics.SetConnectionCount(s.reg.count())
		s.metrics.IncrementClosed(code)
		s.log.Debug("connection closed",
			zap.String("conn_id", c.id),
			zap.Int("code", code),
			zap.String("reason", reason),
		)

		if s.cfg.OnDisconnected != nil {
			s.callDisconnected(c, code, reason)
		}
	})
}

func (s *Server) callDisconnected(c *Connection, code int, reason string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("client disconnected callback panic",
				zap.String("conn_id", c.id),
				zap.Any("panic", r),
			)
		}
	}()
	s.cfg.OnDisconnected(c, code, reason)
}

// SendRequest Send 的参数
type SendRequest struct {
	// Destination 客户端 id、用户 id 或房间名，为空表示广播
	Destination string

	// Kind 指定投递范围；为空时按 Destination 推断：
	// 本地已知的客户端 id 视为 client，否则视为 room
	Kind MessageType

	Payload Payload

	// Exclude 不接收消息的连接 id
	Exclude []string
}

// Send 本地投递后发布到总线，对端实例收到后执行各自的本地投递
func (s *Server) Send(ctx context.Context, req SendRequest) error {
	scope := req.Kind
	switch {
	case scope != "":
		if !scope.Valid() {
			return ErrInvalidRequest.WithMessage("unknown message type: " + string(scope))
		}
	case req.Destination == "":
		scope = MessageTypeBroadcast
	default:
		if _, ok := s.reg.get(req.Destination); ok {
			scope = MessageTypeClient
		} else {
			scope = MessageTypeRoom
		}
	}
	if scope != MessageTypeBroadcast && req.Destination == "" {
		return ErrInvalidRequest.WithMessage("destination is required")
	}
	return s.dispatch(ctx, scope, req.Destination, req.Payload.Topic, req.Payload.Data, req.Exclude)
}

// SendToClient 发送给单个连接
func (s *Server) SendToClient(ctx context.Context, connID, event string, data any) error {
	return s.dispatch(ctx, MessageTypeClient, connID, event, data, nil)
}

// SendToUser 发送给用户的全部会话
func (s *Server) SendToUser(ctx context.Context, userID, event string, data any, exclude ...string) error {
	return s.dispatch(ctx, MessageTypeUser, userID, event, data, exclude)
}

// SendToRoom 发送给房间成员
func (s *Server) SendToRoom(ctx context.Context, room, event string, data any, exclude ...string) error {
	return s.dispatch(ctx, MessageTypeRoom, room, event, data, exclude)
}

// Broadcast 发送给全部已认证连接
func (s *Server) Broadcast(ctx context.Context, event string, data any, exclude ...string) error {
	return s.dispatch(ctx, MessageTypeBroadcast, "", event, data, exclude)
}

// dispatch 本地投递并发布到总线
func (s *Server) dispatch(ctx context.Context, scope MessageType, target, event string, data any, exclude []string) error {
	if event == "" {
		return ErrInvalidRequest.WithMessage("event is required")
	}
	env, err := NewEnvelope(event, data)
	if err != nil {
		return ErrInvalidRequest.WithError(err)
	}

	if scope != MessageTypeRoom || s.reg.hasRoom(target) {
		s.deliverLocal(ctx, scope, target, env, exclude)
	}

	if s.bridge == nil {
		return nil
	}
	return s.bridge.publish(ctx, &DistributedEnvelope{
		OriginServerID: s.id,
		MessageType:    scope,
		Target:         target,
		Event:          env.Event,
		Data:           env.Data,
		Exclude:        exclude,
	})
}

// JoinRooms 服务端让连接加入房间，不经过校验回调
func (s *Server) JoinRooms(c *Connection, rooms ...string) []string {
	return s.rooms.assign(c, rooms)
}

// LeaveRooms 服务端让连接离开房间
func (s *Server) LeaveRooms(c *Connection, rooms ...string) []string {
	return s.rooms.Leave(c, rooms)
}

// Connection 按 id 查找本地连接
func (s *Server) Connection(id string) (*Connection, bool) {
	return s.reg.get(id)
}

// ConnectionCount 本地连接数
func (s *Server) ConnectionCount() int { return s.reg.count() }

// RoomCount 本地房间数
func (s *Server) RoomCount() int { return s.reg.roomCount() }

// RoomMembers 房间内的本地连接 id
func (s *Server) RoomMembers(room string) []string { return s.reg.roomMemberIDs(room) }

// UserSessions 用户在本实例的连接 id
func (s *Server) UserSessions(userID string) []string { return s.reg.userSessionIDs(userID) }

// Shutdown 优雅关闭
// 停止心跳和总线桥接，以 1001 关闭全部连接，等待后台 goroutine 或 ctx 超时
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	conns := s.reg.all()
	for _, c := range conns {
		s.terminate(c, ErrGoingAway, nil)
	}

	var bridgeErr error
	if s.bridge != nil {
		bridgeErr = s.bridge.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("ws server stopped", zap.Int("closed_connections", len(conns)))
	return bridgeErr
}
