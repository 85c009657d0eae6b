package ws

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// defaultCheckOrigin 默认同源检查
func defaultCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// 严格模式：拒绝空 Origin
		// 如需允许非浏览器客户端，使用 WithAllowAllOrigins()
		return false
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// createWhitelistChecker 创建白名单检查器
func createWhitelistChecker(allowedOrigins []string) func(*http.Request) bool {
	whitelist := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		whitelist[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 白名单模式下拒绝空 Origin
			return false
		}
		return whitelist[origin]
	}
}

// newUpgrader 创建 gorilla 升级器
func newUpgrader(cfg UpgraderConfig) *websocket.Upgrader {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		if len(cfg.AllowedOrigins) > 0 {
			checkOrigin = createWhitelistChecker(cfg.AllowedOrigins)
		} else {
			checkOrigin = defaultCheckOrigin
		}
	}

	return &websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		CheckOrigin:       checkOrigin,
		EnableCompression: cfg.EnableCompression,
	}
}

// HandleUpgrade 升级 HTTP 连接并运行读写循环，直到连接关闭才返回
// 只能配合内置 Hub 使用
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request, opts ...ConnOption) error {
	hub, ok := s.transport.(*Hub)
	if !ok {
		http.Error(w, "websocket transport unavailable", http.StatusInternalServerError)
		return ErrInvalidConfig.WithMessage("ws: HandleUpgrade requires the built-in hub transport")
	}
	if limit := s.cfg.MaxConnections; limit > 0 && s.reg.count() >= limit {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return ErrTooManyConnections
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已写入错误响应
		return err
	}

	sock := newGorillaSocket(conn, hub, s.cfg.Upgrader)
	sock.onPressure = func(c *Connection) { c.setBackpressure(true) }
	sock.onDrain = s.Drain

	c, err := s.Open(sock, opts...)
	if err != nil {
		sock.Close(websocket.CloseTryAgainLater, clientMessage(err))
		sock.wait()
		return err
	}
	sock.owner.Store(c)

	go sock.writePump()
	code, reason := sock.readPump(func(data []byte) { s.Message(c, data) })

	sock.shutdown()
	s.Closed(c, code, reason)
	s.log.Debug("socket finished",
		zap.String("conn_id", c.ID()),
		zap.Int("code", code),
	)
	return nil
}

// frame 发送队列中的一项；close 为 true 时写关闭帧后结束
type frame struct {
	data   []byte
	close  bool
	code   int
	reason string
}

// gorillaSocket 基于 gorilla/websocket 的 Socket 实现
type gorillaSocket struct {
	conn       *websocket.Conn
	hub        *Hub
	send       chan frame
	highWater  int
	writeWait  time.Duration
	maxMessage int64
	remote     string

	owner      atomic.Pointer[Connection]
	onPressure func(*Connection)
	onDrain    func(*Connection)
	pressured  atomic.Bool

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	writeDone chan struct{}
}

func newGorillaSocket(conn *websocket.Conn, hub *Hub, cfg UpgraderConfig) *gorillaSocket {
	// 队列用到 3/4 视为背压
	highWater := cfg.SendQueueSize * 3 / 4
	if highWater < 1 {
		highWater = 1
	}
	return &gorillaSocket{
		conn:       conn,
		hub:        hub,
		send:       make(chan frame, cfg.SendQueueSize+1), // 为关闭帧预留一个位置
		highWater:  highWater,
		writeWait:  cfg.WriteWait,
		maxMessage: cfg.MaxMessageSize,
		remote:     conn.RemoteAddr().String(),
		done:       make(chan struct{}),
		writeDone:  make(chan struct{}),
	}
}

// Send 非阻塞入队
func (g *gorillaSocket) Send(data []byte) SendStatus {
	if g.closed.Load() {
		return SendDropped
	}
	if len(g.send) >= cap(g.send)-1 {
		g.pressure()
		return SendBackpressure
	}

	select {
	case g.send <- frame{data: data}:
	case <-g.done:
		return SendDropped
	default:
		g.pressure()
		return SendBackpressure
	}

	if len(g.send) >= g.highWater {
		g.pressure()
		return SendBackpressure
	}
	return SendOK
}

func (g *gorillaSocket) pressure() {
	if !g.pressured.CompareAndSwap(false, true) {
		return
	}
	if c := g.owner.Load(); c != nil && g.onPressure != nil {
		g.onPressure(c)
	}
}

// Subscribe 订阅本地主题
func (g *gorillaSocket) Subscribe(topic string) bool {
	if g.closed.Load() {
		return false
	}
	return g.hub.Subscribe(topic, g)
}

// Unsubscribe 取消订阅
func (g *gorillaSocket) Unsubscribe(topic string) bool {
	return g.hub.Unsubscribe(topic, g)
}

// Close 排空队列后发送关闭帧
func (g *gorillaSocket) Close(code int, reason string) {
	g.closeOnce.Do(func() {
		g.closed.Store(true)
		g.hub.UnsubscribeAll(g)
		select {
		case g.send <- frame{close: true, code: code, reason: reason}:
		default:
			// 队列已满，直接写关闭帧
			_ = g.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason),
				time.Now().Add(g.writeWait))
			_ = g.conn.Close()
		}
	})
}

// RemoteAddr 远端地址
func (g *gorillaSocket) RemoteAddr() string { return g.remote }

// shutdown 读循环结束后调用，停止写循环
func (g *gorillaSocket) shutdown() {
	g.closed.Store(true)
	g.hub.UnsubscribeAll(g)
	select {
	case <-g.done:
	default:
		close(g.done)
	}
}

// wait 启动写循环，等它写完关闭帧后返回
func (g *gorillaSocket) wait() {
	go g.writePump()
	<-g.writeDone
}

// readPump 顺序读取入站消息，返回关闭码与原因
func (g *gorillaSocket) readPump(handle func([]byte)) (int, string) {
	g.conn.SetReadLimit(g.maxMessage)
	for {
		_, data, err := g.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code, ce.Text
			}
			return websocket.CloseAbnormalClosure, err.Error()
		}
		handle(data)
	}
}

// writePump 串行写出发送队列
func (g *gorillaSocket) writePump() {
	defer func() {
		_ = g.conn.Close()
		close(g.writeDone)
	}()

	for {
		select {
		case <-g.done:
			return
		case f := <-g.send:
			if err := g.conn.SetWriteDeadline(time.Now().Add(g.writeWait)); err != nil {
				return
			}
			if f.close {
				_ = g.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(f.code, f.reason))
				return
			}
			if err := g.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				return
			}
			if len(g.send) == 0 && g.pressured.CompareAndSwap(true, false) {
				if c := g.owner.Load(); c != nil && g.onDrain != nil {
					g.onDrain(c)
				}
			}
		}
	}
}
