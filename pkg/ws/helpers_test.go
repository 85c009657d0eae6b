package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSocket 记录发送帧与订阅的 Socket
type fakeSocket struct {
	hub *Hub

	mu          sync.Mutex
	frames      [][]byte
	topics      map[string]bool
	status      SendStatus
	closed      bool
	closeCode   int
	closeReason string
}

func newFakeSocket(hub *Hub) *fakeSocket {
	return &fakeSocket{
		hub:    hub,
		topics: make(map[string]bool),
		status: SendOK,
	}
}

func (f *fakeSocket) Send(data []byte) SendStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return SendDropped
	}
	f.frames = append(f.frames, data)
	return f.status
}

func (f *fakeSocket) Subscribe(topic string) bool {
	f.mu.Lock()
	f.topics[topic] = true
	f.mu.Unlock()
	return f.hub.Subscribe(topic, f)
}

func (f *fakeSocket) Unsubscribe(topic string) bool {
	f.mu.Lock()
	delete(f.topics, topic)
	f.mu.Unlock()
	return f.hub.Unsubscribe(topic, f)
}

func (f *fakeSocket) Close(code int, reason string) {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		f.closeCode = code
		f.closeReason = reason
	}
	f.mu.Unlock()
	f.hub.UnsubscribeAll(f)
}

func (f *fakeSocket) RemoteAddr() string { return "127.0.0.1:4000" }

func (f *fakeSocket) setStatus(status SendStatus) {
	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
}

func (f *fakeSocket) closedWith() (int, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeReason, f.closed
}

func (f *fakeSocket) subscribed() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.topics))
	for k, v := range f.topics {
		out[k] = v
	}
	return out
}

func (f *fakeSocket) envelopes() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, 0, len(f.frames))
	for _, raw := range f.frames {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// events 指定事件的全部消息
func (f *fakeSocket) events(event string) []Envelope {
	var out []Envelope
	for _, env := range f.envelopes() {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// last 最后一条指定事件
func (f *fakeSocket) last(t *testing.T, event string) Envelope {
	t.Helper()
	envs := f.events(event)
	require.NotEmpty(t, envs, "no %q event received", event)
	return envs[len(envs)-1]
}

// countingTransport 统计 Publish 次数的 Hub
type countingTransport struct {
	*Hub
	publishes atomic.Int64
}

func (t *countingTransport) Publish(topic string, data []byte) {
	t.publishes.Add(1)
	t.Hub.Publish(topic, data)
}

// recordingMetrics 记录部分指标
type recordingMetrics struct {
	NoopMetrics
	mu        sync.Mutex
	discarded map[string]int
	delivery  map[string]int
	auth      map[string]int
	closed    map[int]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		discarded: make(map[string]int),
		delivery:  make(map[string]int),
		auth:      make(map[string]int),
		closed:    make(map[int]int),
	}
}

func (m *recordingMetrics) IncrementBusDiscarded(reason string) {
	m.mu.Lock()
	m.discarded[reason]++
	m.mu.Unlock()
}

func (m *recordingMetrics) IncrementDelivery(scope MessageType, path string) {
	m.mu.Lock()
	m.delivery[string(scope)+"/"+path]++
	m.mu.Unlock()
}

func (m *recordingMetrics) IncrementAuth(result string) {
	m.mu.Lock()
	m.auth[result]++
	m.mu.Unlock()
}

func (m *recordingMetrics) IncrementClosed(code int) {
	m.mu.Lock()
	m.closed[code]++
	m.mu.Unlock()
}

func (m *recordingMetrics) discards(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discarded[reason]
}

func (m *recordingMetrics) deliveries(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivery[key]
}

func (m *recordingMetrics) auths(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auth[result]
}

// authRequest 测试用认证数据
type authRequest struct {
	User   string   `json:"user"`
	Rooms  []string `json:"rooms,omitempty"`
	Reject bool     `json:"reject,omitempty"`
	Panic  bool     `json:"panic,omitempty"`
}

// testAuthenticate 按请求数据决定通过、拒绝或 panic
func testAuthenticate(ctx context.Context, c *Connection, data json.RawMessage) (*AuthResult, error) {
	var req authRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.Panic {
		panic("authenticator exploded")
	}
	if req.Reject {
		return nil, errors.New("bad token: secret detail")
	}
	return &AuthResult{UserID: req.User, Rooms: req.Rooms}, nil
}

// allowAllRooms 允许全部房间
func allowAllRooms(ctx context.Context, c *Connection, rooms []string) ([]string, error) {
	return rooms, nil
}

// newTestServer 创建使用 countingTransport 的服务
func newTestServer(t *testing.T, opts ...Option) (*Server, *countingTransport) {
	t.Helper()
	transport := &countingTransport{Hub: NewHub()}
	base := []Option{
		WithAuthenticate(testAuthenticate),
		WithTransport(transport),
	}
	s, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, transport
}

// open 建立未认证连接
func open(t *testing.T, s *Server, hub *Hub) (*Connection, *fakeSocket) {
	t.Helper()
	sock := newFakeSocket(hub)
	c, err := s.Open(sock)
	require.NoError(t, err)
	return c, sock
}

// send 发送一帧消息
func send(t *testing.T, s *Server, c *Connection, event string, data any) {
	t.Helper()
	env, err := NewEnvelope(event, data)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	s.Message(c, raw)
}

// login 建立并认证连接
func login(t *testing.T, s *Server, hub *Hub, user string, rooms ...string) (*Connection, *fakeSocket) {
	t.Helper()
	c, sock := open(t, s, hub)
	send(t, s, c, EventAuthenticate, authRequest{User: user, Rooms: rooms})
	require.Equal(t, StateAuthenticated, c.State())
	return c, sock
}
