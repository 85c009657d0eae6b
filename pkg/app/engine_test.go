package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/qiws/pkg/metrics"
	"github.com/tokmz/qiws/pkg/ws"
)

func newWSServer(t *testing.T, opts ...ws.Option) *ws.Server {
	t.Helper()
	s, err := ws.New(append([]ws.Option{
		ws.WithAuthenticate(func(ctx context.Context, c *ws.Connection, data json.RawMessage) (*ws.AuthResult, error) {
			return &ws.AuthResult{UserID: "u1"}, nil
		}),
		ws.WithAllowAllOrigins(),
	}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Mode = "test"
	cfg.Banner = false
	cfg.AccessLog = false
	return cfg
}

func TestHealth(t *testing.T) {
	srv := newWSServer(t)
	e := New(srv, testConfig())

	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int   `json:"code"`
		Data Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, srv.ServerID(), resp.Data.ServerID)
	assert.Zero(t, resp.Data.Connections)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := newWSServer(t, ws.WithMetrics(metrics.New(metrics.WithRegistry(reg))))
	e := New(srv, testConfig(), WithGatherer(reg))

	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "qiws_connections")

	// 未设置 gatherer 时不注册
	e = New(newWSServer(t), testConfig())
	w = httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
	e := New(newWSServer(t), cfg)
	t.Cleanup(e.cancel)

	// 非升级请求：第一次由 gorilla 拒绝（400），第二次被限流
	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// 健康检查不限流
	w = httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLimiterStoreCleanup(t *testing.T) {
	store := newLimiterStore(1, 1)
	now := time.Now()
	assert.True(t, store.allow("a", now))
	assert.False(t, store.allow("a", now))
	assert.True(t, store.allow("b", now))

	store.cleanup(now.Add(time.Minute), 30*time.Second)
	assert.Zero(t, store.size())
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8080/ws", endpoint(":8080", "/ws"))
	assert.Equal(t, "ws://127.0.0.1:8080/ws", endpoint("[::]:8080", "/ws"))
	assert.Equal(t, "ws://10.0.0.1:9000/rt", endpoint("10.0.0.1:9000", "/rt"))
}

// 完整生命周期：升级、认证、ctx 结束后以 1001 关闭
func TestServeGracefulShutdown(t *testing.T) {
	srv := newWSServer(t)
	var before, after bool
	cfg := testConfig()
	cfg.Shutdown.BeforeShutdown = func() { before = true }
	cfg.Shutdown.AfterShutdown = func() { after = true }
	e := New(srv, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, ln) }()

	url := "ws://" + ln.Addr().String() + "/ws"
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		c, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		conn = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"event": ws.EventAuthenticate}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env ws.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, ws.EventConnected, env.Event)

	cancel()

	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
	assert.True(t, before)
	assert.True(t, after)
	assert.Zero(t, srv.ConnectionCount())
}
