// Package app 是 ws 服务的 HTTP 宿主
//
// 基于 gin 暴露 WebSocket 端点、健康检查与 Prometheus 指标，
// 收到 SIGINT/SIGTERM 时先以 1001 关闭全部连接，再关闭 HTTP 服务。
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/tracing"
	"github.com/tokmz/qiws/pkg/ws"
)

// 内置路由
const (
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

// Engine HTTP 宿主
type Engine struct {
	config   *Config
	engine   *gin.Engine
	server   *http.Server
	ws       *ws.Server
	log      logger.Logger
	gatherer prometheus.Gatherer

	// 限流清理 goroutine 的生命周期
	ctx    context.Context
	cancel context.CancelFunc
}

// EngineOption 协作者选项
type EngineOption func(*Engine)

// WithLogger 设置日志
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithGatherer 设置 /metrics 的数据源，为空时不注册 /metrics
func WithGatherer(g prometheus.Gatherer) EngineOption {
	return func(e *Engine) {
		e.gatherer = g
	}
}

// New 创建宿主并注册路由
func New(srv *ws.Server, cfg *Config, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config: cfg,
		ws:     srv,
		log:    logger.Nop(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}

	gin.SetMode(cfg.Mode)
	silenceGin()

	e.engine = gin.New()
	e.engine.Use(gin.Recovery())
	if cfg.TrustedProxies != nil {
		if err := e.engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			e.log.Warn("set trusted proxies failed", zap.Error(err))
		}
	}

	e.engine.Use(tracing.Middleware(tracing.WithFilter(func(c *gin.Context) bool {
		return c.Request.URL.Path != HealthPath && c.Request.URL.Path != MetricsPath
	})))
	if cfg.AccessLog {
		e.engine.Use(AccessLog(e.log, HealthPath, MetricsPath))
	}

	e.routes()
	return e
}

func (e *Engine) routes() {
	upgrade := []gin.HandlerFunc{}
	if e.config.RateLimit.Enabled {
		upgrade = append(upgrade, RateLimit(e.ctx, e.config.RateLimit, e.log))
	}
	upgrade = append(upgrade, e.handleUpgrade)
	e.engine.GET(e.config.Path, upgrade...)

	e.engine.GET(HealthPath, e.handleHealth)

	if e.gatherer != nil {
		e.engine.GET(MetricsPath, gin.WrapH(promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})))
	}
}

func (e *Engine) handleUpgrade(c *gin.Context) {
	if err := e.ws.HandleUpgrade(c.Writer, c.Request); err != nil {
		e.log.Debug("upgrade failed",
			zap.String("client_ip", c.ClientIP()),
			zap.Error(err),
		)
	}
}

func (e *Engine) handleHealth(c *gin.Context) {
	resp := Success(Stats{
		ServerID:    e.ws.ServerID(),
		Connections: e.ws.ConnectionCount(),
		Rooms:       e.ws.RoomCount(),
	})
	if span := tracing.SpanFromContext(c.Request.Context()); span.SpanContext().IsValid() {
		resp.WithTraceID(span.SpanContext().TraceID().String())
	}
	c.JSON(http.StatusOK, resp)
}

// Handler 返回 HTTP 处理器（测试或嵌入其他服务）
func (e *Engine) Handler() http.Handler {
	return e.engine
}

// Run 监听配置地址并阻塞，直到收到中断信号或 ctx 结束
func (e *Engine) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.config.Server.Addr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return e.Serve(ctx, ln)
}

// Serve 在给定监听器上提供服务，ctx 结束时优雅关机
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	if err := e.ws.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	e.server = &http.Server{
		Handler:        e.engine,
		ReadTimeout:    e.config.Server.ReadTimeout,
		WriteTimeout:   e.config.Server.WriteTimeout,
		IdleTimeout:    e.config.Server.IdleTimeout,
		MaxHeaderBytes: e.config.Server.MaxHeaderBytes,
	}

	if e.config.Banner {
		e.printBanner(ln.Addr().String())
	}
	e.log.Info("http server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", e.config.Path),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		e.cancel()
		_ = e.ws.Shutdown(context.Background())
		return err
	case <-ctx.Done():
		e.log.Info("shutting down")
	}

	return e.gracefulShutdown()
}

// gracefulShutdown 先关闭 WebSocket 连接，再关闭 HTTP 服务
// 被劫持的连接不受 http.Server.Shutdown 管理
func (e *Engine) gracefulShutdown() error {
	if e.config.Shutdown.BeforeShutdown != nil {
		e.config.Shutdown.BeforeShutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.config.Shutdown.Timeout)
	defer cancel()
	defer e.cancel()

	wsErr := e.ws.Shutdown(ctx)
	if wsErr != nil {
		e.log.Warn("ws shutdown incomplete", zap.Error(wsErr))
	}
	if err := e.server.Shutdown(ctx); err != nil {
		e.log.Error("http server forced to close", zap.Error(err))
		return err
	}

	if e.config.Shutdown.AfterShutdown != nil {
		e.config.Shutdown.AfterShutdown()
	}

	e.log.Info("server exited")
	return wsErr
}
