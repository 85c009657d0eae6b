package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tokmz/qiws/pkg/app"
	"github.com/tokmz/qiws/pkg/bus"
	"github.com/tokmz/qiws/pkg/config"
	"github.com/tokmz/qiws/pkg/e2e"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/metrics"
	"github.com/tokmz/qiws/pkg/tracing"
	"github.com/tokmz/qiws/pkg/webhook"
	"github.com/tokmz/qiws/pkg/ws"
)

func serveCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket server",
		Long: `Run the WebSocket server.

Clients authenticate through the configured webhook. With a bus driver
enabled, every instance sharing the bus delivers to its own connections.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := loadSettings(*configPath)
			if err != nil {
				return err
			}
			defer cfg.Close()
			if addr != "" {
				s.App.Server.Addr = addr
			}
			return serve(cmd.Context(), s, cfg)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides app.server.addr)")
	return cmd
}

// serve 按配置组装并运行服务，直到收到中断信号
func serve(ctx context.Context, s *settings, cfg *config.Config) (err error) {
	log, err := logger.New(&s.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.ConfigFileUsed() != "" {
		cfg.OnChange(func(string) { reloadLogLevel(cfg, log) })
		if err := cfg.StartWatch(); err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		}
	}

	hooks, err := webhook.NewWithConfig(withLogger(s.Webhook, log))
	if err != nil {
		return err
	}

	opts := []ws.Option{
		ws.WithConfig(s.WS),
		ws.WithLogger(log),
		ws.WithAuthenticate(hooks.Authenticate()),
	}
	if validate := hooks.ValidateRoom(); validate != nil {
		opts = append(opts, ws.WithValidateRoom(validate))
	}

	var gatherer prometheus.Gatherer
	if s.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		s.Metrics.Registry = reg
		opts = append(opts, ws.WithMetrics(metrics.NewWithConfig(s.Metrics.Config)))
		gatherer = reg
	}

	if s.E2E.Enabled {
		keyring := e2e.NewKeyring()
		opts = append(opts,
			ws.WithEncryption(keyring.Handshake(), keyring.Transform(), s.E2E.Required),
			ws.WithOnDisconnected(keyring.Disconnected()),
		)
	}

	if s.Bus.Enabled {
		client, err := bus.New(&s.Bus.Config)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				err = errors.Join(err, closeErr)
			}
		}()
		opts = append(opts, ws.WithBus(client))
		log.Info("bus enabled", zap.String("driver", string(s.Bus.Driver)))
	}

	srv, err := ws.New(opts...)
	if err != nil {
		return err
	}

	tp, err := tracing.NewTracerProvider(ctx, &s.Tracing, tracing.WithInstanceID(srv.ServerID()))
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			log.Warn("tracer shutdown failed", zap.Error(shutdownErr))
		}
	}()

	engine := app.New(srv, &s.App,
		app.WithLogger(log),
		app.WithGatherer(gatherer),
	)
	return engine.Run(ctx)
}

// reloadLogLevel 配置文件变更时只热更新日志级别，其余配置需要重启
func reloadLogLevel(cfg *config.Config, log logger.Logger) {
	level, ok := logger.ParseLevel(cfg.GetString("log.level"))
	if !ok || level == log.Level() {
		return
	}
	log.SetLevel(level)
	log.Info("log level reloaded", zap.String("level", level.String()))
}

func withLogger(cfg webhook.Config, log logger.Logger) *webhook.Config {
	cfg.Logger = log
	return &cfg
}
