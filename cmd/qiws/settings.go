package main

import (
	"strings"

	"github.com/tokmz/qiws/pkg/app"
	"github.com/tokmz/qiws/pkg/bus"
	"github.com/tokmz/qiws/pkg/config"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/metrics"
	"github.com/tokmz/qiws/pkg/tracing"
	"github.com/tokmz/qiws/pkg/webhook"
	"github.com/tokmz/qiws/pkg/ws"
)

// envPrefix 环境变量前缀，如 QIWS_APP_SERVER_ADDR
const envPrefix = "QIWS"

// settings 配置文件的完整结构
type settings struct {
	App     app.Config      `mapstructure:"app"`
	WS      ws.Config       `mapstructure:"ws"`
	Bus     busSettings     `mapstructure:"bus"`
	Log     logger.Config   `mapstructure:"log"`
	Tracing tracing.Config  `mapstructure:"tracing"`
	Metrics metricsSettings `mapstructure:"metrics"`
	Webhook webhook.Config  `mapstructure:"webhook"`
	E2E     e2eSettings     `mapstructure:"e2e"`
}

type busSettings struct {
	Enabled    bool `mapstructure:"enabled"`
	bus.Config `mapstructure:",squash"`
}

type metricsSettings struct {
	Enabled        bool `mapstructure:"enabled"`
	metrics.Config `mapstructure:",squash"`
}

// e2eSettings 端到端加密
type e2eSettings struct {
	Enabled  bool `mapstructure:"enabled"`
	Required bool `mapstructure:"required"`
}

func defaultSettings() *settings {
	busCfg := bus.DefaultConfig()
	busCfg.Redis = bus.DefaultRedisConfig()
	busCfg.AMQP = bus.DefaultAMQPConfig()
	busCfg.Kafka = bus.DefaultKafkaConfig()

	return &settings{
		App:     *app.DefaultConfig(),
		WS:      *ws.DefaultConfig(),
		Bus:     busSettings{Config: *busCfg},
		Log:     logger.Config{Level: logger.InfoLevel, Format: logger.JSONFormat, Console: true},
		Tracing: *tracing.DefaultConfig(),
		Metrics: metricsSettings{Enabled: true, Config: metrics.DefaultConfig()},
		Webhook: *webhook.DefaultConfig(),
	}
}

// 未指定 --config 时按名称搜索，找不到就只用默认值与环境变量
var searchPaths = []string{".", "/etc/qiws"}

// loadSettings 合并默认值、配置文件与环境变量
func loadSettings(path string) (*settings, *config.Config, error) {
	opts := []config.Option{
		config.WithDefaults(config.Defaults("", defaultSettings())),
		config.WithEnvPrefix(envPrefix),
		config.WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
	}
	if path != "" {
		opts = append(opts, config.WithConfigFile(path))
	} else {
		opts = append(opts,
			config.WithConfigName("qiws"),
			config.WithConfigPaths(searchPaths...),
			config.WithOptional(true),
		)
	}

	cfg := config.New(opts...)
	if err := cfg.Load(); err != nil {
		return nil, nil, err
	}

	s := defaultSettings()
	if err := cfg.Unmarshal(s); err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}
