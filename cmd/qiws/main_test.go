package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/qiws/pkg/app"
	"github.com/tokmz/qiws/pkg/bus"
	"github.com/tokmz/qiws/pkg/logger"
)

const testConfig = `
app:
  server:
    addr: ":9000"
  rate_limit:
    enabled: true
ws:
  auth_timeout: 2s
  default_rooms: lobby,news
  bus:
    prefix: "chat:"
bus:
  enabled: true
  driver: redis
  redis:
    addr: "127.0.0.1:6379"
log:
  level: debug
webhook:
  auth_url: "http://auth.local/ws"
e2e:
  enabled: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qiws.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, _, err := loadSettings("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", s.App.Server.Addr)
	assert.Equal(t, "/ws", s.App.Path)
	assert.Equal(t, 5*time.Second, s.WS.AuthTimeout)
	assert.Equal(t, "qiws:", s.WS.Bus.Prefix)
	assert.False(t, s.Bus.Enabled)
	assert.Equal(t, bus.DriverMemory, s.Bus.Driver)
	assert.True(t, s.Metrics.Enabled)
	assert.Equal(t, "qiws", s.Metrics.Namespace)
	assert.Equal(t, logger.InfoLevel, s.Log.Level)
}

func TestLoadSettingsFile(t *testing.T) {
	s, cfg, err := loadSettings(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ConfigFileUsed())

	assert.Equal(t, ":9000", s.App.Server.Addr)
	assert.True(t, s.App.RateLimit.Enabled)
	assert.Equal(t, 10.0, s.App.RateLimit.RequestsPerSecond, "defaults fill missing keys")
	assert.Equal(t, 2*time.Second, s.WS.AuthTimeout)
	assert.Equal(t, []string{"lobby", "news"}, s.WS.DefaultRooms)
	assert.Equal(t, "chat:", s.WS.Bus.Prefix)
	assert.True(t, s.Bus.Enabled)
	assert.Equal(t, bus.DriverRedis, s.Bus.Driver)
	require.NotNil(t, s.Bus.Redis)
	assert.Equal(t, "127.0.0.1:6379", s.Bus.Redis.Addr)
	assert.Equal(t, logger.DebugLevel, s.Log.Level)
	assert.Equal(t, "http://auth.local/ws", s.Webhook.AuthURL)
	assert.True(t, s.E2E.Enabled)
	assert.False(t, s.E2E.Required)
}

func TestLoadSettingsEnv(t *testing.T) {
	t.Setenv("QIWS_APP_SERVER_ADDR", ":7000")
	t.Setenv("QIWS_WS_MAX_CONNECTIONS", "42")

	s, _, err := loadSettings("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", s.App.Server.Addr)
	assert.Equal(t, 42, s.WS.MaxConnections)
}

func TestLoadSettingsMissingFile(t *testing.T) {
	_, _, err := loadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigCommand(t *testing.T) {
	out, err := execute(t, "config", "--config", writeConfig(t, testConfig))
	require.NoError(t, err)

	var printed map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &printed))
	require.Contains(t, printed, "ws")
	require.Contains(t, printed, "bus")

	// 输出本身是合法配置
	s, _, err := loadSettings(writeConfig(t, out))
	require.NoError(t, err)
	assert.Equal(t, ":9000", s.App.Server.Addr)
	assert.Equal(t, 2*time.Second, s.WS.AuthTimeout)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, app.Version+"\n", out)
}

func TestEmitCommandValidation(t *testing.T) {
	_, err := execute(t, "emit", "--event", "x")
	assert.ErrorContains(t, err, "exactly one of")

	_, err = execute(t, "emit", "--event", "x", "--room", "a", "--user", "u")
	assert.ErrorContains(t, err, "exactly one of")

	_, err = execute(t, "emit", "--event", "x", "--client", "c1", "--exclude", "c2")
	assert.ErrorContains(t, err, "--exclude")

	// 默认配置没有共享总线
	_, err = execute(t, "emit", "--event", "x", "--broadcast")
	assert.ErrorContains(t, err, "shared bus")
}

type call struct {
	method, target, event string
	data                  any
	exclude               []string
}

type fakeEmitter struct{ calls []call }

func (f *fakeEmitter) ToClient(ctx context.Context, connID, event string, data any) error {
	f.calls = append(f.calls, call{"client", connID, event, data, nil})
	return nil
}

func (f *fakeEmitter) ToUser(ctx context.Context, userID, event string, data any, exclude ...string) error {
	f.calls = append(f.calls, call{"user", userID, event, data, exclude})
	return nil
}

func (f *fakeEmitter) ToRoom(ctx context.Context, room, event string, data any, exclude ...string) error {
	f.calls = append(f.calls, call{"room", room, event, data, exclude})
	return nil
}

func (f *fakeEmitter) Broadcast(ctx context.Context, event string, data any, exclude ...string) error {
	f.calls = append(f.calls, call{"broadcast", "", event, data, exclude})
	return nil
}

func TestEmitDispatch(t *testing.T) {
	f := &fakeEmitter{}
	ctx := context.Background()

	require.NoError(t, emit(ctx, f, emitTarget{client: "c1"}, "a", nil, nil))
	require.NoError(t, emit(ctx, f, emitTarget{user: "u1"}, "b", nil, []string{"c1"}))
	require.NoError(t, emit(ctx, f, emitTarget{room: "lobby"}, "c", nil, nil))
	require.NoError(t, emit(ctx, f, emitTarget{broadcast: true}, "d", nil, nil))

	require.Len(t, f.calls, 4)
	assert.Equal(t, "client", f.calls[0].method)
	assert.Equal(t, []string{"c1"}, f.calls[1].exclude)
	assert.Equal(t, "lobby", f.calls[2].target)
	assert.Equal(t, "broadcast", f.calls[3].method)
}

func TestPayload(t *testing.T) {
	assert.Nil(t, payload(""))
	assert.Equal(t, json.RawMessage(`{"a":1}`), payload(`{"a":1}`))
	assert.Equal(t, "plain text", payload("plain text"))
}

func TestReloadLogLevel(t *testing.T) {
	_, cfg, err := loadSettings(writeConfig(t, testConfig))
	require.NoError(t, err)

	log, err := logger.New(&logger.Config{Level: logger.InfoLevel, Console: true})
	require.NoError(t, err)

	reloadLogLevel(cfg, log)
	assert.Equal(t, logger.DebugLevel, log.Level())

	cfg.Set("log.level", "loud")
	reloadLogLevel(cfg, log)
	assert.Equal(t, logger.DebugLevel, log.Level(), "unknown level is ignored")
}
