package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
server:
  auth_timeout: 3s
  default_rooms: lobby,news
  max_connections: 200
bus:
  driver: redis
  prefix: "qiws:"
`

func writeTestConfig(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

type testServer struct {
	AuthTimeout    time.Duration `mapstructure:"auth_timeout"`
	DefaultRooms   []string      `mapstructure:"default_rooms"`
	MaxConnections int           `mapstructure:"max_connections"`
}

// textLevel 用于验证 TextUnmarshaler 钩子
type textLevel int

func (l *textLevel) UnmarshalText(b []byte) error {
	*l = textLevel(len(b))
	return nil
}

// TestLoad 测试加载配置文件
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	assert.Equal(t, "redis", c.GetString("bus.driver"))
	assert.Equal(t, 200, c.GetInt("server.max_connections"))
	assert.Equal(t, cfgPath, c.ConfigFileUsed())
}

// TestLoadWithNameAndPaths 测试按名称搜索配置文件
func TestLoadWithNameAndPaths(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "qiws.yaml", testYAML)

	c := New(
		WithConfigName("qiws"),
		WithConfigType("yaml"),
		WithConfigPaths(dir),
	)
	require.NoError(t, c.Load())
	assert.Equal(t, "qiws:", c.GetString("bus.prefix"))
}

// TestLoadNotFound 测试配置文件不存在
func TestLoadNotFound(t *testing.T) {
	c := New(WithConfigName("missing"), WithConfigPaths(t.TempDir()))
	err := c.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	c = New(WithConfigName("missing"), WithConfigPaths(t.TempDir()), WithOptional(true))
	assert.NoError(t, c.Load())
}

// TestUnmarshalKey 测试反序列化（时间间隔、逗号切片）
func TestUnmarshalKey(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	var s testServer
	require.NoError(t, c.UnmarshalKey("server", &s))
	assert.Equal(t, 3*time.Second, s.AuthTimeout)
	assert.Equal(t, []string{"lobby", "news"}, s.DefaultRooms)
	assert.Equal(t, 200, s.MaxConnections)
}

// TestUnmarshalTextHook 测试 TextUnmarshaler 钩子
func TestUnmarshalTextHook(t *testing.T) {
	c := New(WithDefaults(map[string]any{"log": map[string]any{"level": "abcd"}}))
	require.NoError(t, c.Load())

	var out struct {
		Level textLevel `mapstructure:"level"`
	}
	require.NoError(t, c.UnmarshalKey("log", &out))
	assert.Equal(t, textLevel(4), out.Level)
}

// TestEnvOverride 测试环境变量覆盖
func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", testYAML)
	t.Setenv("QIWS_BUS_DRIVER", "memory")

	c := New(
		WithConfigFile(cfgPath),
		WithEnvPrefix("QIWS"),
		WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
	)
	require.NoError(t, c.Load())
	assert.Equal(t, "memory", c.GetString("bus.driver"))
}

// TestWatch 测试监控状态切换
func TestWatch(t *testing.T) {
	c := New()
	require.NoError(t, c.Load())
	assert.Error(t, c.StartWatch())

	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", testYAML)
	c = New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())
	require.NoError(t, c.StartWatch())
	assert.True(t, c.IsWatching())
	c.Close()
	assert.False(t, c.IsWatching())
}

type defaultsInner struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Hosts   []string      `mapstructure:"hosts"`
}

type defaultsSample struct {
	Name     string            `mapstructure:"name"`
	Inner    defaultsInner     `mapstructure:"inner"`
	Optional *defaultsInner    `mapstructure:"optional"`
	Callback func()            `mapstructure:"-"`
	Labels   map[string]string `mapstructure:"labels"`
	Embedded defaultsEmbedded  `mapstructure:",squash"`
	Untagged int
}

type defaultsEmbedded struct {
	Flag bool `mapstructure:"flag"`
}

func TestDefaults(t *testing.T) {
	got := Defaults("app", &defaultsSample{
		Name:     "qiws",
		Inner:    defaultsInner{Timeout: 5 * time.Second},
		Callback: func() {},
		Embedded: defaultsEmbedded{Flag: true},
		Untagged: 3,
	})

	assert.Equal(t, map[string]any{
		"app.name":          "qiws",
		"app.inner.timeout": "5s",
		"app.flag":          true,
		"app.untagged":      3,
	}, got)
}

func TestDefaultsRoundTrip(t *testing.T) {
	cfg := New(WithDefaults(Defaults("app", &defaultsSample{
		Inner: defaultsInner{Timeout: 5 * time.Second, Hosts: []string{"a", "b"}},
	})))
	require.NoError(t, cfg.Load())

	var out struct {
		App defaultsSample `mapstructure:"app"`
	}
	require.NoError(t, cfg.Unmarshal(&out))
	assert.Equal(t, 5*time.Second, out.App.Inner.Timeout)
	assert.Equal(t, []string{"a", "b"}, out.App.Inner.Hosts)
}
