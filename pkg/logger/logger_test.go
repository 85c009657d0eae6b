package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestNew 测试创建 Logger
func TestNew(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		config *Config
	}{
		{name: "nil config", config: nil},
		{name: "console output", config: &Config{Level: InfoLevel, Format: JSONFormat, Console: true}},
		{name: "file output", config: &Config{Format: JSONFormat, File: filepath.Join(dir, "test.log")}},
		{name: "rotate output", config: &Config{Rotate: &RotateConfig{Filename: filepath.Join(dir, "rotate.log")}}},
		{name: "sampling", config: &Config{Sampling: &SamplingConfig{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			require.NoError(t, err)
			require.NotNil(t, l)
			_ = l.Sync()
		})
	}
}

// TestSetLevel 测试动态调整级别
func TestSetLevel(t *testing.T) {
	l, err := NewWithOptions(WithLevel(InfoLevel))
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, l.Level())

	l.SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, l.Level())

	// 子 Logger 共享级别
	child := l.With(zap.String("k", "v"))
	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, child.Level())
}

// TestContextFields 测试从 Context 提取连接字段
func TestContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core))

	ctx := WithConnID(context.Background(), "conn-1")
	ctx = WithUserID(ctx, "u1")
	l.InfoContext(ctx, "hello", zap.Int("n", 1))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "conn-1", fields["conn_id"])
	assert.Equal(t, "u1", fields["user_id"])
	assert.EqualValues(t, 1, fields["n"])
}

// TestParseLevel 测试级别解析
func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("warn")
	assert.True(t, ok)
	assert.Equal(t, WarnLevel, lvl)

	_, ok = ParseLevel("verbose")
	assert.False(t, ok)

	var l Level
	require.NoError(t, l.UnmarshalText([]byte("debug")))
	assert.Equal(t, DebugLevel, l)
	assert.Error(t, l.UnmarshalText([]byte("nope")))
}

// TestFileOutput 测试文件输出
func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l, err := NewWithOptions(WithFileOutput(path), WithFormat(JSONFormat))
	require.NoError(t, err)

	l.Info("written")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")
}

// TestNop 测试空 Logger
func TestNop(t *testing.T) {
	l := Nop()
	l.Error("ignored")
	l.Named("x").With(zap.String("a", "b")).Warn("ignored")
	assert.NoError(t, l.Sync())
}

func TestFormatValidation(t *testing.T) {
	var f Format
	require.NoError(t, f.UnmarshalText([]byte("console")))
	assert.Equal(t, ConsoleFormat, f)
	require.NoError(t, f.UnmarshalText(nil))
	assert.Equal(t, JSONFormat, f)
	assert.Error(t, f.UnmarshalText([]byte("xml")))

	_, err := New(&Config{Format: "xml", Console: true})
	assert.Error(t, err)
}

func TestNewDoesNotModifyConfig(t *testing.T) {
	cfg := &Config{Sampling: &SamplingConfig{}}
	_, err := New(cfg)
	require.NoError(t, err)
	assert.Empty(t, cfg.Format)
	assert.False(t, cfg.Console)
	assert.Zero(t, cfg.Sampling.Initial)

	_, err = New(&Config{Rotate: &RotateConfig{}})
	assert.Error(t, err)
}
