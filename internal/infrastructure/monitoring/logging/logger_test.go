package logging

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func newTestLogger(t *testing.T, level zapcore.Level) (Logger, *zaptest.Buffer) {
	t.Helper()
	buf := &zaptest.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), buf, level)
	return NewLoggerFromCore(core), buf
}

func TestNewLogger_JSONFormat(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: LevelInfo, Format: "json", OutputPaths: []string{"stdout"}})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: LevelDebug, Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNewLogger_UnopenablePath(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{"/nonexistent-dir/sub/app.log"}})
	assert.Error(t, err)
	assert.Nil(t, l)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"DEBUG":   zapcore.DebugLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestZapLogger_WritesLevelsAndFields(t *testing.T) {
	l, buf := newTestLogger(t, zapcore.DebugLevel)

	l.Debug("debug msg", String("deal_id", "42"))
	l.Info("info msg", Int("count", 3), Int64("big", 1<<40))
	l.Warn("warn msg", Float64("rate", 0.001), Bool("expired", true))
	l.Error("error msg", Err(errors.New("boom")), Duration("took", time.Second))

	out := buf.String()
	assert.Contains(t, out, `"msg":"debug msg"`)
	assert.Contains(t, out, `"deal_id":"42"`)
	assert.Contains(t, out, `"count":3`)
	assert.Contains(t, out, `"rate":0.001`)
	assert.Contains(t, out, `"expired":true`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"level":"error"`)
	assert.Len(t, buf.Lines(), 4)
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	l, buf := newTestLogger(t, zapcore.WarnLevel)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	assert.Len(t, buf.Lines(), 1)
	assert.False(t, strings.Contains(buf.String(), "hidden"))
}

func TestZapLogger_WithAndNamed(t *testing.T) {
	l, buf := newTestLogger(t, zapcore.DebugLevel)

	child := l.Named("sync").With(String("phone", "+79990000000"))
	child.Info("synced")
	l.Info("parent")

	lines := buf.Lines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"logger":"sync"`)
	assert.Contains(t, lines[0], `"phone":"+79990000000"`)
	assert.NotContains(t, lines[1], "phone")
}

func TestErr_Nil(t *testing.T) {
	f := Err(nil)
	assert.Equal(t, "error", f.Key)
	assert.Equal(t, "<nil>", f.Value)
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Debug("msg")
	l.Info("msg")
	l.Warn("msg")
	l.Error("msg")
	assert.Equal(t, l, l.With(String("k", "v")))
	assert.Equal(t, l, l.Named("x"))
	assert.NoError(t, l.Sync())
}

func TestDefault_SetAndGet(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	l, _ := newTestLogger(t, zapcore.InfoLevel)
	SetDefault(l)
	assert.Same(t, l, Default())

	SetDefault(nil)
	assert.Same(t, l, Default())
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l, _ := newTestLogger(t, zapcore.InfoLevel)
	assert.Same(t, l, OrNop(l))
}
