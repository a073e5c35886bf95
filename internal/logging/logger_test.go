package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	assert.NotNil(t, logger.Underlying())

	cfg := NewDefaultConfig()
	cfg.Format = "yaml"
	_, err = NewLogger(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewLogger_OTELWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	assert.False(t, logger.Enabled(zapcore.ErrorLevel))
}

func TestLogger_AppendsContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithUser(ctx, "alice")

	tl.Info(ctx, "run started", zap.Int("files", 3))

	tl.AssertLogged(t, zapcore.InfoLevel, "run started")
	tl.AssertField(t, "run started", "run.id", "run-1")
	tl.AssertField(t, "run started", "user.name", "alice")
	tl.AssertField(t, "run started", "files", int64(3))
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Debug(ctx, "d")
	tl.Info(ctx, "i")
	tl.Warn(ctx, "w")
	tl.Error(ctx, "e")

	var levels []zapcore.Level
	for _, e := range tl.All() {
		levels = append(levels, e.Level)
	}
	assert.Equal(t, []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}, levels)

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestLogger_SkipsDisabledLevels(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := FromZap(zap.New(core))

	logger.Info(WithRunID(context.Background(), "run-1"), "ignored")
	logger.Warn(context.Background(), "kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
}

func TestLogger_WithAndNamed(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := FromZap(zap.New(core)).Named("indexing").With(zap.String("collection", "documents"))

	logger.Info(context.Background(), "stored")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "indexing", entry.LoggerName)
	assert.Equal(t, "documents", entry.ContextMap()["collection"])
}

func TestLogger_CallerIsTheCallSite(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := FromZap(zap.New(core, zap.AddCaller()))

	logger.Info(context.Background(), "here")

	require.Equal(t, 1, logs.Len())
	assert.True(t, strings.HasSuffix(logs.All()[0].Caller.File, "logger_test.go"), logs.All()[0].Caller.File)
}

func TestFromZap_Nil(t *testing.T) {
	logger := FromZap(nil)
	assert.False(t, logger.Enabled(zapcore.ErrorLevel))
	assert.NoError(t, Nop().Sync())
}

func TestSample(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sampled := zap.New(sample(core, SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 2}))

	for range 5 {
		sampled.Info("repeated")
		sampled.Error("failed")
	}

	assert.Equal(t, 2, logs.FilterMessage("repeated").Len())
	assert.Equal(t, 5, logs.FilterMessage("failed").Len(), "errors are never sampled")
}

func TestSample_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	assert.Equal(t, core, sample(core, SamplingConfig{}))
}

func TestLevelRange(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := levelRange{Core: core, min: zapcore.InfoLevel, max: zapcore.WarnLevel}

	assert.False(t, r.Enabled(zapcore.DebugLevel))
	assert.True(t, r.Enabled(zapcore.InfoLevel))
	assert.True(t, r.Enabled(zapcore.WarnLevel))
	assert.False(t, r.Enabled(zapcore.ErrorLevel))

	z := zap.New(r).With(zap.String("k", "v"))
	z.Info("in")
	z.Error("out")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "v", logs.All()[0].ContextMap()["k"])
}

func TestConsoleCore_RedactsJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	core, err := newConsoleCore(cfg, zapcore.AddSync(&buf))
	require.NoError(t, err)

	zap.New(core).With(zap.String("authorization", "Bearer abc")).Info("calling model",
		zap.String("api_key", "sk-live-0123456789abcdef"),
		zap.String("note", "key sk-live-0123456789abcdef leaked"),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "calling model", entry["msg"])
	assert.Equal(t, "[REDACTED]", entry["authorization"])
	assert.Equal(t, "[REDACTED]", entry["api_key"])
	assert.Equal(t, "key [REDACTED] leaked", entry["note"])
	assert.NotContains(t, buf.String(), "0123456789abcdef")
}

func TestConsoleCore_Console(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Format = "console"
	cfg.Redaction.Enabled = false
	core, err := newConsoleCore(cfg, zapcore.AddSync(&buf))
	require.NoError(t, err)

	zap.New(core).Warn("slow batch")
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "slow batch")
}
