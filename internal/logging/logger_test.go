package logging

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/roadmapd/internal/config"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Equal(t, cfg, logger.config)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format must be")
}

func TestLogger_ContextFields(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}

	ctx := WithOrgID(context.Background(), 42)
	ctx = WithRunID(ctx, "run_123")
	ctx = WithRequestID(ctx, "req-9")

	tests := []struct {
		name  string
		log   func()
		level zapcore.Level
	}{
		{"debug", func() { logger.Debug(ctx, "msg") }, zapcore.DebugLevel},
		{"info", func() { logger.Info(ctx, "msg") }, zapcore.InfoLevel},
		{"warn", func() { logger.Warn(ctx, "msg") }, zapcore.WarnLevel},
		{"error", func() { logger.Error(ctx, "msg") }, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observed.TakeAll()
			tt.log()

			logs := observed.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level)
			fields := logs[0].ContextMap()
			assert.Equal(t, int64(42), fields["org_id"])
			assert.Equal(t, "run_123", fields["run_id"])
			assert.Equal(t, "req-9", fields["request_id"])
		})
	}
}

func TestWithRunID_IgnoresInvalid(t *testing.T) {
	ctx := WithRunID(context.Background(), "bad id; drop table")
	assert.Equal(t, "", RunIDFromContext(ctx))

	_, ok := OrgIDFromContext(ctx)
	assert.False(t, ok)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "stored")
	tl.AssertLogged(t, zapcore.InfoLevel, "stored")
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel))

	logger.Info("call",
		zap.String("api_key", "sk-abcdefghijklmnopqrstuvwxyz"),
		zap.String("header", "Bearer abc.def"),
		zap.String("document", "plain text"),
		Secret("llm_key", config.Secret("12345")),
	)

	out := buf.String()
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuvwxyz")
	assert.NotContains(t, out, "abc.def")
	assert.Contains(t, out, `"api_key":"[REDACTED]"`)
	assert.Contains(t, out, `"header":"[REDACTED:pattern]"`)
	assert.Contains(t, out, `"document":"plain text"`)
	assert.Contains(t, out, `"llm_key":"[REDACTED:5]"`)
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel)).
		With(zap.String("token", "t0k3n"))
	logger.Info("child")

	assert.NotContains(t, buf.String(), "t0k3n")
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Minute),
		Initial:    1,
		Thereafter: 0,
	})
	logger := zap.New(sampled)

	for i := 0; i < 5; i++ {
		logger.Info("repeated")
		logger.Error("failure")
	}

	assert.Equal(t, 1, observed.FilterMessage("repeated").Len())
	assert.Equal(t, 5, observed.FilterMessage("failure").Len())
}

func TestConfigFromObservability(t *testing.T) {
	cfg, err := ConfigFromObservability(config.ObservabilityConfig{
		LogLevel:    "debug",
		LogFormat:   "console",
		ServiceName: "roadmapd-test",
	})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "roadmapd-test", cfg.Fields["service"])

	_, err = ConfigFromObservability(config.ObservabilityConfig{LogLevel: "loud"})
	assert.Error(t, err)
}
