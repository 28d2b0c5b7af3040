package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/truthd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := stdout
	stdout = buf
	t.Cleanup(func() { stdout = prev })
	return buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger_WritesJSONWithServiceField(t *testing.T) {
	buf := captureStdout(t)
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	logger.Info(context.Background(), "pr built", zap.Int64("pr_id", 3))
	require.NoError(t, logger.Sync())

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "pr built", lines[0]["msg"])
	assert.Equal(t, "truthd", lines[0]["service"])
	assert.EqualValues(t, 3, lines[0]["pr_id"])
}

func TestNewLogger_RedactsSensitiveValues(t *testing.T) {
	buf := captureStdout(t)
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	logger.Info(context.Background(), "calling gateway",
		zap.String("api_key", "sk-abcdefghijklmnopqrstuvwxyz"),
		zap.String("header", "Bearer abc.def"),
		Secret("db", config.Secret("postgres://u:p@h/db")),
	)
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuvwxyz")
	assert.NotContains(t, out, "abc.def")
	assert.NotContains(t, out, "u:p@h")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "[REDACTED:pattern]")
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	buf := captureStdout(t)
	cfg := NewDefaultConfig()
	cfg.Level = zapcore.WarnLevel
	cfg.Sampling.Enabled = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()
	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	logger.Warn(ctx, "warn")
	logger.Error(ctx, "error")
	require.NoError(t, logger.Sync())

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["msg"])
	assert.Equal(t, "error", lines[1]["msg"])
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LogConfig{Level: "trace", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromAppConfig(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithPRID(ctx, 42)
	ctx = WithTurnID(ctx, 7)

	tl.Info(ctx, "routed")

	tl.AssertField(t, "routed", "trace_id", traceID.String())
	tl.AssertField(t, "routed", "span_id", spanID.String())
	tl.AssertField(t, "routed", "request.id", "req-1")
	tl.AssertField(t, "routed", "pr.id", int64(42))
	tl.AssertField(t, "routed", "turn.id", int64(7))
}

func TestWithRequestID_RejectsBadIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(WithRequestID(ctx, "has space")))
	assert.Empty(t, RequestIDFromContext(WithRequestID(ctx, strings.Repeat("a", 129))))
	assert.Equal(t, "abc_DEF-1", RequestIDFromContext(WithRequestID(ctx, "abc_DEF-1")))
}

func TestLogger_TraceLevel(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "prompt payload")
	tl.AssertLogged(t, TraceLevel, "prompt payload")
	tl.AssertNotLogged(t, zapcore.DebugLevel, "prompt payload")
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	buf := captureStdout(t)
	cfg := NewDefaultConfig()
	cfg.Sampling.Initial = 1
	cfg.Sampling.Thereafter = 0

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		logger.Info(ctx, "repeated")
		logger.Error(ctx, "failure")
	}
	require.NoError(t, logger.Sync())

	var infos, errs int
	for _, line := range decodeLines(t, buf) {
		switch line["msg"] {
		case "repeated":
			infos++
		case "failure":
			errs++
		}
	}
	assert.Equal(t, 1, infos)
	assert.Equal(t, 5, errs)
}
