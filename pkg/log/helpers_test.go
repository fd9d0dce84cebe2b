package log

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// createTestLogger builds a LogHelper backed by an in-memory buffer so
// tests can inspect the emitted JSON.
func createTestLogger() (*LogHelper, *bytes.Buffer) {
	buf := &bytes.Buffer{}

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		TimeKey:     "time",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(buf),
		zapcore.DebugLevel,
	)

	zapLogger := zap.New(core)
	kratosLogger := NewKratosAdapter(zapLogger)
	helper := NewLogHelper(kratosLogger)

	return helper, buf
}

func TestNewLogHelper(t *testing.T) {
	zapLogger := zap.NewNop()
	kratosLogger := NewKratosAdapter(zapLogger)
	helper := NewLogHelper(kratosLogger)

	require.NotNil(t, helper)
}

func TestLogHelper_Breaker(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Breaker("state changed", "breaker", "ai-openai", "from", "CLOSED", "to", "OPEN")

	output := buf.String()
	assert.Contains(t, output, "state changed")
	assert.Contains(t, output, `"type":"breaker"`)
	assert.Contains(t, output, "ai-openai")
}

func TestLogHelper_Fallback_WarnLevel(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Fallback("provider failed, trying next", "provider", "openai-primary")

	output := buf.String()
	assert.Contains(t, output, `"level":"warn"`)
	assert.Contains(t, output, `"type":"fallback"`)
}

func TestLogHelper_RateLimit_WarnLevel(t *testing.T) {
	helper, buf := createTestLogger()

	helper.RateLimit("call rejected", "source_id", "weather-api", "retry_after_ms", int64(350))

	output := buf.String()
	assert.Contains(t, output, `"level":"warn"`)
	assert.Contains(t, output, `"type":"rate_limit"`)
	assert.Contains(t, output, "weather-api")
}

func TestLogHelper_Cache_DebugLevel(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Cache("cache hit", "key", "a1b2c3")

	output := buf.String()
	assert.Contains(t, output, `"level":"debug"`)
	assert.Contains(t, output, `"type":"cache"`)
}

func TestLogHelper_BreakerTripped(t *testing.T) {
	helper, buf := createTestLogger()

	helper.BreakerTripped("ai-router", 5, 60000)

	output := buf.String()
	assert.Contains(t, output, `"level":"warn"`)
	assert.Contains(t, output, "tripped after 5 failures")
	assert.Contains(t, output, `"failure_count":5`)
	assert.Contains(t, output, `"reset_timeout_ms":60000`)
}

func TestLogHelper_BreakerRecovered(t *testing.T) {
	helper, buf := createTestLogger()

	helper.BreakerRecovered("ai-router", 2)

	output := buf.String()
	assert.Contains(t, output, "recovered after 2 successful probes")
	assert.Contains(t, output, `"probe_count":2`)
}

func TestLogHelper_StreamStats(t *testing.T) {
	helper, buf := createTestLogger()

	ctx := WithRequestContext(context.Background(), "req12345ab", "technical")
	helper.StreamStats(ctx, "openai-primary", "gpt-4o", 42, 8192, 1500)

	output := buf.String()
	assert.Contains(t, output, "req12345ab")
	assert.Contains(t, output, `"provider":"openai-primary"`)
	assert.Contains(t, output, `"chunks":42`)
	assert.Contains(t, output, `"type":"stream"`)
}

func TestLogHelper_RequestWithContext_SlowRequest(t *testing.T) {
	helper, buf := createTestLogger()

	ctx := WithRequestContext(context.Background(), "req12345ab", "business")
	helper.RequestWithContext(ctx, "POST", "/v1/relay/completions", 200, 2500)

	output := buf.String()
	// Both the request line and the automatic slow request warning
	assert.Contains(t, output, `"type":"request"`)
	assert.Contains(t, output, `"type":"slow_request"`)
	lines := strings.Split(strings.TrimSpace(output), "\n")
	assert.Len(t, lines, 2)
}

func TestLogHelper_RequestWithContext_FastRequest(t *testing.T) {
	helper, buf := createTestLogger()

	ctx := WithRequestContext(context.Background(), "reqfast001", "creative")
	helper.RequestWithContext(ctx, "GET", "/v1/status/breakers", 200, 12)

	output := buf.String()
	assert.Contains(t, output, `"type":"request"`)
	assert.NotContains(t, output, "slow_request")
}

func TestLogHelper_CacheStats(t *testing.T) {
	helper, buf := createTestLogger()

	helper.CacheStats(context.Background(), "gateway-responses", 512, 1024, 900, 100, 7)

	output := buf.String()
	assert.Contains(t, output, `"cache_name":"gateway-responses"`)
	assert.Contains(t, output, `"hit_rate":"90.00%"`)
	assert.Contains(t, output, `"type":"cache_stats"`)
}

func TestLogHelper_GatewayWithContext(t *testing.T) {
	helper, buf := createTestLogger()

	ctx := WithRequestContext(context.Background(), "reqgw00001", "")
	SetSourceID(ctx, "finance-api")
	helper.GatewayWithContext(ctx, "upstream call ok", "status", 200)

	output := buf.String()
	assert.Contains(t, output, "[reqgw00001] upstream call ok")
	assert.Contains(t, output, `"source_id":"finance-api"`)
}
