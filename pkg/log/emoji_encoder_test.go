package log

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestStatusEmoji(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{
			name:   "2xx success",
			status: 200,
			want:   "🟢",
		},
		{
			name:   "3xx redirect",
			status: 301,
			want:   "🟡",
		},
		{
			name:   "4xx client error",
			status: 429,
			want:   "🟠",
		},
		{
			name:   "5xx server error",
			status: 503,
			want:   "🔴",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := statusEmoji(tt.status)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmojiMap(t *testing.T) {
	// The log types the relay actually emits must all have a mapping.
	requiredTypes := []string{
		"api",
		"breaker",
		"provider",
		"fallback",
		"request",
		"rate_limit",
		"cache",
		"gateway",
		"registry",
		"audit",
		"stream",
	}

	m := GetEmojiMap()
	for _, logType := range requiredTypes {
		assert.Contains(t, m, logType, "missing emoji for type %s", logType)
	}
}

func TestGetEmojiMap_ReturnsCopy(t *testing.T) {
	m := GetEmojiMap()
	m["breaker"] = "changed"

	fresh := GetEmojiMap()
	assert.Equal(t, "🔌", fresh["breaker"])
}

func TestAddEmojiToMap(t *testing.T) {
	AddEmojiToMap("custom_type", "🧪")
	defer delete(emojiMap, "custom_type")

	m := GetEmojiMap()
	assert.Equal(t, "🧪", m["custom_type"])
}

func newTestEncoder() zapcore.Encoder {
	return NewEmojiConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		TimeKey:     "time",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
		LineEnding:  zapcore.DefaultLineEnding,
	})
}

func TestEmojiConsoleEncoder_TypeField(t *testing.T) {
	enc := newTestEncoder()

	entry := zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Time:    time.Now(),
		Message: "breaker tripped",
	}
	fields := []zapcore.Field{
		{Key: "type", Type: zapcore.StringType, String: "breaker"},
	}

	buf, err := enc.EncodeEntry(entry, fields)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "🔌 breaker tripped")
}

func TestEmojiConsoleEncoder_StatusWinsOverType(t *testing.T) {
	enc := newTestEncoder()

	entry := zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Time:    time.Now(),
		Message: "upstream rejected",
	}
	fields := []zapcore.Field{
		{Key: "type", Type: zapcore.StringType, String: "gateway"},
		{Key: "status", Type: zapcore.Int64Type, Integer: 503},
	}

	buf, err := enc.EncodeEntry(entry, fields)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "🔴 upstream rejected")
}

func TestEmojiConsoleEncoder_LevelFallback(t *testing.T) {
	enc := newTestEncoder()

	tests := []struct {
		name  string
		level zapcore.Level
		emoji string
	}{
		{"error level", zapcore.ErrorLevel, "❌"},
		{"warn level", zapcore.WarnLevel, "⚠️"},
		{"info level", zapcore.InfoLevel, "ℹ️"},
		{"debug level", zapcore.DebugLevel, "🐛"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := zapcore.Entry{
				Level:   tt.level,
				Time:    time.Now(),
				Message: "plain message",
			}

			buf, err := enc.EncodeEntry(entry, nil)
			require.NoError(t, err)
			assert.Contains(t, buf.String(), tt.emoji+" plain message")
		})
	}
}

func TestEmojiConsoleEncoder_Clone(t *testing.T) {
	enc := newTestEncoder()
	clone := enc.Clone()

	require.NotNil(t, clone)

	entry := zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Time:    time.Now(),
		Message: "cloned",
	}
	buf, err := clone.EncodeEntry(entry, []zapcore.Field{
		{Key: "type", Type: zapcore.StringType, String: "startup"},
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "🚀 cloned")
}
