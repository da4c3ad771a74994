package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vodarr/internal/config"
)

func TestNewLoggerWithWriter_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.Logging{Level: "info", Format: "json"}, &buf)

	logger.Info("stream started", slog.String("source", "https://example.com/watch?v=abc"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stream started", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.Logging{Level: "warn", Format: "json"}, &buf)

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	assert.Zero(t, buf.Len())

	logger.Warn("visible")
	assert.NotZero(t, buf.Len())
}

func TestNewLoggerWithWriter_RedactsSignedURLs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.Logging{Level: "info", Format: "json"}, &buf)

	logger.Info("resolved direct url",
		slog.String("url", "https://cdn.example.com/video.mp4?expire=1700000000&signature=deadbeef"))

	out := buf.String()
	assert.NotContains(t, out, "deadbeef")
	assert.NotContains(t, out, "1700000000")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.Logging{Level: "info", Format: "text"}, &buf)

	WithComponent(logger, "extractor").Info("spawned")
	assert.True(t, strings.Contains(buf.String(), "component=extractor"))
}
