package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallplay/wallplay/internal/config"
)

func TestNewLoggerWithWriter_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.Info("hello", slog.String("key", "value"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestNewLoggerWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		logDebug   bool
		wantOutput bool
	}{
		{"debug visible at debug level", "debug", true, true},
		{"debug hidden at info level", "info", true, false},
		{"info visible at info level", "info", false, true},
		{"info hidden at error level", "error", false, false},
		{"unknown level defaults to info", "bogus", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(config.LoggingConfig{Level: tt.level, Format: "json"}, &buf)

			if tt.logDebug {
				logger.Debug("probe")
			} else {
				logger.Info("probe")
			}
			assert.Equal(t, tt.wantOutput, buf.Len() > 0)
		})
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	WithComponent(logger, "sequencer").Info("tick")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sequencer", entry["component"])
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	WithError(logger, assert.AnError).Info("failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, assert.AnError.Error(), entry["error"])

	// nil error leaves the logger unchanged
	assert.Same(t, logger, WithError(logger, nil))
}

func TestLoggerContextRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx := ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, LoggerFromContext(ctx))

	// Missing logger falls back to the default.
	assert.NotNil(t, LoggerFromContext(context.Background()))
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	done := TimedOperation(context.Background(), logger, "probe_asset")
	done()

	out := buf.String()
	assert.Contains(t, out, "operation started")
	assert.Contains(t, out, "operation completed")
	assert.Contains(t, out, "probe_asset")
}
