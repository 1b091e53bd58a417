package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			logger, err := New(tt.level, "text")
			require.NoError(t, err)
			assert.True(t, logger.Enabled(t.Context(), tt.enabled))
			assert.False(t, logger.Enabled(t.Context(), tt.enabled-1))
		})
	}
}

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"text", "json", ""} {
		_, err := New("info", format)
		assert.NoError(t, err, "format %q", format)
	}
}

func TestNew_RejectsUnknownValues(t *testing.T) {
	_, err := New("verbose", "text")
	assert.ErrorContains(t, err, "unsupported log level")

	_, err = New("info", "xml")
	assert.ErrorContains(t, err, "unsupported log format")
}
