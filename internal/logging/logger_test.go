package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		enabled  slog.Level
		disabled slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug, slog.Level(-8)},
		{"warn level", "WARN", slog.LevelWarn, slog.LevelInfo},
		{"error level", "error", slog.LevelError, slog.LevelWarn},
		{"default info", "", slog.LevelInfo, slog.LevelDebug},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			assert.True(t, logger.Enabled(ctx, tt.enabled))
			assert.False(t, logger.Enabled(ctx, tt.disabled))
		})
	}
}

func TestComponentAndAppointmentFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf).Component("negotiator").WithAppointment("apt-1")

	logger.Info("proposal expired", "reason", "reschedule expired")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "negotiator", entry["component"])
	assert.Equal(t, "apt-1", entry["appointment_id"])
	assert.Equal(t, "reschedule expired", entry["reason"])
}

func TestDefaultReturnsNewInstances(t *testing.T) {
	a, b := Default(), Default()
	require.NotNil(t, a.Logger)
	assert.NotSame(t, a, b)
}
