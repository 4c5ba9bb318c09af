package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level       string
		development bool
		enabled     zapcore.Level
		disabled    zapcore.Level
	}{
		{"debug", true, zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"info", false, zapcore.InfoLevel, zapcore.DebugLevel},
		{"warn", false, zapcore.WarnLevel, zapcore.InfoLevel},
		{"error", true, zapcore.ErrorLevel, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := New(tt.level, tt.development)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("expected %v to be enabled", tt.enabled)
			}
			if logger.Core().Enabled(tt.disabled) {
				t.Errorf("expected %v to be disabled", tt.disabled)
			}
		})
	}

	t.Run("Invalid level", func(t *testing.T) {
		if _, err := New("verbose", false); err == nil {
			t.Error("expected error for unknown level")
		}
	})
}
