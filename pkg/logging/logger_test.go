package logging

import (
	"context"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseLevel(tt.in); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_DEV", "true")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "")

	config := ConfigFromEnv()
	if !config.Development {
		t.Error("Expected development mode")
	}
	if config.Level != "warn" {
		t.Errorf("Expected level warn, got %s", config.Level)
	}
	if config.Format != "console" {
		t.Errorf("Expected console format in dev mode, got %s", config.Format)
	}
}

func TestNewLogger(t *testing.T) {
	config := DefaultConfig()
	config.OutputPaths = []string{"stderr"}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if logger.Named("wallet") == nil {
		t.Error("Named returned nil")
	}
}

func TestFromContext(t *testing.T) {
	fallback := NewNoOpLogger()
	scoped := NewNoOpLogger()

	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Error("Expected fallback logger for empty context")
	}

	ctx := WithContext(context.Background(), scoped)
	if got := FromContext(ctx, fallback); got != scoped {
		t.Error("Expected scoped logger from context")
	}

	if got := FromContext(context.Background(), nil); got != Global() {
		t.Error("Expected global logger when no fallback is given")
	}
}
