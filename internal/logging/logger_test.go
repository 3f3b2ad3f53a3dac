package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("info")
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil logger")
	}
	defer logger.Sync()

	logger.Info("test message", zap.String("key", "value"))
}

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level   string
		debugOn bool
		infoOn  bool
		warnOn  bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"", false, true, true},
		{"warn", false, false, true},
		{"nonsense", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(tt.level)
			if err != nil {
				t.Fatalf("NewLogger(%q) failed: %v", tt.level, err)
			}
			defer logger.Sync()

			core := logger.Core()
			if core.Enabled(zapcore.DebugLevel) != tt.debugOn {
				t.Errorf("debug enabled = %v, want %v", !tt.debugOn, tt.debugOn)
			}
			if core.Enabled(zapcore.InfoLevel) != tt.infoOn {
				t.Errorf("info enabled = %v, want %v", !tt.infoOn, tt.infoOn)
			}
			if core.Enabled(zapcore.WarnLevel) != tt.warnOn {
				t.Errorf("warn enabled = %v, want %v", !tt.warnOn, tt.warnOn)
			}
			if !core.Enabled(zapcore.ErrorLevel) {
				t.Error("Logger should be enabled at Error level")
			}
		})
	}
}

func TestFromContextAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := ContextWithFields(context.Background(), zap.String("request_id", "req-1"))
	ctx = ContextWithFields(ctx, zap.String("model", "imagen-4"))
	FromContext(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["model"] != "imagen-4" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestFromContextWithoutFields(t *testing.T) {
	if FromContext(context.Background(), nil) == nil {
		t.Fatal("expected a no-op logger for nil base")
	}
	base := zap.NewNop()
	if got := FromContext(context.Background(), base); got != base {
		t.Fatal("expected base logger to be returned unchanged")
	}
}
