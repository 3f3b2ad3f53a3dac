package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey struct{}

// NewLogger creates a structured logger configured for production-style JSON
// output at the given level (debug, info, warn, error). An empty or unknown
// level means info.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = zapcore.InfoLevel
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// ContextWithFields attaches request-scoped fields that FromContext adds to
// any component logger.
func ContextWithFields(ctx context.Context, fields ...zap.Field) context.Context {
	if prev, ok := ctx.Value(contextKey{}).([]zap.Field); ok {
		fields = append(append([]zap.Field{}, prev...), fields...)
	}
	return context.WithValue(ctx, contextKey{}, fields)
}

// FromContext returns base extended with the fields stored in ctx. A nil base
// yields a no-op logger.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}
	if fields, ok := ctx.Value(contextKey{}).([]zap.Field); ok && len(fields) > 0 {
		return base.With(fields...)
	}
	return base
}
