package log

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type key int

const (
	fieldsKey key = iota
)

// WithContext enriches the logger with fields from the context
func WithContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	return logger.With(Fields(ctx)...)
}

// WithFields adds log fields to the context
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	parent := Fields(ctx)
	merged := make([]zap.Field, 0, len(parent)+len(fields))
	merged = append(merged, parent...)

	return context.WithValue(ctx, fieldsKey, append(merged, fields...))
}

// Fields extracts log fields from the context
func Fields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return []zap.Field{}
	}

	fields, ok := ctx.Value(fieldsKey).([]zap.Field)

	if !ok {
		return []zap.Field{}
	}

	return fields
}

// Operation returns a logger for a single named operation enriched
// with the fields carried by ctx.
func Operation(ctx context.Context, logger *zap.Logger, operation string) *zap.Logger {
	return WithContext(ctx, logger).With(zap.String("operation", operation))
}

// New builds a console logger writing at the given level.
// An empty level means info.
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level

	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %s", level, err)
		}
	}

	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = zap.NewAtomicLevelAt(lvl)

	return config.Build()
}
