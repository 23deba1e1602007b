// Package observability provides structured logging, request metadata
// propagation and Prometheus metrics for the rentiful API.
package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger. format is "json" or "console"; console
// output uses the development encoder with colored levels.
func NewLogger(level, format string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "", "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// WithContext returns logger annotated with the request metadata stored in ctx
func WithContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	meta, ok := RequestMetaFrom(ctx)
	if !ok {
		return logger
	}
	fields := make([]zap.Field, 0, 2)
	if meta.ID != "" {
		fields = append(fields, zap.String("request_id", meta.ID))
	}
	if meta.Route != "" {
		fields = append(fields, zap.String("route", meta.Route))
	}
	return logger.With(fields...)
}
