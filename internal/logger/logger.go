// Package logger builds the process zap logger and carries a per-invocation
// logger through context.
package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unclebandit/outreach-engine/internal/config"
)

// New creates a production JSON logger, or a console logger in development.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	base := zap.NewProductionConfig()
	if cfg.Development {
		base = zap.NewDevelopmentConfig()
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	base.Level = zap.NewAtomicLevelAt(level)
	base.DisableStacktrace = true

	return base.Build()
}

type ctxLoggerKey struct{}

// ToContext ...
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}

// Extract returns the logger stored in ctx, or a no-op logger.
func Extract(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxLoggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}
