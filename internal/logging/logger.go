// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L is the process-wide logger. InitLogger must be called once at startup;
// until then L is a no-op logger so early code paths never nil-panic.
var L = zap.NewNop()

// InitLogger builds the global logger. Safe to call more than once; the
// last call wins.
func InitLogger(development bool) {
	logger, err := New(development)
	if err != nil {
		// Fall back to a bare production logger rather than dying before
		// the CLI has even parsed its arguments.
		logger = zap.Must(zap.NewProduction())
		logger.Warn("Falling back to default logger", zap.Error(err))
	}
	L = logger
}

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}
