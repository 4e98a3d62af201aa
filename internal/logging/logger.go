// Package logging builds the service's zap loggers.
package logging

import (
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service is attached to every entry as the "service" field.
const Service = "newsrefresher"

// New builds a zap.Logger. Development mode writes coloured console output at
// debug level; production mode writes JSON at info level.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build(zap.Fields(zap.String("service", Service)))
	if err != nil {
		return nil, fmt.Errorf("build logger (development=%t): %w", development, err)
	}
	return logger, nil
}

// Sync flushes logger, ignoring the errors stderr and stdout return when they
// are terminals.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	if err == nil || errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}
