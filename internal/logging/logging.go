// Package logging builds the zap loggers shared by the broker and agent
// binaries, plus a logr bridge for the controller-runtime client.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger for the given level string (debug, info, warn,
// error). Unknown levels fall back to info.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Logr wraps a zap logger as a logr.Logger for libraries (controller-runtime)
// that require one.
func Logr(l *zap.Logger) logr.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return zapr.NewLogger(l)
}

// Nop returns a discard logger, used as the default in constructors that take
// an optional *zap.Logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}
