// Package logging provides the Logger used across the SDK.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the printf-style logger every component accepts.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

var _ Logger = (*zap.SugaredLogger)(nil)

// Level is the minimum severity that gets written.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a zap production logger writing to stderr at the given level.
func New(level Level) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// FromZap adapts an existing zap logger.
func FromZap(l *zap.Logger) Logger {
	return l.Sugar()
}

// DefaultLogger only writes errors. For less noise the SDK stays quiet
// unless something is actually broken.
func DefaultLogger() Logger {
	l, err := New(ErrorLevel)
	if err != nil {
		return Nop()
	}
	return l
}

// Nop discards everything.
func Nop() Logger {
	return zap.NewNop().Sugar()
}
