// Package logger wraps zap the way the rest of the fleet does: a
// SugaredLogger embedded in a small type with helpers for attaching
// request-scoped fields, plus a level knob driven by the bridge's own
// --loglevel flag (critical/error/warning/info/debug) rather than
// zap's native level names.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap SugaredLogger with the bridge's field conventions.
type Logger struct {
	*zap.SugaredLogger
}

// Level is the bridge's own vocabulary for --loglevel, per spec.md §6.
type Level string

const (
	LevelCritical Level = "critical"
	LevelError    Level = "error"
	LevelWarning  Level = "warning"
	LevelInfo     Level = "info"
	LevelDebug    Level = "debug"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarning:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelCritical:
		return zapcore.DPanicLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a Logger that writes to logFile (stdout when empty) at
// the given level, tagged with the service name.
func New(serviceName string, level Level, logFile string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level.SetLevel(level.zapLevel())

	if logFile != "" {
		cfg.OutputPaths = []string{logFile}
		cfg.ErrorOutputPaths = []string{logFile}
	} else {
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	zapLogger, err := cfg.Build(
		zap.AddCallerSkip(1),
		zap.Fields(zap.String("service", serviceName)),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{zapLogger.Sugar()}, nil
}

// Default builds a development logger for tests and local runs.
func Default() *Logger {
	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		// zap.NewDevelopment only fails on a broken encoder config;
		// fall back to the no-op logger rather than panic at import time.
		return &Logger{zap.NewNop().Sugar()}
	}
	return &Logger{zapLogger.Sugar()}
}

// WithFields returns a derived logger carrying the given key/value pairs.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{l.SugaredLogger.With(args...)}
}

// Fatal logs at fatal level and exits, mirroring the teacher's Fatal helper.
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.SugaredLogger.Fatalw(msg, args...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}
