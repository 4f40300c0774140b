// Package log provides the process-wide structured logger.
package log

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var atom = zap.NewAtomicLevelAt(zapcore.InfoLevel)

func init() {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	logger := zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		atom,
	))

	zap.ReplaceGlobals(logger)
}

// SetLevelFromString sets the minimum log level from its
// textual name (debug, info, warn, error).
func SetLevelFromString(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		atom.SetLevel(zapcore.DebugLevel)
	case "info", "":
		atom.SetLevel(zapcore.InfoLevel)
	case "warn", "warning":
		atom.SetLevel(zapcore.WarnLevel)
	case "error":
		atom.SetLevel(zapcore.ErrorLevel)
	default:
		return fmt.Errorf("unknown log level: %s", level)
	}
	return nil
}

// Debug logs a debug message.
func Debug(msg string, args ...interface{}) {
	if len(args) > 0 {
		zap.S().Debugf(msg, args...)
	} else {
		zap.S().Debug(msg)
	}
}

// Info logs an info message.
func Info(msg string, args ...interface{}) {
	if len(args) > 0 {
		zap.S().Infof(msg, args...)
	} else {
		zap.S().Info(msg)
	}
}

// Warn logs a warning message.
func Warn(msg string, args ...interface{}) {
	if len(args) > 0 {
		zap.S().Warnf(msg, args...)
	} else {
		zap.S().Warn(msg)
	}
}

// Error logs an error message.
func Error(msg string, args ...interface{}) {
	if len(args) > 0 {
		zap.S().Errorf(msg, args...)
	} else {
		zap.S().Error(msg)
	}
}
