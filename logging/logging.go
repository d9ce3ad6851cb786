// Package logging holds the process-wide zap logger and the printf-style helpers
// used by the command line tools.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger  = zap.NewNop()
	mu      sync.RWMutex
	isSetup bool
)

// Options configure SetupLogger
type Options struct {
	// Level is one of debug, info, warn, error
	Level string
	// File adds a file sink next to stderr when set
	File string
	// Development switches to the human readable console encoder
	Development bool
}

// NewLogger builds a zap logger from options
func NewLogger(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.MessageKey = "message"
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if opts.Level != "" {
		level, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		cfg.Level = level
	}

	if opts.File != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, opts.File)
	}

	return cfg.Build()
}

// SetupLogger installs the process-wide logger
func SetupLogger(opts Options) error {
	l, err := NewLogger(opts)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	SetLogger(l)
	return nil
}

// SetLogger replaces the process-wide logger
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()

	logger = l
	isSetup = true
}

// L returns the process-wide logger
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return logger
}

// CloseLogger flushes buffered entries and resets to a no-op logger
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()

	if isSetup {
		_ = logger.Sync()
		logger = zap.NewNop()
		isSetup = false
	}
}

// LogInfo logs an information message
func LogInfo(format string, args ...interface{}) {
	L().Sugar().Infof(format, args...)
}

// DebugLog logs a message at debug level
func DebugLog(format string, args ...interface{}) {
	L().Sugar().Debugf(format, args...)
}

// LogError logs an error message
func LogError(format string, args ...interface{}) {
	L().Sugar().Errorf(format, args...)
}

// LogWarning logs a warning message
func LogWarning(format string, args ...interface{}) {
	L().Sugar().Warnf(format, args...)
}

// LogImageProcessed logs when an image is processed
func LogImageProcessed(path string, success bool, errMsg string) {
	if success {
		L().Debug("image processed", zap.String("path", path))
		return
	}
	L().Warn("image failed", zap.String("path", path), zap.String("error", errMsg))
}
