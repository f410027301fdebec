package diag

import (
	"avaneesh/uds-go/pkg/internal/logger"
)

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows all log messages including frame traffic
	LevelDebug LogLevel = iota
	// LevelInfo shows info, warn, and error messages (default)
	LevelInfo
	// LevelWarn shows warn and error messages
	LevelWarn
	// LevelError shows only error messages
	LevelError
)

// SetLogLevel replaces the global logger with one at the given level.
// Managers created afterwards with NewManager pick it up.
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// ParseLogLevel converts a level name such as "debug" or "warn"
func ParseLogLevel(name string) (LogLevel, error) {
	level, err := logger.ParseLevel(name)
	if err != nil {
		return LevelInfo, err
	}
	return LogLevel(level), nil
}

// DefaultLogger returns the global logger
func DefaultLogger() logger.Logger {
	return logger.GetDefault()
}
