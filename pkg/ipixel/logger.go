package ipixel

import (
	"avaneesh/ipixel-go/pkg/internal/logger"
)

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows all log messages (most verbose)
	LevelDebug LogLevel = iota
	// LevelInfo shows info, warn, and error messages (default)
	LevelInfo
	// LevelWarn shows warn and error messages
	LevelWarn
	// LevelError shows only error messages
	LevelError
)

// SetLogLevel sets the global logging level
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// ParseLogLevel converts a config string such as "debug" into a LogLevel
func ParseLogLevel(s string) (LogLevel, error) {
	l, err := logger.ParseLevel(s)
	return LogLevel(l), err
}

// EnableFrameDebug enables or disables detailed frame debugging
// When enabled, shows hex dumps of all frames and chunks sent and received
func EnableFrameDebug(enable bool) {
	logger.SetFrameDebug(enable)
}

// ApplyLogging sets the global level and frame debug flag from c
func ApplyLogging(c Config) error {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return err
	}
	SetLogLevel(level)
	EnableFrameDebug(c.FrameDebug)
	return nil
}

// DefaultLogger returns the global logger used by NewManager
func DefaultLogger() logger.Logger {
	return logger.GetDefault()
}

// FlushLogs flushes buffered log entries, call before exiting
func FlushLogs() {
	logger.Sync()
}
