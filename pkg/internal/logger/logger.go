package logger

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns string representation of Level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string into a Level
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO", "":
		return LevelInfo, nil
	case "warn", "WARN", "warning":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger is the interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

// ZapLogger adapts a zap SugaredLogger to the printf style Logger
type ZapLogger struct {
	level  zap.AtomicLevel
	sugar  *zap.SugaredLogger
	logger *zap.Logger
}

// NewDefaultLogger creates a console logger writing to stdout
func NewDefaultLogger(level Level) *ZapLogger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), atom)

	return newZapLogger(zap.New(core), atom)
}

// NewZapLogger wraps an existing zap logger. The level filter is applied on
// top of whatever the core already filters.
func NewZapLogger(l *zap.Logger, level Level) *ZapLogger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	return newZapLogger(l.WithOptions(zap.IncreaseLevel(atom)), atom)
}

func newZapLogger(l *zap.Logger, atom zap.AtomicLevel) *ZapLogger {
	return &ZapLogger{
		level:  atom,
		sugar:  l.Sugar(),
		logger: l,
	}
}

// Debug logs debug message
func (l *ZapLogger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs info message
func (l *ZapLogger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs warning message
func (l *ZapLogger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs error message
func (l *ZapLogger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// SetLevel sets the logging level
func (l *ZapLogger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// Sync flushes buffered log entries
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that doesn't log
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug does nothing
func (l *NoOpLogger) Debug(format string, args ...interface{}) {}

// Info does nothing
func (l *NoOpLogger) Info(format string, args ...interface{}) {}

// Warn does nothing
func (l *NoOpLogger) Warn(format string, args ...interface{}) {}

// Error does nothing
func (l *NoOpLogger) Error(format string, args ...interface{}) {}

// SetLevel does nothing
func (l *NoOpLogger) SetLevel(level Level) {}

// Global default logger
var defaultLogger atomic.Value

var frameDebug atomic.Bool

type holder struct{ Logger }

func init() {
	defaultLogger.Store(holder{NewDefaultLogger(LevelInfo)})
}

// Sync flushes the default logger if it buffers
func Sync() error {
	if s, ok := GetDefault().(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// SetDefault sets the default logger
func SetDefault(logger Logger) {
	defaultLogger.Store(holder{logger})
}

// GetDefault returns the default logger
func GetDefault() Logger {
	return defaultLogger.Load().(holder).Logger
}

// SetFrameDebug enables hex dumps of every frame and chunk on the wire
func SetFrameDebug(enable bool) {
	frameDebug.Store(enable)
}

// FrameDebugEnabled reports whether frame hex dumps are on
func FrameDebugEnabled() bool {
	return frameDebug.Load()
}

// Frame dumps wire bytes at debug level when frame debugging is enabled
func Frame(l Logger, direction string, data []byte) {
	if !frameDebug.Load() {
		return
	}
	l.Debug("%s %d bytes\n%s", direction, len(data), hex.Dump(data))
}
