// Package logging provides structured logging for piesss-binder.
//
// This package wraps the zap logger with the logr interface so the same
// logger can be handed to controller-runtime. It supports:
// - JSON and text output formats
// - Dynamic log level adjustment
// - Context-aware logging
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.OptionsFromConfig(cfg.Logging))
//	logger.Info("Bound port", "port", portID, "uplink", "port1")
//	logger.Error(err, "Failed to list ports", "backend", "ovn")
package logging

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jiayi-1994/piesss-binder/pkg/config"
)

// Levels accepted in configuration.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

const (
	FormatJSON = "json"
	FormatText = "text"
)

// Options controls how NewLogger builds its zap core.
type Options struct {
	Level  string
	Format string

	// OutputPath is a file to append to; stdout when empty
	OutputPath string

	AddCaller bool
}

// DefaultOptions logs JSON at info level to stdout.
func DefaultOptions() Options {
	return Options{Level: LevelInfo, Format: FormatJSON, AddCaller: true}
}

// OptionsFromConfig converts the logging section of the configuration.
func OptionsFromConfig(cfg config.LoggingConfig) Options {
	opts := DefaultOptions()
	if cfg.Level != "" {
		opts.Level = cfg.Level
	}
	if cfg.Format != "" {
		opts.Format = cfg.Format
	}
	opts.OutputPath = cfg.File
	return opts
}

// Logger pairs a zap logger with the logr view handed to controller-runtime.
// Both share one atomic level.
type Logger struct {
	zap   *zap.Logger
	level zap.AtomicLevel
	logr  logr.Logger
}

var (
	globalLogger atomic.Pointer[Logger]
	initOnce     sync.Once
)

// NewLogger creates a logger from opts.
func NewLogger(opts Options) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q", opts.Level)
	}
	level := zap.NewAtomicLevelAt(lvl)

	out, err := openOutput(opts.OutputPath)
	if err != nil {
		return nil, err
	}

	var zopts []zap.Option
	if opts.AddCaller {
		// skip the Logger method frame
		zopts = append(zopts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	return wrap(zap.New(zapcore.NewCore(newEncoder(opts.Format), out, level), zopts...), level), nil
}

func wrap(z *zap.Logger, level zap.AtomicLevel) *Logger {
	return &Logger{zap: z, level: level, logr: zapr.NewLogger(z)}
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.FunctionKey = zapcore.OmitKey
	if format == FormatText {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func openOutput(path string) (zapcore.WriteSyncer, error) {
	if path == "" {
		return zapcore.Lock(os.Stdout), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return zapcore.AddSync(f), nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return wrap(zap.NewNop(), zap.NewAtomicLevel())
}

// SetLevel changes the level of this logger and every logger derived from it.
func (l *Logger) SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("unknown log level %q", level)
	}
	l.level.SetLevel(lvl)
	return nil
}

func (l *Logger) GetLevel() string {
	return l.level.Level().String()
}

// Logger returns the logr.Logger for controller-runtime and klog.
func (l *Logger) Logger() logr.Logger {
	return l.logr
}

func (l *Logger) WithName(name string) *Logger {
	return &Logger{zap: l.zap.Named(name), level: l.level, logr: l.logr.WithName(name)}
}

func (l *Logger) WithValues(keysAndValues ...interface{}) *Logger {
	return &Logger{zap: l.zap.Sugar().With(keysAndValues...).Desugar(), level: l.level, logr: l.logr.WithValues(keysAndValues...)}
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logr.V(1).Info(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logr.Info(msg, keysAndValues...)
}

// Warn goes straight to zap; logr has no warn level.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.zap.Sugar().Warnw(msg, keysAndValues...)
}

func (l *Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logr.Error(err, msg, keysAndValues...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// InitGlobalLogger sets the process-wide logger. Later calls are ignored.
func InitGlobalLogger(opts Options) error {
	var initErr error
	initOnce.Do(func() {
		logger, err := NewLogger(opts)
		if err != nil {
			initErr = err
			return
		}
		globalLogger.Store(logger)
	})
	return initErr
}

// GetGlobalLogger returns the global logger, or a default one when
// InitGlobalLogger was never called.
func GetGlobalLogger() *Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	logger, _ := NewLogger(DefaultOptions())
	return logger
}

// L is short for GetGlobalLogger.
func L() *Logger {
	return GetGlobalLogger()
}
