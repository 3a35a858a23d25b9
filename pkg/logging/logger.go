package logging

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger
type Logger struct {
	*zap.Logger
}

// Config holds logging configuration
type Config struct {
	// Level is the log level (debug, info, warn, error, dpanic, panic, fatal)
	Level string
	// Format is the log format (json or console)
	Format string
	// OutputPaths is a list of paths to write logs to
	OutputPaths []string
	// ErrorOutputPaths is a list of paths to write internal logger errors to
	ErrorOutputPaths []string
	// Development enables development mode (DPanic logs will panic)
	Development bool
	// EnableCaller enables caller information in logs
	EnableCaller bool
	// EnableStacktrace enables stack traces for error logs
	EnableStacktrace bool
}

// DefaultConfig returns the production logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// DevelopmentConfig returns a human readable configuration for local runs.
func DevelopmentConfig() Config {
	return Config{
		Level:            "debug",
		Format:           "console",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		Development:      true,
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config Config) (*Logger, error) {
	level := parseLevel(config.Level)

	var encoderConfig zapcore.EncoderConfig
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	format := strings.ToLower(config.Format)
	if format != "console" {
		format = "json"
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       config.Development,
		DisableCaller:     !config.EnableCaller,
		DisableStacktrace: !config.EnableStacktrace,
		Encoding:          format,
		EncoderConfig:     encoderConfig,
		OutputPaths:       config.OutputPaths,
		ErrorOutputPaths:  config.ErrorOutputPaths,
	}
	if len(zapConfig.OutputPaths) == 0 {
		zapConfig.OutputPaths = []string{"stdout"}
	}
	if len(zapConfig.ErrorOutputPaths) == 0 {
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// NewLoggerFromSettings builds a logger from the three LOG_* knobs.
// dev switches to DevelopmentConfig but an explicit level still wins.
func NewLoggerFromSettings(level, format string, dev bool) (*Logger, error) {
	config := DefaultConfig()
	if dev {
		config = DevelopmentConfig()
	}
	if level != "" {
		config.Level = level
	}
	if format != "" {
		config.Format = format
	}
	return NewLogger(config)
}

// NewNoOpLogger creates a logger that discards all logs
func NewNoOpLogger() *Logger {
	return &Logger{zap.NewNop()}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// With creates a child logger with additional fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

// Named creates a child logger with a name
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

type ctxKey struct{}

// IntoContext stores a request scoped logger.
func IntoContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request scoped logger, falling back to fallback
// and then to the global logger.
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return global
}

var global = NewNoOpLogger()

// SetGlobal sets the global logger instance
func SetGlobal(logger *Logger) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	global = logger
}

// L returns the global logger instance
func L() *Logger {
	return global
}
