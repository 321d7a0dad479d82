// Package logger builds the zap loggers used across the sync service and
// carries request and execution identifiers through context.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/konozy/ordersync/internal/infrastructure/config"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Option customises the logger built by New
type Option func(*options)

type options struct {
	extraCores []zapcore.Core
	fields     []zap.Field
}

// WithCore tees every entry into an extra core, such as the OTEL log bridge
func WithCore(core zapcore.Core) Option {
	return func(o *options) {
		if core != nil {
			o.extraCores = append(o.extraCores, core)
		}
	}
}

// WithFields attaches fields to every entry
func WithFields(fields ...zap.Field) Option {
	return func(o *options) {
		o.fields = append(o.fields, fields...)
	}
}

// New creates a zap logger from the log section of the service config
func New(cfg config.LogConfig, opts ...Option) *zap.Logger {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	core := zapcore.NewCore(createEncoder(cfg.Format), createWriter(cfg.Output), ParseLevel(cfg.Level))
	if len(o.extraCores) > 0 {
		core = zapcore.NewTee(append([]zapcore.Core{core}, o.extraCores...)...)
	}

	l := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if len(o.fields) > 0 {
		l = l.With(o.fields...)
	}
	return l
}

// ForEnvironment returns the log section used when nothing is configured:
// console output in development, JSON in production
func ForEnvironment(env string) config.LogConfig {
	if env == "production" {
		return config.LogConfig{Level: "info", Format: "json", Output: "stdout"}
	}
	return config.LogConfig{Level: "debug", Format: "console", Output: "stdout"}
}

// ParseLevel converts a level name to a zapcore.Level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func createEncoder(format string) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if strings.EqualFold(format, "console") {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

func createWriter(output string) zapcore.WriteSyncer {
	switch strings.ToLower(output) {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	default:
		file, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zapcore.AddSync(os.Stdout)
		}
		return zapcore.AddSync(file)
	}
}
