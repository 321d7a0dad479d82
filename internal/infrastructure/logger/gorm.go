package logger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes gorm's log output through zap
type GormLogger struct {
	logger                    *zap.Logger
	logLevel                  gormlogger.LogLevel
	slowThreshold             time.Duration
	ignoreRecordNotFoundError bool
	logSQL                    bool
}

// Ensure GormLogger implements gormlogger.Interface
var _ gormlogger.Interface = (*GormLogger)(nil)

// GormLoggerOption configures a GormLogger
type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the duration above which a query is logged as slow
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) {
		l.slowThreshold = threshold
	}
}

// WithIgnoreRecordNotFoundError controls whether gorm.ErrRecordNotFound is logged
func WithIgnoreRecordNotFoundError(ignore bool) GormLoggerOption {
	return func(l *GormLogger) {
		l.ignoreRecordNotFoundError = ignore
	}
}

// WithSQL includes the rendered SQL statement in log entries
func WithSQL(enabled bool) GormLoggerOption {
	return func(l *GormLogger) {
		l.logSQL = enabled
	}
}

// NewGormLogger creates a gorm logger backed by zap
func NewGormLogger(base *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	gl := &GormLogger{
		logger:                    base.Named("gorm"),
		logLevel:                  level,
		slowThreshold:             200 * time.Millisecond,
		ignoreRecordNotFoundError: true,
	}
	for _, opt := range opts {
		opt(gl)
	}
	return gl
}

// LogMode returns a copy at the given level
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.logLevel = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Info {
		Enrich(ctx, l.logger).Sugar().Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Warn {
		Enrich(ctx, l.logger).Sugar().Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Error {
		Enrich(ctx, l.logger).Sugar().Errorf(msg, data...)
	}
}

// Trace logs a finished statement according to its outcome and latency
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.logLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	isSlow := l.slowThreshold > 0 && elapsed > l.slowThreshold

	switch {
	case err != nil && l.logLevel >= gormlogger.Error:
		if l.ignoreRecordNotFoundError && errors.Is(err, gormlogger.ErrRecordNotFound) {
			return
		}
		Enrich(ctx, l.logger).Error("SQL error", append(l.statementFields(elapsed, fc), zap.Error(err))...)
	case isSlow && l.logLevel >= gormlogger.Warn:
		Enrich(ctx, l.logger).Warn("Slow SQL",
			append(l.statementFields(elapsed, fc), zap.Duration("threshold", l.slowThreshold))...)
	case l.logLevel >= gormlogger.Info:
		Enrich(ctx, l.logger).Debug("SQL query", l.statementFields(elapsed, fc)...)
	}
}

func (l *GormLogger) statementFields(elapsed time.Duration, fc func() (string, int64)) []zap.Field {
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
	}
	if l.logSQL {
		fields = append(fields, zap.String("sql", sql))
	}
	return fields
}

// MapGormLogLevel maps a level name to a gorm log level, defaulting to warn
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
