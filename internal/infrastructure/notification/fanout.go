package notification

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/domain/integration"
)

// Ensure FanoutSink implements NotificationSink
var _ integration.NotificationSink = (*FanoutSink)(nil)

// FanoutSink delivers every notification to all of its sinks. One failing
// sink does not stop delivery to the others.
type FanoutSink struct {
	sinks []integration.NotificationSink
}

// NewFanoutSink creates a FanoutSink, dropping nil sinks
func NewFanoutSink(sinks ...integration.NotificationSink) *FanoutSink {
	f := &FanoutSink{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of sinks
func (f *FanoutSink) Len() int {
	return len(f.sinks)
}

// Notify sends to every sink and joins their errors
func (f *FanoutSink) Notify(ctx context.Context, message string, severity integration.Severity) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Notify(ctx, message, severity); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ensure LogSink implements NotificationSink
var _ integration.NotificationSink = (*LogSink)(nil)

// LogSink writes notifications to the log. It is the sink used when no chat
// service is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify logs message at a level matching severity
func (s *LogSink) Notify(ctx context.Context, message string, severity integration.Severity) error {
	fields := []zap.Field{
		zap.Int("severity", int(severity)),
		zap.String("severity_label", SeverityLabel(severity)),
	}
	switch {
	case severity >= integration.SeverityCritical:
		s.logger.Error(message, fields...)
	case severity >= integration.SeverityWarning:
		s.logger.Warn(message, fields...)
	default:
		s.logger.Info(message, fields...)
	}
	return nil
}
