package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey      contextKey = "logger"
	requestIDKey   contextKey = "request_id"
	executionIDKey contextKey = "execution_id"
	subjectKey     contextKey = "subject"
)

// WithContext returns a new context carrying the logger
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// WithRequestID stores the HTTP request ID in ctx
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithExecutionID stores the sync execution ID in ctx
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// WithSubject stores the authenticated caller (JWT subject) in ctx
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// GetRequestID returns the request ID stored in ctx
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// GetExecutionID returns the execution ID stored in ctx
func GetExecutionID(ctx context.Context) string {
	v, _ := ctx.Value(executionIDKey).(string)
	return v
}

// GetSubject returns the caller stored in ctx
func GetSubject(ctx context.Context) string {
	v, _ := ctx.Value(subjectKey).(string)
	return v
}

// =============================================================================
// Trace Correlation
// =============================================================================

// GetTraceID returns the trace ID of the active span, or ""
func GetTraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

// GetSpanID returns the span ID of the active span, or ""
func GetSpanID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.SpanID().String()
}

// Fields returns the correlation fields present in ctx
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields = append(fields,
			zap.String("trace_id", spanCtx.TraceID().String()),
			zap.String("span_id", spanCtx.SpanID().String()),
		)
	}
	if v := GetRequestID(ctx); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v := GetExecutionID(ctx); v != "" {
		fields = append(fields, zap.String("execution_id", v))
	}
	if v := GetSubject(ctx); v != "" {
		fields = append(fields, zap.String("subject", v))
	}
	return fields
}

// L returns the context logger enriched with every correlation field.
//
//	logger.L(ctx).Info("Order processed", zap.String("order_id", id))
func L(ctx context.Context) *zap.Logger {
	return Enrich(ctx, FromContext(ctx))
}

// Enrich adds the correlation fields of ctx to l
func Enrich(ctx context.Context, l *zap.Logger) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	fields := Fields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}
