package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	// ServiceName is the name of the service for trace identification.
	ServiceName string
	// Enabled controls whether tracing is active.
	Enabled bool
	// TracerProvider overrides the global provider when set.
	TracerProvider trace.TracerProvider
}

// Tracing returns OpenTelemetry tracing middleware. It wraps otelgin and
// marks 5xx responses as span errors. request_id and subject are added by
// SpanAttributes once the request has been authenticated.
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	var opts []otelgin.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelgin.WithTracerProvider(cfg.TracerProvider))
	}
	return otelgin.Middleware(cfg.ServiceName, opts...)
}

// SpanAttributes annotates the request span with the request id and token
// subject. Place it after RequestID and JWTAuth.
func SpanAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if id := GetRequestID(c); id != "" {
				span.SetAttributes(attribute.String("request_id", id))
			}
			if subject := GetJWTSubject(c); subject != "" {
				span.SetAttributes(attribute.String("enduser.id", subject))
			}
		}

		c.Next()

		if span.IsRecording() && c.Writer.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(c.Writer.Status()))
		}
	}
}
