package telemetry

import (
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/konozy/ordersync/internal/infrastructure/config"
)

const queryStartKey = "telemetry:query_start"

// DBTracing is a gorm plugin that emits a span per statement through
// otelgorm and flags statements slower than SlowThreshold
type DBTracing struct {
	DBSystem      string
	LogFullSQL    bool
	SlowThreshold time.Duration
	// TracerProvider defaults to the global provider
	TracerProvider trace.TracerProvider
}

// Ensure DBTracing implements gorm.Plugin
var _ gorm.Plugin = (*DBTracing)(nil)

// NewDBTracing builds the plugin from the telemetry config, or returns nil
// when database tracing is off
func NewDBTracing(cfg config.TelemetryConfig, driver string) *DBTracing {
	if !cfg.Enabled || !cfg.DBTraceEnabled {
		return nil
	}
	system := "postgresql"
	if driver == "sqlite" {
		system = "sqlite"
	}
	return &DBTracing{
		DBSystem:      system,
		LogFullSQL:    cfg.DBLogFullSQL,
		SlowThreshold: cfg.DBSlowQueryThresh,
	}
}

func (p *DBTracing) Name() string {
	return "ordersync:db_tracing"
}

// Initialize registers the slow statement callbacks and then otelgorm.
// After-callbacks run in registration order, so annotate sees the statement
// span before otelgorm ends it.
func (p *DBTracing) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := errors.Join(
		cb.Create().Before("gorm:create").Register("telemetry:before_create", markStart),
		cb.Query().Before("gorm:query").Register("telemetry:before_query", markStart),
		cb.Update().Before("gorm:update").Register("telemetry:before_update", markStart),
		cb.Delete().Before("gorm:delete").Register("telemetry:before_delete", markStart),
		cb.Row().Before("gorm:row").Register("telemetry:before_row", markStart),
		cb.Raw().Before("gorm:raw").Register("telemetry:before_raw", markStart),
		cb.Create().After("gorm:create").Register("telemetry:after_create", p.annotate),
		cb.Query().After("gorm:query").Register("telemetry:after_query", p.annotate),
		cb.Update().After("gorm:update").Register("telemetry:after_update", p.annotate),
		cb.Delete().After("gorm:delete").Register("telemetry:after_delete", p.annotate),
		cb.Row().After("gorm:row").Register("telemetry:after_row", p.annotate),
		cb.Raw().After("gorm:raw").Register("telemetry:after_raw", p.annotate),
	); err != nil {
		return err
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(p.DBSystem)}
	if !p.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if p.TracerProvider != nil {
		opts = append(opts, otelgorm.WithTracerProvider(p.TracerProvider))
	}
	return db.Use(otelgorm.NewPlugin(opts...))
}

func markStart(db *gorm.DB) {
	db.InstanceSet(queryStartKey, time.Now())
}

// annotate adds table, error and slowness details to the statement span
func (p *DBTracing) annotate(db *gorm.DB) {
	if db.Statement.Context == nil {
		return
	}
	span := trace.SpanFromContext(db.Statement.Context)
	if !span.IsRecording() {
		return
	}

	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
	}

	v, ok := db.InstanceGet(queryStartKey)
	if !ok || p.SlowThreshold <= 0 {
		return
	}
	if start, ok := v.(time.Time); ok {
		if elapsed := time.Since(start); elapsed > p.SlowThreshold {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
		}
	}
}
