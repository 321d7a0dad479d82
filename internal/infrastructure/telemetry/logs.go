package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/zap/zapcore"

	"github.com/konozy/ordersync/internal/infrastructure/config"
)

func newLoggerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP logs exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	global.SetLoggerProvider(provider)
	return provider, nil
}

// ZapCore returns a core that forwards entries at or above min to the OTLP
// log pipeline, or a no-op core when log export is off. Tee it with the
// stdout core through logger.WithCore.
func (p *Providers) ZapCore(min zapcore.Level) zapcore.Core {
	if p.logs == nil {
		return zapcore.NewNopCore()
	}
	return NewZapBridgeCore(p.config.ServiceName, p.logs, min)
}

// NewZapBridgeCore bridges zap entries to an OpenTelemetry log provider
func NewZapBridgeCore(name string, provider log.LoggerProvider, min zapcore.Level) zapcore.Core {
	core := otelzap.NewCore(name, otelzap.WithLoggerProvider(provider))
	return &levelFilterCore{Core: core, min: min}
}

// levelFilterCore drops entries below min; the otelzap core has no level of its own
type levelFilterCore struct {
	zapcore.Core
	min zapcore.Level
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(entry.Level) {
		return ce
	}
	return c.Core.Check(entry, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), min: c.min}
}
