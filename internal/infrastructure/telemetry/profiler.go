package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/grafana/pyroscope-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrProfilerConfig is returned when profiling is enabled without a target
var ErrProfilerConfig = errors.New("telemetry: profiler server address and application name are required")

// ProfilerConfig holds Pyroscope settings
type ProfilerConfig struct {
	ServerAddress     string
	ApplicationName   string
	BasicAuthUser     string
	BasicAuthPassword string
}

// Profiler wraps a running Pyroscope session
type Profiler struct {
	profiler *pyroscope.Profiler
	logger   *zap.Logger
	once     sync.Once
	stopErr  error
}

// profileTypes covers CPU, heap and goroutines; mutex and block profiling
// need runtime sampling rates this service does not set.
var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

// StartProfiler starts continuous profiling
func StartProfiler(cfg ProfilerConfig, logger *zap.Logger) (*Profiler, error) {
	if cfg.ServerAddress == "" || cfg.ApplicationName == "" {
		return nil, ErrProfilerConfig
	}

	tags := map[string]string{}
	if hostname, err := os.Hostname(); err == nil {
		tags["hostname"] = hostname
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   cfg.ApplicationName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		Logger:            pyroscopeLogger{logger.Named("pyroscope")},
		Tags:              tags,
		ProfileTypes:      profileTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}

	logger.Info("Pyroscope profiler started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
	)
	return &Profiler{profiler: profiler, logger: logger}, nil
}

// WrapTracerProvider labels CPU samples with the active span id
func (p *Profiler) WrapTracerProvider(tp trace.TracerProvider) trace.TracerProvider {
	return otelpyroscope.NewTracerProvider(tp)
}

// Stop flushes and stops the profiler; later calls return the first result
func (p *Profiler) Stop() error {
	p.once.Do(func() {
		if err := p.profiler.Stop(); err != nil {
			p.stopErr = fmt.Errorf("failed to stop profiler: %w", err)
			return
		}
		p.logger.Info("Pyroscope profiler stopped")
	})
	return p.stopErr
}

// WithProfileLabels runs fn with pprof labels attached to its samples
func WithProfileLabels(ctx context.Context, fn func(context.Context), kv ...string) {
	if len(kv) == 0 || len(kv)%2 != 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(kv...), fn)
}

type pyroscopeLogger struct {
	logger *zap.Logger
}

func (l pyroscopeLogger) Infof(format string, args ...any) {
	l.logger.Sugar().Infof(format, args...)
}

func (l pyroscopeLogger) Debugf(format string, args ...any) {
	l.logger.Sugar().Debugf(format, args...)
}

func (l pyroscopeLogger) Errorf(format string, args ...any) {
	l.logger.Sugar().Errorf(format, args...)
}
