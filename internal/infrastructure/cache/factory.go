package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/infrastructure/config"
)

// RunLockFactory creates run locks based on configuration
type RunLockFactory struct {
	redisConfig           config.RedisConfig
	client                redis.Cmdable
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// RunLockFactoryOption is a functional option for configuring the factory
type RunLockFactoryOption func(*RunLockFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) RunLockFactoryOption {
	return func(f *RunLockFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to an in-memory lock
// when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) RunLockFactoryOption {
	return func(f *RunLockFactory) {
		f.allowInMemoryFallback = allow
	}
}

// WithRedisClient reuses an already connected client instead of dialing
func WithRedisClient(client redis.Cmdable) RunLockFactoryOption {
	return func(f *RunLockFactory) {
		f.client = client
	}
}

// NewRunLockFactory creates a new factory
func NewRunLockFactory(cfg config.RedisConfig, opts ...RunLockFactoryOption) *RunLockFactory {
	f := &RunLockFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateLock returns a Redis lock when Redis is enabled and reachable, and
// otherwise an in-memory lock if fallback is allowed.
func (f *RunLockFactory) CreateLock() (RunLock, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory run lock")
		return NewInMemoryRunLock(), nil
	}

	if f.client != nil {
		f.logger.Info("Using Redis run lock", zap.String("addr", f.redisConfig.Addr()))
		return NewRedisRunLock(f.client, ""), nil
	}

	client, err := NewRedisClient(f.redisConfig)
	if err == nil {
		f.logger.Info("Using Redis run lock", zap.String("addr", f.redisConfig.Addr()))
		return NewRedisRunLock(client, ""), nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for run lock but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory run lock. "+
		"Syncs started by other instances will not be excluded.",
		zap.Error(err),
	)
	return NewInMemoryRunLock(), nil
}
