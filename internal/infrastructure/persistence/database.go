// Package persistence opens the relational database that backs the
// execution store: PostgreSQL in deployments, SQLite for local runs and tests.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/konozy/ordersync/internal/infrastructure/config"
	"github.com/konozy/ordersync/internal/infrastructure/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrUnsupportedDriver is returned for a driver other than postgres or sqlite
var ErrUnsupportedDriver = errors.New("persistence: unsupported database driver")

// Database holds the gorm connection and the driver it was opened with
type Database struct {
	DB     *gorm.DB
	Driver string
}

// Option configures NewDatabase
type Option func(*options)

type options struct {
	logger   gormlogger.Interface
	plugins  []gorm.Plugin
	noPing   bool
	dialFunc func(cfg *config.DatabaseConfig) (gorm.Dialector, error)
}

// WithLogger routes gorm logs through zap at the given level name
func WithLogger(l *zap.Logger, level string, opts ...logger.GormLoggerOption) Option {
	return func(o *options) {
		o.logger = logger.NewGormLogger(l, logger.MapGormLogLevel(level), opts...)
	}
}

// WithPlugins registers gorm plugins such as tracing after connecting
func WithPlugins(plugins ...gorm.Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugins...)
	}
}

// WithDialector replaces the dialector derived from the config
func WithDialector(d gorm.Dialector) Option {
	return func(o *options) {
		o.dialFunc = func(*config.DatabaseConfig) (gorm.Dialector, error) { return d, nil }
	}
}

// WithoutPing skips the connectivity check on open
func WithoutPing() Option {
	return func(o *options) {
		o.noPing = true
	}
}

// NewDatabase opens a connection and applies the pool settings
func NewDatabase(cfg *config.DatabaseConfig, opts ...Option) (*Database, error) {
	o := &options{
		logger:   gormlogger.Default.LogMode(gormlogger.Silent),
		dialFunc: dialector,
	}
	for _, opt := range opts {
		opt(o)
	}

	dial, err := o.dialFunc(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:                 o.logger,
		SkipDefaultTransaction: true,
		PrepareStmt:            cfg.Driver != DriverSQLite,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// each pooled connection to an in-memory database sees its own empty schema
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
	}

	if !o.noPing {
		if err := sqlDB.Ping(); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}

	for _, p := range o.plugins {
		if err := db.Use(p); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to register gorm plugin %s: %w", p.Name(), err)
		}
	}

	return &Database{DB: db, Driver: driverName(cfg)}, nil
}

func driverName(cfg *config.DatabaseConfig) string {
	if cfg.Driver == "" {
		return DriverPostgres
	}
	return cfg.Driver
}

func dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch driverName(cfg) {
	case DriverPostgres:
		return postgres.Open(cfg.DSN()), nil
	case DriverSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = ":memory:"
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks that the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Stats returns connection pool statistics
func (d *Database) Stats() (ConnectionStats, error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return ConnectionStats{}, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	stats := sqlDB.Stats()
	return ConnectionStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}, nil
}

// ConnectionStats holds database connection pool statistics
type ConnectionStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration
}
