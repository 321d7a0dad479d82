// Package bootstrap wires the sync service from its configuration. The HTTP
// server and the one-shot sync command share it.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/application/ordersync"
	"github.com/konozy/ordersync/internal/domain/execution"
	"github.com/konozy/ordersync/internal/domain/integration"
	"github.com/konozy/ordersync/internal/infrastructure/accounting"
	"github.com/konozy/ordersync/internal/infrastructure/cache"
	"github.com/konozy/ordersync/internal/infrastructure/config"
	"github.com/konozy/ordersync/internal/infrastructure/event"
	"github.com/konozy/ordersync/internal/infrastructure/logger"
	"github.com/konozy/ordersync/internal/infrastructure/marketplace"
	"github.com/konozy/ordersync/internal/infrastructure/migration"
	"github.com/konozy/ordersync/internal/infrastructure/notification"
	"github.com/konozy/ordersync/internal/infrastructure/persistence"
	"github.com/konozy/ordersync/internal/infrastructure/scheduler"
	"github.com/konozy/ordersync/internal/infrastructure/storage"
	"github.com/konozy/ordersync/internal/infrastructure/telemetry"
	"github.com/konozy/ordersync/migrations"
)

// ErrInvalidStatus is returned when sync.statuses names an unknown order status
var ErrInvalidStatus = errors.New("bootstrap: invalid order status")

// App holds every long-lived component of the service
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Telemetry    *telemetry.Providers
	Database     *persistence.Database
	Redis        *redis.Client
	Store        execution.Store
	Metrics      *telemetry.SyncMetrics
	Orchestrator *ordersync.Orchestrator
	Runner       scheduler.SyncRunner
	RunLock      cache.RunLock
	Statuses     []integration.OrderStatus

	closers []func(ctx context.Context) error
}

// Option overrides a component New would otherwise build from the config
type Option func(*options)

type options struct {
	logger   *zap.Logger
	source   integration.OrderSource
	invoices integration.InvoiceCreator
}

// WithLogger replaces the config-built logger. Telemetry log export is not
// attached to it.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithOrderSource replaces the SP-API client
func WithOrderSource(source integration.OrderSource) Option {
	return func(o *options) {
		o.source = source
	}
}

// WithInvoiceCreator replaces the Odoo or dry-run invoice creator
func WithInvoiceCreator(invoices integration.InvoiceCreator) Option {
	return func(o *options) {
		o.invoices = invoices
	}
}

// New builds the service. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, version string, opts ...Option) (app *App, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	app = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	if app.Statuses, err = ParseStatuses(cfg.Sync.Statuses); err != nil {
		return app, err
	}

	bootLogger := o.logger
	if bootLogger == nil {
		bootLogger = logger.New(cfg.Log)
	}

	app.Telemetry, err = telemetry.Setup(ctx, cfg.Telemetry, version, bootLogger)
	if err != nil {
		return app, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	app.closers = append(app.closers, app.Telemetry.Shutdown)

	app.Logger = o.logger
	if app.Logger == nil {
		app.Logger = logger.New(cfg.Log,
			logger.WithCore(app.Telemetry.ZapCore(logger.ParseLevel(cfg.Log.Level))),
			logger.WithFields(zap.String("service", cfg.App.Name), zap.String("env", cfg.App.Env)),
		)
	}
	app.closers = append(app.closers, func(context.Context) error {
		_ = app.Logger.Sync()
		return nil
	})

	if err = app.openDatabase(); err != nil {
		return app, err
	}
	if err = app.openStore(); err != nil {
		return app, err
	}

	if app.Metrics, err = telemetry.NewSyncMetrics(app.Telemetry.Meter()); err != nil {
		return app, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	source := o.source
	if source == nil {
		if source, err = app.newMarketplaceClient(); err != nil {
			return app, err
		}
	}

	invoices := o.invoices
	if invoices == nil {
		if invoices, err = app.newInvoiceCreator(); err != nil {
			return app, err
		}
	}

	sink, err := app.newNotificationSink()
	if err != nil {
		return app, err
	}

	orchestratorOpts := []ordersync.Option{
		ordersync.WithNotificationSink(sink),
		ordersync.WithMetrics(app.Metrics),
		ordersync.WithLogger(app.Logger),
		ordersync.WithWorkers(cfg.Sync.Workers),
		ordersync.WithRunMiddleware(telemetry.TraceRuns(app.Telemetry.Tracer())),
	}
	if lookup, ok := source.(integration.OrderLookup); ok {
		orchestratorOpts = append(orchestratorOpts, ordersync.WithOrderLookup(lookup))
	}
	if financials, ok := source.(integration.FinancialEventSource); ok {
		orchestratorOpts = append(orchestratorOpts, ordersync.WithFinancialEvents(financials))
	}
	archiver, err := app.newReportArchiver(ctx)
	if err != nil {
		return app, err
	}
	if archiver != nil {
		orchestratorOpts = append(orchestratorOpts, ordersync.WithReportArchiver(archiver))
	}

	app.Orchestrator = ordersync.NewOrchestrator(source, invoices, app.Store, orchestratorOpts...)
	app.Runner = app.Orchestrator

	lockOpts := []cache.RunLockFactoryOption{cache.WithLogger(app.Logger)}
	if app.Redis != nil {
		lockOpts = append(lockOpts, cache.WithRedisClient(app.Redis))
	}
	if app.RunLock, err = cache.NewRunLockFactory(cfg.Redis, lockOpts...).CreateLock(); err != nil {
		return app, err
	}

	return app, nil
}

// ---------------------------------------------------------------------------
// Components
// ---------------------------------------------------------------------------

func (a *App) openDatabase() error {
	cfg := a.Config
	dbOpts := []persistence.Option{
		persistence.WithLogger(a.Logger, cfg.Log.Level,
			logger.WithSQL(cfg.Telemetry.DBLogFullSQL),
			logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
		),
	}
	if tracing := telemetry.NewDBTracing(cfg.Telemetry, cfg.Database.Driver); tracing != nil {
		dbOpts = append(dbOpts, persistence.WithPlugins(tracing))
	}

	db, err := persistence.NewDatabase(&cfg.Database, dbOpts...)
	if err != nil {
		return err
	}
	a.Database = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	a.Logger.Info("Database connected",
		zap.String("driver", db.Driver),
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.DBName),
	)
	return nil
}

func (a *App) openStore() error {
	cfg := a.Config
	gormStore := event.NewGormStore(a.Database.DB, event.WithGormLogger(a.Logger))

	if a.Database.Driver == persistence.DriverPostgres {
		if err := MigrateUp(cfg.Database.DSN(), a.Logger); err != nil {
			return err
		}
	} else if err := gormStore.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to create execution tables: %w", err)
	}

	a.Store = gormStore
	if !cfg.Redis.Enabled {
		return nil
	}

	client, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		a.Logger.Warn("Redis unavailable, execution events will not be streamed", zap.Error(err))
		return nil
	}
	a.Redis = client
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })

	publisher := event.NewRedisStreamPublisher(client,
		event.WithStreamKey(cfg.Redis.StreamKey),
		event.WithStreamMaxLen(cfg.Redis.StreamLen),
	)
	a.Store = event.NewPublishingStore(gormStore, publisher, a.Logger)
	a.Logger.Info("Streaming execution events",
		zap.String("addr", cfg.Redis.Addr()),
		zap.String("stream", publisher.Stream()),
	)
	return nil
}

func (a *App) newMarketplaceClient() (*marketplace.Client, error) {
	mc := a.Config.Marketplace
	client, err := marketplace.NewClient(&marketplace.Config{
		Endpoint:          mc.Endpoint,
		TokenEndpoint:     mc.TokenEndpoint,
		MarketplaceID:     mc.MarketplaceID,
		RequestTimeout:    mc.RequestTimeout,
		MaxAttempts:       mc.MaxAttempts,
		BaseDelay:         mc.BaseDelay,
		MaxDelay:          mc.MaxDelay,
		SignatureTTL:      mc.SignatureTTL,
		TokenExpiryBuffer: mc.TokenExpiryBuffer,
		PageSize:          mc.PageSize,
	}, integration.Credentials{
		ClientID:        mc.ClientID,
		ClientSecret:    mc.ClientSecret,
		RefreshToken:    mc.RefreshToken,
		AccessKeyID:     mc.AccessKeyID,
		SecretAccessKey: mc.SecretAccessKey,
		SessionToken:    mc.SessionToken,
		Region:          mc.Region,
		Service:         marketplace.DefaultService,
	}, a.Logger, a.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create marketplace client: %w", err)
	}
	return client, nil
}

func (a *App) newInvoiceCreator() (integration.InvoiceCreator, error) {
	oc := a.Config.Odoo
	if !oc.Enabled {
		a.Logger.Warn("Odoo disabled, invoices will only be logged")
		return accounting.NewDryRunCreator(a.Logger), nil
	}

	client, err := accounting.NewClient(accounting.Config{
		URL:          oc.URL,
		Database:     oc.Database,
		Username:     oc.Username,
		Password:     oc.Password,
		JournalID:    int(oc.JournalID),
		PostInvoices: oc.PostInvoices,
		Timeout:      oc.Timeout,
		FeeAccounts:  oc.FeeAccounts,
	}, accounting.WithLogger(a.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create odoo client: %w", err)
	}
	return accounting.NewInvoiceCreator(client, a.Logger), nil
}

func (a *App) newNotificationSink() (*notification.FanoutSink, error) {
	nc := a.Config.Notification
	minSeverity := integration.Severity(nc.MinSeverity)
	sinks := []integration.NotificationSink{notification.NewLogSink(a.Logger)}

	if nc.Telegram.Enabled {
		sink, err := notification.NewTelegramSink(notification.TelegramConfig{
			APIURL:      nc.Telegram.APIURL,
			BotToken:    nc.Telegram.BotToken,
			ChatID:      nc.Telegram.ChatID,
			Prefix:      nc.Prefix,
			MinSeverity: minSeverity,
		}, notification.WithTelegramLogger(a.Logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if nc.Slack.Enabled {
		sink, err := notification.NewSlackSink(notification.SlackConfig{
			WebhookURL:  nc.Slack.WebhookURL,
			Prefix:      nc.Prefix,
			MinSeverity: minSeverity,
		}, notification.WithSlackLogger(a.Logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create slack sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	return notification.NewFanoutSink(sinks...), nil
}

// newReportArchiver returns nil when neither S3 nor a local directory is configured
func (a *App) newReportArchiver(ctx context.Context) (ordersync.ReportArchiver, error) {
	sc := a.Config.Storage
	if sc.Enabled {
		archiver, err := storage.NewS3ReportArchiver(&sc, storage.WithLogger(a.Logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create report archiver: %w", err)
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			a.Logger.Warn("Report bucket not ready, archiving may fail",
				zap.String("bucket", archiver.Bucket()),
				zap.Error(err),
			)
		}
		return archiver, nil
	}
	if sc.LocalDir == "" {
		return nil, nil
	}
	archiver, err := storage.NewFileReportArchiver(sc.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create report archiver: %w", err)
	}
	a.Logger.Info("Archiving run reports locally", zap.String("dir", sc.LocalDir))
	return archiver, nil
}

// NewScheduler builds the periodic sync scheduler from the scheduler section
func (a *App) NewScheduler() (*scheduler.SyncScheduler, error) {
	sc := a.Config.Scheduler
	cfg := scheduler.DefaultConfig()
	cfg.Interval = sc.Interval
	cfg.Lookback = sc.Lookback
	cfg.JobTimeout = sc.JobTimeout
	cfg.QueueSize = sc.QueueSize
	cfg.RunOnStartup = sc.RunOnStartup
	cfg.Statuses = a.Statuses
	if a.Config.Sync.LockTTL > 0 {
		cfg.LockTTL = a.Config.Sync.LockTTL
	}
	return scheduler.NewSyncScheduler(cfg, a.Runner, a.RunLock, scheduler.WithLogger(a.Logger))
}

// Close cancels background runs and releases every resource in reverse
// order of acquisition
func (a *App) Close(ctx context.Context) error {
	if a.Orchestrator != nil {
		a.Orchestrator.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// ParseStatuses converts configured status names, rejecting unknown ones
func ParseStatuses(names []string) ([]integration.OrderStatus, error) {
	statuses := make([]integration.OrderStatus, 0, len(names))
	for _, name := range names {
		s := integration.OrderStatus(strings.TrimSpace(name))
		if !s.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, name)
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// MigrateUp applies the embedded migrations on a dedicated connection; the
// migrate driver closes the connection it is given.
func MigrateUp(dsn string, l *zap.Logger) error {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	m, err := migration.New(sqlDB, migrations.FS, l)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() { _ = m.Close() }()

	if err := m.Up(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
