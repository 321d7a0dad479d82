package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/bootstrap"
	"github.com/konozy/ordersync/internal/infrastructure/auth"
	"github.com/konozy/ordersync/internal/infrastructure/config"
	"github.com/konozy/ordersync/internal/infrastructure/persistence"
	"github.com/konozy/ordersync/internal/infrastructure/scheduler"
	"github.com/konozy/ordersync/internal/interfaces/http/dto"
	"github.com/konozy/ordersync/internal/interfaces/http/handler"
	"github.com/konozy/ordersync/internal/interfaces/http/middleware"
	"github.com/konozy/ordersync/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, version)
	if err != nil {
		panic("Failed to start sync service: " + err.Error())
	}
	log := app.Logger

	log.Info("Starting Konozy order sync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.String("port", cfg.App.Port),
	)

	// Periodic sync
	var sched *scheduler.SyncScheduler
	if cfg.Scheduler.Enabled {
		if sched, err = app.NewScheduler(); err != nil {
			log.Fatal("Failed to create sync scheduler", zap.Error(err))
		}
		if err := sched.Start(ctx); err != nil {
			log.Fatal("Failed to start sync scheduler", zap.Error(err))
		}
	} else {
		log.Info("Sync scheduler disabled, runs start only through the API")
	}

	// Operator tokens
	var verifier middleware.TokenVerifier
	if cfg.JWT.Secret != "" {
		tokens, err := auth.NewTokenService(cfg.JWT)
		if err != nil {
			log.Fatal("Failed to create token service", zap.Error(err))
		}
		verifier = tokens
	} else {
		log.Warn("jwt.secret is empty, the API is served without authentication")
	}

	engine, err := router.NewEngine(router.EngineConfig{
		Logger:         log,
		ServiceName:    cfg.Telemetry.ServiceName,
		Tracing:        app.Telemetry.Enabled(),
		TrustedProxies: cfg.HTTP.TrustedProxies,
		BodyLimit:      middleware.DefaultBodyLimit,
		Verifier:       verifier,
	},
		handler.NewExecutionHandler(app.Orchestrator, app.Store, app.Statuses),
		newHealthHandler(app),
	)
	if err != nil {
		log.Fatal("Failed to build HTTP router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	failed := false
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serverErr:
		failed = true
		log.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Warn("Sync scheduler did not stop in time", zap.Error(err))
		}
	}
	if err := app.Close(shutdownCtx); err != nil {
		log.Error("Failed to release resources", zap.Error(err))
	}

	if failed {
		os.Exit(1)
	}
	log.Info("Server exited gracefully")
}

// newHealthHandler checks the database and, when connected, Redis
func newHealthHandler(app *bootstrap.App) *handler.HealthHandler {
	opts := []handler.HealthOption{
		handler.WithHealthCheck("database", app.Database.Ping),
		handler.WithDatabaseStats(func() dto.DatabaseStats {
			stats, err := app.Database.Stats()
			if err != nil {
				return dto.DatabaseStats{}
			}
			return databaseStats(stats)
		}),
	}
	if app.Redis != nil {
		opts = append(opts, handler.WithHealthCheck("redis", func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		}))
	}
	return handler.NewHealthHandler(version, opts...)
}

func databaseStats(s persistence.ConnectionStats) dto.DatabaseStats {
	return dto.DatabaseStats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
	}
}

