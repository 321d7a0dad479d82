// Package router assembles the gin engine and registers the API routes.
package router

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/infrastructure/auth"
	"github.com/konozy/ordersync/internal/infrastructure/logger"
	"github.com/konozy/ordersync/internal/interfaces/http/handler"
	"github.com/konozy/ordersync/internal/interfaces/http/middleware"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	middleware []gin.HandlerFunc
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithGroupMiddleware adds middleware to the versioned API group only
func WithGroupMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.middleware = append(r.middleware, mw...)
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/"+r.apiVersion, r.middleware...)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// ExecutionRoutes registers the sync trigger and execution lookups. When
// RequireScopes is set callers need sync:trigger to start runs and sync:read
// to read them.
type ExecutionRoutes struct {
	Handler       *handler.ExecutionHandler
	RequireScopes bool
}

// RegisterRoutes implements RouteRegistrar
func (e ExecutionRoutes) RegisterRoutes(rg *gin.RouterGroup) {
	trigger := []gin.HandlerFunc{}
	read := []gin.HandlerFunc{}
	if e.RequireScopes {
		trigger = append(trigger, middleware.RequireScope(auth.ScopeSyncTrigger))
		read = append(read, middleware.RequireScope(auth.ScopeSyncRead))
	}

	syncs := rg.Group("/sync", trigger...)
	syncs.POST("", e.Handler.TriggerSync)
	syncs.POST("/orders/:orderId", e.Handler.SyncOrder)

	executions := rg.Group("/executions", read...)
	executions.GET("/:id", e.Handler.GetExecution)
	executions.GET("/:id/events", e.Handler.GetExecutionEvents)
}

// EngineConfig configures NewEngine
type EngineConfig struct {
	Logger         *zap.Logger
	ServiceName    string
	Tracing        bool
	TracerProvider trace.TracerProvider
	TrustedProxies []string
	BodyLimit      int64
	// Verifier guards /api routes; nil leaves them open
	Verifier middleware.TokenVerifier
}

// NewEngine builds the gin engine serving /health and the execution API
func NewEngine(cfg EngineConfig, executions *handler.ExecutionHandler, health *handler.HealthHandler) (*gin.Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = middleware.DefaultBodyLimit
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	engine.Use(
		logger.Recovery(cfg.Logger),
		middleware.Tracing(middleware.TracingConfig{
			ServiceName:    cfg.ServiceName,
			Enabled:        cfg.Tracing,
			TracerProvider: cfg.TracerProvider,
		}),
		middleware.RequestID(),
		logger.GinMiddleware(cfg.Logger),
		middleware.BodyLimit(cfg.BodyLimit),
	)

	engine.GET("/health", health.Health)

	var group []gin.HandlerFunc
	if cfg.Verifier != nil {
		group = append(group, middleware.JWTAuthWithConfig(middleware.JWTMiddlewareConfig{
			Verifier: cfg.Verifier,
			Logger:   cfg.Logger,
		}))
	}
	group = append(group, middleware.SpanAttributes())

	NewRouter(engine, WithGroupMiddleware(group...)).
		Register(ExecutionRoutes{Handler: executions, RequireScopes: cfg.Verifier != nil}).
		Setup()

	return engine, nil
}
