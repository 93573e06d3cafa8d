// Package router assembles the gin engine: middleware chain, versioned API group and
// the handlers that register onto it.
package router

import (
	"github.com/erp/billing/internal/infrastructure/logger"
	"github.com/erp/billing/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// EngineConfig configures the middleware chain.
type EngineConfig struct {
	ServiceName    string
	TracingEnabled bool
	MaxBodySize    int64
	AuthSecret     string
	AuthIssuer     string
	Logger         *zap.Logger
}

// HealthPath is served outside the API group and never requires auth.
const HealthPath = "/healthz"

// NewEngine creates a gin engine with recovery, tracing, request logging, body limit
// and service-token auth, in that order.
func NewEngine(cfg EngineConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(logger.Recovery(cfg.Logger))
	if cfg.TracingEnabled {
		engine.Use(middleware.Tracing(cfg.ServiceName))
	}
	engine.Use(logger.GinMiddleware(cfg.Logger))
	engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	engine.Use(middleware.ServiceAuth(middleware.ServiceAuthConfig{
		Secret:    []byte(cfg.AuthSecret),
		Issuer:    cfg.AuthIssuer,
		SkipPaths: []string{HealthPath},
		Logger:    cfg.Logger.Named("auth"),
	}))
	return engine
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
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

// Register adds a RouteRegistrar to be registered by Setup
func (r *Router) Register(registrars ...RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrars...)
	return r
}

// Health mounts the health handler at HealthPath.
func (r *Router) Health(h gin.HandlerFunc) *Router {
	r.engine.GET(HealthPath, h)
	return r
}

// Setup registers all routes under /api/<version>
func (r *Router) Setup() *gin.Engine {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
	return r.engine
}
