package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/metrics"
	"github.com/teslaelectricidad/teslabot/internal/middleware"
)

// RouterConfig holds every handler and middleware mounted by NewRouter.
// Nil handlers leave their routes unregistered.
type RouterConfig struct {
	Contact *ContactHandler
	Chat    *ChatHandler
	Catalog *CatalogHandler
	Health  *HealthHandler
	// Leads requires a database.
	Leads *LeadsHandler
	// LogLevel serves GET/PUT /admin/log-level.
	LogLevel http.Handler

	// AdminAuth guards the admin routes; without it they are not mounted.
	AdminAuth   *middleware.AdminAuth
	RateLimiter *middleware.RateLimiter
	Metrics     *metrics.Metrics

	MaxBodyBytes int64
	Logger       *zap.Logger
}

var probePaths = []string{"/health", "/ready", "/live", "/metrics"}

// NewRouter builds the HTTP router.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestCorrelation(cfg.Logger).Middleware)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger, probePaths...))
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(chimiddleware.Compress(5))

	if cfg.Health != nil {
		cfg.Health.RegisterRoutes(r)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.BodySizeLimiter(cfg.MaxBodyBytes))
		if cfg.RateLimiter != nil {
			r.Use(middleware.RateLimit(cfg.RateLimiter))
		}

		if cfg.Catalog != nil {
			cfg.Catalog.RegisterRoutes(r)
		}
		if cfg.Contact != nil {
			cfg.Contact.RegisterRoutes(r)
		}
		if cfg.Chat != nil {
			cfg.Chat.RegisterRoutes(r)
		}

		if cfg.AdminAuth == nil {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(cfg.AdminAuth.Middleware)
			if cfg.Leads != nil {
				cfg.Leads.RegisterRoutes(r)
			}
			if cfg.LogLevel != nil {
				r.Method(http.MethodGet, "/admin/log-level", cfg.LogLevel)
				r.Method(http.MethodPut, "/admin/log-level", cfg.LogLevel)
			}
		})
	})

	return r
}
