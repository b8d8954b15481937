package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/circuitbreaker"
)

// HealthChecker defines the interface for checking database health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// BreakerReporter exposes circuit breaker statistics.
type BreakerReporter interface {
	Stats() []circuitbreaker.Stats
}

// ReadinessChecker reports whether the process accepts new work.
type ReadinessChecker interface {
	IsReady() bool
}

// HealthHandler handles health check HTTP requests.
type HealthHandler struct {
	healthChecker HealthChecker
	breakers      []BreakerReporter
	readiness     ReadinessChecker
	version       string
	logger        *zap.Logger
}

// HealthHandlerConfig holds configuration for HealthHandler.
type HealthHandlerConfig struct {
	// HealthChecker is nil when the service runs without a database.
	HealthChecker HealthChecker
	Breakers      []BreakerReporter
	Readiness     ReadinessChecker
	Version       string
	Logger        *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with all required dependencies.
func NewHealthHandler(cfg HealthHandlerConfig) *HealthHandler {
	if cfg.Logger == nil {
		panic("logger is required")
	}
	return &HealthHandler{
		healthChecker: cfg.HealthChecker,
		breakers:      cfg.Breakers,
		readiness:     cfg.Readiness,
		version:       cfg.Version,
		logger:        cfg.Logger,
	}
}

// RegisterRoutes registers health routes on the router.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReadiness)
	r.Get("/live", h.HandleLiveness)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string                     `json:"status"`
	Version  string                     `json:"version,omitempty"`
	Checks   map[string]ComponentHealth `json:"checks,omitempty"`
	Breakers []circuitbreaker.Stats     `json:"breakers,omitempty"`
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleHealth reports the database and every circuit breaker. An open
// breaker degrades the service; a failed database makes it unhealthy.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:  "ok",
		Version: h.version,
		Checks:  make(map[string]ComponentHealth),
	}

	hasCriticalFailure := false
	hasDegradation := false

	if h.healthChecker != nil {
		if err := h.healthChecker.Ping(ctx); err != nil {
			hasCriticalFailure = true
			response.Checks["database"] = ComponentHealth{
				Status:  "unhealthy",
				Message: err.Error(),
			}
			h.logger.Error("database health check failed", zap.Error(err))
		} else {
			response.Checks["database"] = ComponentHealth{Status: "healthy"}
		}
	}

	for _, reporter := range h.breakers {
		for _, stats := range reporter.Stats() {
			response.Breakers = append(response.Breakers, stats)
			if stats.State == circuitbreaker.StateClosed.String() {
				continue
			}
			hasDegradation = true
			response.Checks[stats.Name] = ComponentHealth{
				Status:  "degraded",
				Message: "circuit breaker " + stats.State,
			}
		}
	}

	if h.readiness != nil && !h.readiness.IsReady() {
		hasDegradation = true
		response.Checks["lifecycle"] = ComponentHealth{
			Status:  "degraded",
			Message: "shutting down",
		}
	}

	if hasCriticalFailure {
		response.Status = "unhealthy"
	} else if hasDegradation {
		response.Status = "degraded"
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	JSONWithRequest(w, r, statusCode, response)
}

// HandleReadiness returns a simple readiness probe response.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.readiness != nil && !h.readiness.IsReady() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.healthChecker != nil {
		if err := h.healthChecker.Ping(ctx); err != nil {
			h.logger.Error("readiness check failed", zap.Error(err))
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// HandleLiveness returns a simple liveness probe response.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
