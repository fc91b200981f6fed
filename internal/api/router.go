package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/aiox-platform/companion/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Sessions and turns
	StartSession http.HandlerFunc
	EndSession   http.HandlerFunc
	ProcessTurn  http.HandlerFunc

	// Incidents
	ListIncidents   http.HandlerFunc
	ResolveIncident http.HandlerFunc

	// Memory
	GetMemory        http.HandlerFunc
	GetMemoryHistory http.HandlerFunc

	// Audit trail
	ListAuditLogs http.HandlerFunc

	// Service-token auth; RequireScope gates each route group.
	AuthMiddleware func(http.Handler) http.Handler
	RequireScope   func(scope string) func(http.Handler) http.Handler
}

// Scope names accepted by HandlerSet.RequireScope.
const (
	ScopeTurns     = "turns"
	ScopeIncidents = "incidents"
	ScopeMemory    = "memory"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	TurnRateLimiter    func(http.Handler) http.Handler
	// Readiness maps dependency names to their checks. A nil check reports
	// the dependency as not configured.
	Readiness map[string]HealthCheck
}

const readinessTimeout = 2 * time.Second

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(chimw.Recoverer)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		health := map[string]string{"status": "healthy"}
		status := http.StatusOK
		for name, check := range cfg.Readiness {
			switch {
			case check == nil:
				health[name] = "not configured"
			case check(ctx) != nil:
				health[name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
			default:
				health[name] = "healthy"
			}
		}
		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireScope(ScopeTurns))
			if cfg.TurnRateLimiter != nil {
				r.Use(cfg.TurnRateLimiter)
			}
			r.Post("/sessions", h.StartSession)
			r.Delete("/sessions/{sessionID}", h.EndSession)
			r.Post("/sessions/{sessionID}/turns", h.ProcessTurn)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.RequireScope(ScopeIncidents))
			r.Get("/users/{userID}/incidents", h.ListIncidents)
			r.Post("/incidents/{incidentID}/resolve", h.ResolveIncident)
			r.Get("/users/{userID}/audit", h.ListAuditLogs)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.RequireScope(ScopeMemory))
			r.Get("/users/{userID}/memory", h.GetMemory)
			r.Get("/users/{userID}/memory/history", h.GetMemoryHistory)
		})
	})

	return r
}
