// Package api assembles the soapflow HTTP API.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/api/handlers"
	"github.com/medscribe/soapflow/internal/api/middleware"
	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/internal/domain/template"
	"github.com/medscribe/soapflow/internal/observability/metrics"
	"github.com/medscribe/soapflow/pkg/circuitbreaker"
)

// Deps are the collaborators the router serves. Compliance may be nil when
// the API runs without a database.
type Deps struct {
	Service    string
	Version    string
	Notes      handlers.NoteGenerator
	Codes      handlers.CodeSuggester
	Compliance handlers.ComplianceReader
	Templates  *template.Catalogue
	Policy     soapnote.Policy
	Verifier   *middleware.TokenVerifier
	Limiter    *middleware.RateLimiter
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Ready      map[string]handlers.Checker
	// Breakers are reported on /health. They never fail /ready.
	Breakers   []*circuitbreaker.CircuitBreaker
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.Templates == nil {
		d.Templates = template.Builtin()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(d.Service))
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
	}

	r.Get("/health", handlers.Health(d.Service, d.Version, d.Breakers...))
	r.Get("/ready", handlers.Ready(d.Ready))
	if d.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(d.Gatherer))
	}

	notes := handlers.NewNotesHandler(d.Notes, d.Policy, logger)
	codes := handlers.NewCodesHandler(d.Codes, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BearerAuth(d.Verifier))

		r.Get("/templates", handlers.TemplatesHandler(d.Templates))

		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(d.Limiter.Handler)
			}
			r.Mount("/notes", notes.Routes())
			r.Mount("/codes", codes.Routes())
		})

		if d.Compliance != nil {
			r.Mount("/compliance", handlers.NewComplianceHandler(d.Compliance, logger).Routes())
		}
	})

	return r
}

// NewOpsRouter serves only the health, readiness and metrics endpoints, for
// background workers that have no public API.
func NewOpsRouter(service, version string, ready map[string]handlers.Checker, g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(zap.NewNop()))
	r.Get("/health", handlers.Health(service, version))
	r.Get("/ready", handlers.Ready(ready))
	if g != nil {
		r.Handle("/metrics", metrics.Handler(g))
	}
	return r
}
