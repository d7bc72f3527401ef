package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/medscribe/soapflow/internal/api/respond"
	"github.com/medscribe/soapflow/pkg/circuitbreaker"
)

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

// Health always reports the process as alive. Breaker state is included so
// an open upstream shows up without failing readiness.
func Health(service, version string, breakers ...*circuitbreaker.CircuitBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{
			"status":  "healthy",
			"service": service,
			"version": version,
		}
		if len(breakers) > 0 {
			statuses := make([]circuitbreaker.HealthStatus, 0, len(breakers))
			for _, b := range breakers {
				if b.IsOpen() {
					body["status"] = "degraded"
				}
				statuses = append(statuses, b.Health())
			}
			body["breakers"] = statuses
		}
		respond.JSON(w, http.StatusOK, body)
	}
}

// Ready runs every checker and reports 503 if any fails.
func Ready(checks map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				result[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		respond.JSON(w, status, result)
	}
}
