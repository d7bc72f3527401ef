package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/api/middleware"
	"github.com/medscribe/soapflow/internal/api/respond"
	"github.com/medscribe/soapflow/internal/apperr"
	"github.com/medscribe/soapflow/internal/domain/template"
	"github.com/medscribe/soapflow/internal/infrastructure/postgres"
)

// TemplatesHandler serves the specialty template catalogue.
func TemplatesHandler(c *template.Catalogue) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]any{"templates": c.List()})
	}
}

const (
	defaultComplianceDays = 30
	maxComplianceDays     = 365
)

// ComplianceReader reads per-user daily documentation counters.
type ComplianceReader interface {
	ForUser(ctx context.Context, userID string, days int) ([]postgres.DailyCounts, error)
}

// ComplianceHandler exposes the caller's documentation quality history.
type ComplianceHandler struct {
	store  ComplianceReader
	logger *zap.Logger
}

// NewComplianceHandler creates a new handler
func NewComplianceHandler(store ComplianceReader, logger *zap.Logger) *ComplianceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ComplianceHandler{store: store, logger: logger}
}

// Routes returns the handler routes
func (h *ComplianceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}

// List handles GET /compliance?days=N
func (h *ComplianceHandler) List(w http.ResponseWriter, r *http.Request) {
	days := defaultComplianceDays
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxComplianceDays {
			respond.Fail(w, apperr.KindValidation, "days must be between 1 and 365")
			return
		}
		days = n
	}

	ctx := r.Context()
	rows, err := h.store.ForUser(ctx, middleware.GetUserID(ctx), days)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"days": days, "counters": rows})
}
