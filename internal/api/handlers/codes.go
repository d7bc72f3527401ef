package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/api/middleware"
	"github.com/medscribe/soapflow/internal/api/respond"
	"github.com/medscribe/soapflow/internal/service"
)

// CodeSuggester returns procedure code suggestions for a user.
type CodeSuggester interface {
	Suggest(ctx context.Context, userID, transcript string, forceRefresh bool) (*service.Suggestion, error)
}

// CodesHandler handles procedure code endpoints
type CodesHandler struct {
	codes  CodeSuggester
	logger *zap.Logger
}

// NewCodesHandler creates a new handler
func NewCodesHandler(codes CodeSuggester, logger *zap.Logger) *CodesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodesHandler{codes: codes, logger: logger}
}

// Routes returns the handler routes
func (h *CodesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/suggest", h.Suggest)
	return r
}

// SuggestRequest is the request body for code suggestions
type SuggestRequest struct {
	Transcription string `json:"transcription"`
	Refresh       bool   `json:"refresh"`
}

// Suggest handles POST /codes/suggest
func (h *CodesHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if err := decode(w, r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	ctx := r.Context()
	res, err := h.codes.Suggest(ctx, middleware.GetUserID(ctx), req.Transcription, req.Refresh)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}
