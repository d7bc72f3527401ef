// Package handlers provides HTTP handlers for the soapflow API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/api/middleware"
	"github.com/medscribe/soapflow/internal/api/respond"
	"github.com/medscribe/soapflow/internal/apperr"
	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/internal/service"
)

const maxBodyBytes = 1 << 20

// NoteGenerator is the note pipeline used by NotesHandler.
type NoteGenerator interface {
	Generate(ctx context.Context, req service.GenerateRequest) (*service.GenerateResult, error)
	Review(note soapnote.Note, procedureCodes []string) service.Review
	Get(ctx context.Context, userID, id string) (*service.GenerateResult, error)
}

// NotesHandler handles note generation and validation endpoints
type NotesHandler struct {
	notes  NoteGenerator
	policy soapnote.Policy
	logger *zap.Logger
	tracer trace.Tracer
}

// NewNotesHandler creates a new handler. policy decides when /validate
// rejects a note.
func NewNotesHandler(notes NoteGenerator, policy soapnote.Policy, logger *zap.Logger) *NotesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotesHandler{
		notes:  notes,
		policy: policy,
		logger: logger,
		tracer: otel.Tracer("notes-handler"),
	}
}

// Routes returns the handler routes
func (h *NotesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/generate", h.Generate)
	r.Post("/validate", h.Validate)
	r.Get("/{id}", h.Get)
	return r
}

// GenerateRequest is the request body for generating a note
type GenerateRequest struct {
	Transcription  string   `json:"transcription"`
	ProcedureCodes []string `json:"procedureCodes"`
	TemplateID     string   `json:"templateId"`
}

// Generate handles POST /notes/generate
func (h *NotesHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "generate_note_request")
	defer span.End()

	var req GenerateRequest
	if err := decode(w, r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	res, err := h.notes.Generate(ctx, service.GenerateRequest{
		UserID:         middleware.GetUserID(ctx),
		Transcript:     req.Transcription,
		ProcedureCodes: req.ProcedureCodes,
		TemplateID:     req.TemplateID,
	})
	if err != nil {
		span.RecordError(err)
		h.logger.Warn("generate failed",
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
		respond.Error(w, h.logger, err)
		return
	}

	span.SetAttributes(attribute.String("note_id", res.NoteID), attribute.Bool("blocked", res.Blocked))
	respond.JSON(w, http.StatusOK, res)
}

// ValidateRequest is the request body for validating an edited note
type ValidateRequest struct {
	Note           soapnote.Note `json:"soap_note"`
	ProcedureCodes []string      `json:"procedureCodes"`
}

// ValidateResponse is returned by /validate. Error fields are set when the
// submission policy rejects the note.
type ValidateResponse struct {
	service.Review
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// Validate handles POST /notes/validate
func (h *NotesHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := decode(w, r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	review := h.notes.Review(req.Note, req.ProcedureCodes)
	if err := h.policy.Evaluate(review.Issues); err != nil {
		review.Blocked = true
		respond.JSON(w, respond.Status(apperr.KindOf(err)), ValidateResponse{
			Review: review,
			Error:  errors.Unwrap(err).Error(),
			Kind:   string(apperr.KindOf(err)),
		})
		return
	}
	respond.JSON(w, http.StatusOK, ValidateResponse{Review: review})
}

// Get handles GET /notes/{id}
func (h *NotesHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.notes.Get(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("decode", "invalid request body")
	}
	return nil
}
