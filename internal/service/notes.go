package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/apperr"
	"github.com/medscribe/soapflow/internal/domain/procedurecode"
	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/internal/domain/template"
	"github.com/medscribe/soapflow/internal/infrastructure/postgres"
	"github.com/medscribe/soapflow/internal/observability/metrics"
)

// NoteModel turns a prompt into a structured note.
type NoteModel interface {
	GenerateNote(ctx context.Context, p template.Prompt) (soapnote.Note, error)
}

// NoteRepository stores generated notes and their events.
type NoteRepository interface {
	Save(ctx context.Context, rec *postgres.NoteRecord, events ...*soapnote.Event) error
	Get(ctx context.Context, userID, id string) (*postgres.NoteRecord, error)
}

// CodeRecorder tracks the codes a clinician attached to a note.
type CodeRecorder interface {
	Record(ctx context.Context, userID string, codes []string) error
}

// GenerateRequest is one note generation.
type GenerateRequest struct {
	UserID         string
	Transcript     string
	ProcedureCodes []string
	TemplateID     string
}

// Review is the validator outcome for a note.
type Review struct {
	Issues        []soapnote.Issue `json:"issues"`
	Notifications []Notification   `json:"notifications"`
	Blocked       bool             `json:"blocked"`
}

// GenerateResult is a generated note with its review.
type GenerateResult struct {
	NoteID    string        `json:"note_id"`
	Note      soapnote.Note `json:"soap_note"`
	CreatedAt time.Time     `json:"created_at"`
	Review
}

// NoteService runs the generation pipeline: template, prompt, model,
// validator, policy, persistence.
type NoteService struct {
	model     NoteModel
	templates *template.Catalogue
	notes     NoteRepository
	codes     CodeRecorder
	validator *soapnote.Validator
	policy    soapnote.Policy
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NoteServiceConfig wires a NoteService. Notes and Codes may be nil, in
// which case generated notes are not persisted.
type NoteServiceConfig struct {
	Model     NoteModel
	Templates *template.Catalogue
	Notes     NoteRepository
	Codes     CodeRecorder
	Validator *soapnote.Validator
	Policy    soapnote.Policy
	Metrics   *metrics.Metrics
}

// NewNoteService creates a note service. Missing catalogue, validator and
// metrics fall back to the built-in ones.
func NewNoteService(cfg NoteServiceConfig, logger *zap.Logger) *NoteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Templates == nil {
		cfg.Templates = template.Builtin()
	}
	if cfg.Validator == nil {
		cfg.Validator = soapnote.NewValidator(soapnote.DefaultRules())
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}
	return &NoteService{
		model:     cfg.Model,
		templates: cfg.Templates,
		notes:     cfg.Notes,
		codes:     cfg.Codes,
		validator: cfg.Validator,
		policy:    cfg.Policy,
		metrics:   cfg.Metrics,
		logger:    logger,
		tracer:    otel.Tracer("note-service"),
	}
}

// Review validates a clinician-edited note without calling the model.
func (s *NoteService) Review(note soapnote.Note, procedureCodes []string) Review {
	issues := s.validator.Validate(note, procedureCodes)
	s.metrics.ObserveIssues(issues)
	return Review{
		Issues:        issues,
		Notifications: Notify(issues),
		Blocked:       s.policy.Blocks(issues),
	}
}

// Generate produces a note from a transcript. A model failure is returned
// as is and never retried; a blocked note is still returned with Blocked set.
func (s *NoteService) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	ctx, span := s.tracer.Start(ctx, "generate_note",
		trace.WithAttributes(attribute.String("template_id", req.TemplateID)))
	defer span.End()

	if strings.TrimSpace(req.Transcript) == "" {
		return nil, apperr.Validation("notes.generate", "transcription is required")
	}

	tmpl, err := s.templates.Get(req.TemplateID)
	if err != nil {
		return nil, err
	}

	prompt := template.BuildPrompt(tmpl, req.Transcript, req.ProcedureCodes)
	note, err := s.model.GenerateNote(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		s.metrics.NotesGenerated.WithLabelValues(tmpl.ID, "failed").Inc()
		s.metrics.GenerationFailures.WithLabelValues(string(apperr.KindOf(err))).Inc()
		s.logger.Warn("note generation failed",
			zap.String("user_id", req.UserID),
			zap.String("template_id", tmpl.ID),
			zap.Error(err))
		return nil, fmt.Errorf("generate note: %w", err)
	}

	review := s.Review(note, req.ProcedureCodes)
	res := &GenerateResult{
		NoteID:    uuid.New().String(),
		Note:      note,
		CreatedAt: time.Now().UTC(),
		Review:    review,
	}
	summary := soapnote.Summarize(review.Issues)
	span.SetAttributes(
		attribute.String("note_id", res.NoteID),
		attribute.Int("errors", summary.Errors),
		attribute.Int("warnings", summary.Warnings),
		attribute.Bool("blocked", review.Blocked),
	)

	if err := s.persist(ctx, req, tmpl.ID, res, summary); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		s.metrics.NotesGenerated.WithLabelValues(tmpl.ID, "failed").Inc()
		return nil, err
	}

	outcome := "ok"
	if review.Blocked {
		outcome = "blocked"
	}
	s.metrics.NotesGenerated.WithLabelValues(tmpl.ID, outcome).Inc()

	s.logger.Info("note generated",
		zap.String("note_id", res.NoteID),
		zap.String("user_id", req.UserID),
		zap.String("template_id", tmpl.ID),
		zap.Int("errors", summary.Errors),
		zap.Int("warnings", summary.Warnings),
		zap.Bool("blocked", review.Blocked))
	return res, nil
}

func (s *NoteService) persist(ctx context.Context, req GenerateRequest, templateID string, res *GenerateResult, summary soapnote.Summary) error {
	if s.notes == nil {
		return nil
	}

	evt, err := soapnote.NewEvent(res.NoteID, soapnote.EventNoteGenerated, soapnote.NoteGeneratedData{
		NoteID:         res.NoteID,
		UserID:         req.UserID,
		TemplateID:     templateID,
		ProcedureCodes: req.ProcedureCodes,
		Summary:        summary,
		Blocked:        res.Blocked,
		GeneratedAt:    res.CreatedAt,
	})
	if err != nil {
		return apperr.E(apperr.KindInternal, "notes.generate", err)
	}

	rec := &postgres.NoteRecord{
		ID:             res.NoteID,
		UserID:         req.UserID,
		TemplateID:     templateID,
		Note:           res.Note,
		ProcedureCodes: req.ProcedureCodes,
		Issues:         res.Issues,
		Blocked:        res.Blocked,
	}
	if err := s.notes.Save(ctx, rec, evt); err != nil {
		return apperr.E(apperr.KindInternal, "notes.save", err)
	}
	res.CreatedAt = rec.CreatedAt

	if s.codes != nil {
		if accepted := procedurecode.Normalize(req.ProcedureCodes); len(accepted) > 0 {
			if err := s.codes.Record(ctx, req.UserID, accepted); err != nil {
				s.logger.Warn("failed to record code usage",
					zap.String("user_id", req.UserID),
					zap.Error(err))
			}
		}
	}
	return nil
}

// Get returns a stored note of userID with a fresh review.
func (s *NoteService) Get(ctx context.Context, userID, id string) (*GenerateResult, error) {
	if s.notes == nil {
		return nil, apperr.E(apperr.KindNotFound, "notes.get", fmt.Errorf("note %s not found", id))
	}
	rec, err := s.notes.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{
		NoteID:    rec.ID,
		Note:      rec.Note,
		CreatedAt: rec.CreatedAt,
		Review: Review{
			Issues:        rec.Issues,
			Notifications: Notify(rec.Issues),
			Blocked:       rec.Blocked,
		},
	}, nil
}
