package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/apperr"
	"github.com/medscribe/soapflow/internal/domain/soapnote"
)

// NoteRecord is a generated note as stored.
type NoteRecord struct {
	ID             string
	UserID         string
	TemplateID     string
	Note           soapnote.Note
	ProcedureCodes []string
	Issues         []soapnote.Issue
	Blocked        bool
	CreatedAt      time.Time
}

// NoteStore persists generated notes together with their outbox events.
type NoteStore struct {
	db     DB
	topic  string
	logger *zap.Logger
}

// NewNoteStore creates a store that writes note events to topic.
func NewNoteStore(db DB, topic string, logger *zap.Logger) *NoteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoteStore{db: db, topic: topic, logger: logger}
}

// Save inserts rec and enqueues events in the same transaction. Events are
// keyed by user so one clinician's notes stay ordered on a partition.
func (s *NoteStore) Save(ctx context.Context, rec *NoteRecord, events ...*soapnote.Event) error {
	issues, err := json.Marshal(rec.Issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	summary := soapnote.Summarize(rec.Issues)
	codes := rec.ProcedureCodes
	if codes == nil {
		codes = []string{}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO soap_notes
		(id, user_id, template_id, subjective, objective, assessment, plan,
		 procedure_codes, issues, error_count, warning_count, blocked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, query,
		rec.ID, rec.UserID, rec.TemplateID,
		rec.Note.Subjective, rec.Note.Objective, rec.Note.Assessment, rec.Note.Plan,
		codes, issues, summary.Errors, summary.Warnings, rec.Blocked,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}

	for _, evt := range events {
		evt.UserID = rec.UserID
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := WriteEntry(ctx, tx, &OutboxEntry{
			AggregateID:   evt.AggregateID,
			AggregateType: evt.AggregateType,
			EventType:     string(evt.EventType),
			Payload:       payload,
			KafkaTopic:    s.topic,
			KafkaKey:      rec.UserID,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("note saved",
		zap.String("note_id", rec.ID),
		zap.String("user_id", rec.UserID),
		zap.Int("errors", summary.Errors),
		zap.Int("warnings", summary.Warnings))
	return nil
}

// Get loads one of the user's notes.
func (s *NoteStore) Get(ctx context.Context, userID, id string) (*NoteRecord, error) {
	query := `
		SELECT id, user_id, template_id, subjective, objective, assessment, plan,
		       procedure_codes, issues, blocked, created_at
		FROM soap_notes
		WHERE id = $1 AND user_id = $2
	`

	rec := &NoteRecord{}
	var issues []byte
	err := s.db.QueryRow(ctx, query, id, userID).Scan(
		&rec.ID, &rec.UserID, &rec.TemplateID,
		&rec.Note.Subjective, &rec.Note.Objective, &rec.Note.Assessment, &rec.Note.Plan,
		&rec.ProcedureCodes, &issues, &rec.Blocked, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.KindNotFound, "notes.get", fmt.Errorf("note %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("load note: %w", err)
	}

	if err := json.Unmarshal(issues, &rec.Issues); err != nil {
		return nil, fmt.Errorf("decode issues: %w", err)
	}
	return rec, nil
}
