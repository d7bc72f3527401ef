package soapnote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventNoteGenerated EventType = "NoteGenerated"
)

// AggregateType is recorded on every note event.
const AggregateType = "SoapNote"

// Event is the envelope published for note lifecycle changes.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	UserID        string          `json:"user_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(noteID string, eventType EventType, data any) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   noteID,
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.EventData, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.EventType, err)
	}
	return nil
}

// NoteGeneratedData describes a note produced by the generation pipeline.
type NoteGeneratedData struct {
	NoteID         string    `json:"note_id"`
	UserID         string    `json:"user_id"`
	TemplateID     string    `json:"template_id"`
	ProcedureCodes []string  `json:"procedure_codes"`
	Summary        Summary   `json:"summary"`
	Blocked        bool      `json:"blocked"`
	GeneratedAt    time.Time `json:"generated_at"`
}
