package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/medscribe/soapflow/internal/domain/soapnote"
)

// ComplianceStore maintains per-user daily documentation quality counters.
type ComplianceStore struct {
	db DB
}

// NewComplianceStore creates a new compliance store
func NewComplianceStore(db DB) *ComplianceStore {
	return &ComplianceStore{db: db}
}

// DailyCounts is one row of compliance_daily.
type DailyCounts struct {
	Day      time.Time `json:"day"`
	UserID   string    `json:"user_id"`
	Notes    int       `json:"notes"`
	Blocked  int       `json:"blocked"`
	Errors   int       `json:"errors"`
	Warnings int       `json:"warnings"`
}

// Record adds one generated note to the user's counters for day (UTC).
func (s *ComplianceStore) Record(ctx context.Context, day time.Time, userID string, summary soapnote.Summary, blocked bool) error {
	blockedN := 0
	if blocked {
		blockedN = 1
	}

	query := `
		INSERT INTO compliance_daily (day, user_id, notes, blocked, errors, warnings)
		VALUES ($1, $2, 1, $3, $4, $5)
		ON CONFLICT (day, user_id) DO UPDATE
		SET notes = compliance_daily.notes + 1,
		    blocked = compliance_daily.blocked + EXCLUDED.blocked,
		    errors = compliance_daily.errors + EXCLUDED.errors,
		    warnings = compliance_daily.warnings + EXCLUDED.warnings,
		    updated_at = NOW()
	`
	_, err := s.db.Exec(ctx, query, day.UTC().Truncate(24*time.Hour), userID, blockedN, summary.Errors, summary.Warnings)
	if err != nil {
		return fmt.Errorf("record compliance: %w", err)
	}
	return nil
}

// ForUser returns the user's counters for the last days, newest first.
func (s *ComplianceStore) ForUser(ctx context.Context, userID string, days int) ([]DailyCounts, error) {
	query := `
		SELECT day, user_id, notes, blocked, errors, warnings
		FROM compliance_daily
		WHERE user_id = $1 AND day > CURRENT_DATE - $2::int
		ORDER BY day DESC
	`

	rows, err := s.db.Query(ctx, query, userID, days)
	if err != nil {
		return nil, fmt.Errorf("query compliance: %w", err)
	}
	defer rows.Close()

	out := make([]DailyCounts, 0, days)
	for rows.Next() {
		var d DailyCounts
		if err := rows.Scan(&d.Day, &d.UserID, &d.Notes, &d.Blocked, &d.Errors, &d.Warnings); err != nil {
			return nil, fmt.Errorf("scan compliance: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
