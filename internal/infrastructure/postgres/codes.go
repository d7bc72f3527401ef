package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/domain/procedurecode"
)

// CodeStore persists per-user procedure code frequencies.
type CodeStore struct {
	db     DB
	logger *zap.Logger
}

var _ procedurecode.Repository = (*CodeStore)(nil)

// NewCodeStore creates a new code store
func NewCodeStore(db DB, logger *zap.Logger) *CodeStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodeStore{db: db, logger: logger}
}

// TopCodes returns the user's most used codes, most recent first on ties.
func (s *CodeStore) TopCodes(ctx context.Context, userID string, limit int) ([]string, error) {
	query := `
		SELECT code
		FROM procedure_code_usage
		WHERE user_id = $1
		ORDER BY frequency DESC, last_used_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query top codes: %w", err)
	}
	defer rows.Close()

	codes := make([]string, 0, limit)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// Increment records one use of each code in a single transaction.
func (s *CodeStore) Increment(ctx context.Context, userID string, codes []string) error {
	if len(codes) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO procedure_code_usage (user_id, code)
		VALUES ($1, $2)
		ON CONFLICT (user_id, code) DO UPDATE
		SET frequency = procedure_code_usage.frequency + 1, last_used_at = NOW()
	`
	for _, code := range codes {
		if _, err := tx.Exec(ctx, query, userID, code); err != nil {
			return fmt.Errorf("increment %s: %w", code, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("code usage recorded", zap.String("user_id", userID), zap.Int("codes", len(codes)))
	return nil
}
