package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/medscribe/soapflow/internal/apperr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const handler = "compliance-daily"

func newInbox(t *testing.T) (*Inbox, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewInbox(mock, DefaultInboxConfig(), nil), mock
}

func entryRows(status Status, updated time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"idempotency_key", "handler_name", "status", "result", "updated_at"}).
		AddRow("k1", handler, status, json.RawMessage(`{"ok":true}`), updated)
}

func expectClaim(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery("INSERT INTO inbox").
		WithArgs("k1", handler, StatusStarted, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"idempotency_key"}).AddRow("k1"))
}

func TestProcessNewMessage(t *testing.T) {
	inbox, mock := newInbox(t)

	mock.ExpectQuery("SELECT idempotency_key").WithArgs("k1").WillReturnError(pgx.ErrNoRows)
	expectClaim(mock)
	mock.ExpectExec("UPDATE inbox").
		WithArgs(StatusFinished, pgxmock.AnyArg(), "k1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	calls := 0
	res, err := inbox.Process(context.Background(), "k1", handler, json.RawMessage(`{}`),
		func(context.Context, json.RawMessage) (json.RawMessage, error) {
			calls++
			return json.RawMessage(`{"ok":true}`), nil
		})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFinishedIsDuplicate(t *testing.T) {
	inbox, mock := newInbox(t)
	mock.ExpectQuery("SELECT idempotency_key").WithArgs("k1").
		WillReturnRows(entryRows(StatusFinished, time.Now()))

	res, err := inbox.Process(context.Background(), "k1", handler, nil,
		func(context.Context, json.RawMessage) (json.RawMessage, error) {
			t.Fatal("handler must not run")
			return nil, nil
		})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.JSONEq(t, `{"ok":true}`, string(res.Result))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessLostClaimIsDuplicate(t *testing.T) {
	inbox, mock := newInbox(t)
	mock.ExpectQuery("SELECT idempotency_key").WithArgs("k1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO inbox").
		WithArgs("k1", handler, StatusStarted, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	res, err := inbox.Process(context.Background(), "k1", handler, nil,
		func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, nil })
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessHandlerFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status Status
	}{
		{"terminal", apperr.Validation("decode", "bad payload"), StatusFailed},
		{"transient", apperr.E(apperr.KindNetwork, "db", errors.New("reset")), StatusRecoverable},
		{"untagged", errors.New("boom"), StatusRecoverable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox, mock := newInbox(t)
			mock.ExpectQuery("SELECT idempotency_key").WithArgs("k1").WillReturnError(pgx.ErrNoRows)
			expectClaim(mock)
			mock.ExpectExec("UPDATE inbox").
				WithArgs(tt.status, pgxmock.AnyArg(), "k1").
				WillReturnResult(pgxmock.NewResult("UPDATE", 1))

			_, err := inbox.Process(context.Background(), "k1", handler, nil,
				func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, tt.err })
			assert.ErrorIs(t, err, tt.err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestProcessInProgress(t *testing.T) {
	inbox, mock := newInbox(t)
	mock.ExpectQuery("SELECT idempotency_key").WithArgs("k1").
		WillReturnRows(entryRows(StatusStarted, time.Now()))

	_, err := inbox.Process(context.Background(), "k1", handler, nil, nil)
	assert.ErrorIs(t, err, ErrMessageInProgress)
}

func TestProcessRecoversStaleEntry(t *testing.T) {
	inbox, mock := newInbox(t)
	mock.ExpectQuery("SELECT idempotency_key").WithArgs("k1").
		WillReturnRows(entryRows(StatusStarted, time.Now().Add(-time.Hour)))
	mock.ExpectExec("UPDATE inbox").
		WithArgs(StatusRecoverable, pgxmock.AnyArg(), "k1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectClaim(mock)
	mock.ExpectExec("UPDATE inbox").
		WithArgs(StatusFinished, pgxmock.AnyArg(), "k1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	res, err := inbox.Process(context.Background(), "k1", handler, nil,
		func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, nil })
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessPreviouslyFailed(t *testing.T) {
	inbox, mock := newInbox(t)
	mock.ExpectQuery("SELECT idempotency_key").WithArgs("k1").
		WillReturnRows(entryRows(StatusFailed, time.Now()))

	_, err := inbox.Process(context.Background(), "k1", handler, nil, nil)
	assert.ErrorIs(t, err, ErrPreviouslyFailed)
	assert.True(t, apperr.IsTerminal(err))
}

func TestRecoverStaleEntries(t *testing.T) {
	inbox, mock := newInbox(t)
	mock.ExpectExec("UPDATE inbox").
		WithArgs(DefaultInboxConfig().RecoveryTimeout.Seconds()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := inbox.RecoverStaleEntries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCleanupLoopStops(t *testing.T) {
	inbox, _ := newInbox(t)
	inbox.StartCleanup()
	inbox.Stop()
}

func TestGenerateKey(t *testing.T) {
	a := GenerateKey(handler, "evt-1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, GenerateKey(handler, "evt-1"))
	assert.NotEqual(t, a, GenerateKey(handler, "evt-2"))
}
