package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscribe/soapflow/internal/apperr"
	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/internal/observability/metrics"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestMigrate(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS procedure_code_usage").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeStoreTopCodes(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM procedure_code_usage").
		WithArgs("u-1", 5).
		WillReturnRows(pgxmock.NewRows([]string{"code"}).AddRow("99213").AddRow("E11.9"))

	codes, err := NewCodeStore(mock, nil).TopCodes(context.Background(), "u-1", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"99213", "E11.9"}, codes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeStoreIncrement(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO procedure_code_usage").WithArgs("u-1", "99213").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO procedure_code_usage").WithArgs("u-1", "J20.9").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, NewCodeStore(mock, nil).Increment(context.Background(), "u-1", []string{"99213", "J20.9"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeStoreIncrementRollsBack(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO procedure_code_usage").WithArgs("u-1", "99213").
		WillReturnError(errors.New("conn lost"))
	mock.ExpectRollback()

	err := NewCodeStore(mock, nil).Increment(context.Background(), "u-1", []string{"99213"})
	assert.ErrorContains(t, err, "increment 99213")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeStoreIncrementNothing(t *testing.T) {
	mock := newMock(t)
	require.NoError(t, NewCodeStore(mock, nil).Increment(context.Background(), "u-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoteStoreSaveWritesOutbox(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	issues := []soapnote.Issue{{Section: soapnote.SectionPlan, Message: "m", Severity: soapnote.SeverityError}}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO soap_notes").
		WithArgs("n-1", "u-1", "general", "S", "O", "A", "P",
			pgxmock.AnyArg(), pgxmock.AnyArg(), 1, 0, false).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectQuery("INSERT INTO outbox").
		WithArgs("n-1", soapnote.AggregateType, "NoteGenerated", pgxmock.AnyArg(), "soapnote.events", "u-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), created))
	mock.ExpectCommit()

	evt, err := soapnote.NewEvent("n-1", soapnote.EventNoteGenerated, soapnote.NoteGeneratedData{NoteID: "n-1"})
	require.NoError(t, err)

	rec := &NoteRecord{
		ID: "n-1", UserID: "u-1", TemplateID: "general",
		Note:   soapnote.Note{Subjective: "S", Objective: "O", Assessment: "A", Plan: "P"},
		Issues: issues,
	}
	require.NoError(t, NewNoteStore(mock, "soapnote.events", nil).Save(context.Background(), rec, evt))

	assert.Equal(t, created, rec.CreatedAt)
	assert.Equal(t, "u-1", evt.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoteStoreSaveOutboxFailureRollsBack(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO soap_notes").
		WithArgs("n-1", "u-1", "", "", "", "", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(), 0, 0, false).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectQuery("INSERT INTO outbox").
		WithArgs("n-1", soapnote.AggregateType, "NoteGenerated", pgxmock.AnyArg(), "soapnote.events", "u-1").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	evt, err := soapnote.NewEvent("n-1", soapnote.EventNoteGenerated, struct{}{})
	require.NoError(t, err)

	err = NewNoteStore(mock, "soapnote.events", nil).Save(context.Background(), &NoteRecord{ID: "n-1", UserID: "u-1"}, evt)
	assert.ErrorContains(t, err, "outbox")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoteStoreGet(t *testing.T) {
	mock := newMock(t)
	issues, _ := json.Marshal([]soapnote.Issue{{Section: soapnote.SectionAlignment, Message: "m", Severity: soapnote.SeverityWarning}})
	created := time.Now().UTC()

	mock.ExpectQuery("FROM soap_notes").WithArgs("n-1", "u-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "template_id", "subjective", "objective", "assessment", "plan",
			"procedure_codes", "issues", "blocked", "created_at",
		}).AddRow("n-1", "u-1", "cardiology", "S", "O", "A", "P", []string{"93000"}, issues, true, created))

	rec, err := NewNoteStore(mock, "t", nil).Get(context.Background(), "u-1", "n-1")
	require.NoError(t, err)
	assert.Equal(t, "cardiology", rec.TemplateID)
	assert.Equal(t, []string{"93000"}, rec.ProcedureCodes)
	require.Len(t, rec.Issues, 1)
	assert.Equal(t, soapnote.SectionAlignment, rec.Issues[0].Section)
	assert.True(t, rec.Blocked)
}

func TestNoteStoreGetNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM soap_notes").WithArgs("n-2", "u-1").WillReturnError(pgx.ErrNoRows)

	_, err := NewNoteStore(mock, "t", nil).Get(context.Background(), "u-1", "n-2")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestComplianceRecord(t *testing.T) {
	mock := newMock(t)
	at := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO compliance_daily").
		WithArgs(day, "u-1", 1, 2, 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := NewComplianceStore(mock).Record(context.Background(), at, "u-1", soapnote.Summary{Errors: 2, Warnings: 3}, true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplianceForUser(t *testing.T) {
	mock := newMock(t)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM compliance_daily").WithArgs("u-1", 7).
		WillReturnRows(pgxmock.NewRows([]string{"day", "user_id", "notes", "blocked", "errors", "warnings"}).
			AddRow(day, "u-1", 4, 1, 6, 9))

	got, err := NewComplianceStore(mock).ForUser(context.Background(), "u-1", 7)
	require.NoError(t, err)
	assert.Equal(t, []DailyCounts{{Day: day, UserID: "u-1", Notes: 4, Blocked: 1, Errors: 6, Warnings: 9}}, got)
}

type recordingPublisher struct {
	fail  map[string]error
	calls []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, _ []byte) error {
	p.calls = append(p.calls, topic+"/"+key)
	return p.fail[key]
}

var outboxCols = []string{
	"id", "aggregate_id", "aggregate_type", "event_type", "payload",
	"kafka_topic", "kafka_key", "created_at", "retry_count", "last_error",
}

func TestOutboxProcessBatch(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	cfg := DefaultOutboxConfig()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox").WithArgs(cfg.MaxRetries, cfg.BatchSize).
		WillReturnRows(pgxmock.NewRows(outboxCols).
			AddRow(int64(1), "n-1", "SoapNote", "NoteGenerated", json.RawMessage(`{}`), "soapnote.events", "u-1", now, 0, (*string)(nil)).
			AddRow(int64(2), "n-2", "SoapNote", "NoteGenerated", json.RawMessage(`{}`), "soapnote.events", "u-2", now, 1, (*string)(nil)))
	mock.ExpectExec("SET processed_at").WithArgs(int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET retry_count").WithArgs("broker down", int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	pub := &recordingPublisher{fail: map[string]error{"u-2": errors.New("broker down")}}
	m := metrics.New(prometheus.NewRegistry())
	o := NewOutbox(mock, pub, cfg, m, nil)

	n, err := o.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"soapnote.events/u-1", "soapnote.events/u-2"}, pub.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KafkaMessagesProduced.WithLabelValues("soapnote.events")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxProcessBatchStopsAfterSQLError(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	cfg := DefaultOutboxConfig()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox").WithArgs(cfg.MaxRetries, cfg.BatchSize).
		WillReturnRows(pgxmock.NewRows(outboxCols).
			AddRow(int64(1), "n-1", "SoapNote", "NoteGenerated", json.RawMessage(`{}`), "soapnote.events", "u-1", now, 0, (*string)(nil)).
			AddRow(int64(2), "n-2", "SoapNote", "NoteGenerated", json.RawMessage(`{}`), "soapnote.events", "u-2", now, 0, (*string)(nil)))
	mock.ExpectExec("SET processed_at").WithArgs(int64(1)).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	pub := &recordingPublisher{}
	n, err := NewOutbox(mock, pub, cfg, nil, nil).ProcessBatch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errTxAborted)
	assert.Zero(t, n)
	assert.Equal(t, []string{"soapnote.events/u-1"}, pub.calls, "no publish after the transaction aborted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxProcessBatchStopsWhenRetryCountUpdateFails(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	cfg := DefaultOutboxConfig()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox").WithArgs(cfg.MaxRetries, cfg.BatchSize).
		WillReturnRows(pgxmock.NewRows(outboxCols).
			AddRow(int64(1), "n-1", "SoapNote", "NoteGenerated", json.RawMessage(`{}`), "soapnote.events", "u-1", now, 0, (*string)(nil)).
			AddRow(int64(2), "n-2", "SoapNote", "NoteGenerated", json.RawMessage(`{}`), "soapnote.events", "u-2", now, 0, (*string)(nil)))
	mock.ExpectExec("SET retry_count").WithArgs("broker down", int64(1)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	pub := &recordingPublisher{fail: map[string]error{"u-1": errors.New("broker down")}}
	_, err := NewOutbox(mock, pub, cfg, nil, nil).ProcessBatch(context.Background())
	assert.ErrorIs(t, err, errTxAborted)
	assert.Equal(t, []string{"soapnote.events/u-1"}, pub.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxMoveToDeadLetter(t *testing.T) {
	mock := newMock(t)
	cfg := DefaultOutboxConfig()
	lastErr := "broker down"

	mock.ExpectBegin()
	mock.ExpectQuery("retry_count >=").WithArgs(cfg.MaxRetries, cfg.BatchSize).
		WillReturnRows(pgxmock.NewRows(outboxCols).
			AddRow(int64(3), "n-3", "SoapNote", "NoteGenerated", json.RawMessage(`{}`), "soapnote.events", "u-3", time.Now(), 5, &lastErr))
	mock.ExpectExec("SET processed_at").WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	pub := &recordingPublisher{}
	m := metrics.New(prometheus.NewRegistry())
	n, err := NewOutbox(mock, pub, cfg, m, nil).MoveToDeadLetter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{DeadLetterTopic + "/u-3"}, pub.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxDeadLettered))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxStats(t *testing.T) {
	mock := newMock(t)
	oldest := time.Now().Add(-time.Minute)
	mock.ExpectQuery("FROM outbox").WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"pending", "failed", "oldest"}).AddRow(int64(4), int64(1), &oldest))

	stats, err := NewOutbox(mock, nil, DefaultOutboxConfig(), nil, nil).GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Pending)
	assert.Equal(t, int64(1), stats.Failed)
	require.NotNil(t, stats.OldestPending)
}

func TestOutboxStartStop(t *testing.T) {
	mock := newMock(t)
	cfg := DefaultOutboxConfig()
	cfg.PollInterval = time.Hour
	o := NewOutbox(mock, &recordingPublisher{}, cfg, nil, nil)
	o.Start()
	o.Stop()
}
