package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/internal/infrastructure/redpanda"
	"github.com/medscribe/soapflow/internal/observability/metrics"
	"github.com/medscribe/soapflow/pkg/idempotency"
	"github.com/medscribe/soapflow/pkg/workerpool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorded struct {
	day     time.Time
	userID  string
	summary soapnote.Summary
	blocked bool
}

type fakeStore struct {
	mu   sync.Mutex
	rows []recorded
	err  error
}

func (s *fakeStore) Record(_ context.Context, day time.Time, userID string, summary soapnote.Summary, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, recorded{day, userID, summary, blocked})
	return nil
}

// memInbox finishes keys in memory.
type memInbox struct {
	mu   sync.Mutex
	done map[string]bool
}

func (i *memInbox) Process(ctx context.Context, key, _ string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error) {
	i.mu.Lock()
	if i.done[key] {
		i.mu.Unlock()
		return &idempotency.ProcessResult{Duplicate: true}, nil
	}
	i.mu.Unlock()

	res, err := fn(ctx, payload)
	if err != nil {
		return nil, err
	}
	i.mu.Lock()
	i.done[key] = true
	i.mu.Unlock()
	return &idempotency.ProcessResult{IsNew: true, Result: res}, nil
}

func newMonitor(t *testing.T, store *fakeStore) (*Monitor, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	mon, err := NewMonitor(store, &memInbox{done: map[string]bool{}},
		workerpool.Config{Workers: 2, QueueSize: 4}, m, nil)
	require.NoError(t, err)
	mon.Start()
	t.Cleanup(func() { require.NoError(t, mon.Stop()) })
	return mon, m
}

func noteEvent(t *testing.T, userID string, errs int, blocked bool) *redpanda.ConsumedMessage {
	t.Helper()
	evt, err := soapnote.NewEvent("note-"+userID, soapnote.EventNoteGenerated, soapnote.NoteGeneratedData{
		NoteID:      "note-" + userID,
		UserID:      userID,
		TemplateID:  "general",
		Summary:     soapnote.Summary{Errors: errs, Warnings: 1},
		Blocked:     blocked,
		GeneratedAt: time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	value, err := json.Marshal(evt)
	require.NoError(t, err)
	return &redpanda.ConsumedMessage{Topic: redpanda.TopicNoteEvents, Value: value}
}

func TestHandleBatchRecordsEveryEvent(t *testing.T) {
	store := &fakeStore{}
	mon, m := newMonitor(t, store)

	batch := []*redpanda.ConsumedMessage{
		noteEvent(t, "u-1", 0, false),
		noteEvent(t, "u-2", 2, true),
		noteEvent(t, "u-3", 1, false),
	}
	for i, msg := range batch {
		msg.Offset = int64(i)
	}

	require.NoError(t, mon.HandleBatch(context.Background(), batch))

	require.Len(t, store.rows, 3)
	byUser := map[string]recorded{}
	for _, r := range store.rows {
		byUser[r.userID] = r
	}
	assert.True(t, byUser["u-2"].blocked)
	assert.Equal(t, 2, byUser["u-2"].summary.Errors)
	assert.Equal(t, 2026, byUser["u-1"].day.Year())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ComplianceEvents.WithLabelValues("recorded")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.KafkaMessagesConsumed.WithLabelValues(redpanda.TopicNoteEvents)))
}

func TestHandleBatchSkipsRedeliveredEvents(t *testing.T) {
	store := &fakeStore{}
	mon, m := newMonitor(t, store)
	msg := noteEvent(t, "u-1", 0, false)

	require.NoError(t, mon.HandleBatch(context.Background(), []*redpanda.ConsumedMessage{msg}))
	require.NoError(t, mon.HandleBatch(context.Background(), []*redpanda.ConsumedMessage{msg}))

	assert.Len(t, store.rows, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComplianceEvents.WithLabelValues("duplicate")))
}

func TestHandleBatchDropsMalformedEvents(t *testing.T) {
	store := &fakeStore{}
	mon, m := newMonitor(t, store)

	other, err := json.Marshal(soapnote.Event{ID: "e-1", EventType: "NoteDeleted"})
	require.NoError(t, err)
	noUser, err := json.Marshal(soapnote.Event{ID: "e-2", EventType: soapnote.EventNoteGenerated, EventData: json.RawMessage(`{}`)})
	require.NoError(t, err)

	err = mon.HandleBatch(context.Background(), []*redpanda.ConsumedMessage{
		{Value: []byte("not json")},
		{Value: other},
		{Value: noUser},
	})
	require.NoError(t, err)

	assert.Empty(t, store.rows)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ComplianceEvents.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComplianceEvents.WithLabelValues("skipped")))
}

func TestHandleBatchFailsWhenStoreFails(t *testing.T) {
	store := &fakeStore{err: errors.New("connection reset")}
	mon, m := newMonitor(t, store)

	err := mon.HandleBatch(context.Background(), []*redpanda.ConsumedMessage{noteEvent(t, "u-1", 0, false)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.ComplianceEvents.WithLabelValues("failed")), 1.0)
}

func TestNewMonitorRequiresCollaborators(t *testing.T) {
	_, err := NewMonitor(nil, &memInbox{}, workerpool.DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestHealthyFailsWhenQueueIsFull(t *testing.T) {
	mon, err := NewMonitor(&fakeStore{}, &memInbox{done: map[string]bool{}},
		workerpool.Config{Workers: 1, QueueSize: 4}, metrics.New(prometheus.NewRegistry()), nil)
	require.NoError(t, err)
	assert.NoError(t, mon.Healthy(context.Background()))

	// Workers are not started, so submitted tasks stay queued.
	for i := 0; i < 4; i++ {
		require.NoError(t, mon.pool.Submit(context.Background(), workerpool.Task[*redpanda.ConsumedMessage]{
			ID:      fmt.Sprintf("queued-%d", i),
			Payload: noteEvent(t, "u-1", 0, false),
		}))
	}
	assert.ErrorContains(t, mon.Healthy(context.Background()), "worker queue")
	require.NoError(t, mon.Stop())
}
