// Package compliance aggregates note events into per-clinician daily
// documentation quality counters.
package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/apperr"
	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/internal/infrastructure/redpanda"
	"github.com/medscribe/soapflow/internal/observability/metrics"
	"github.com/medscribe/soapflow/pkg/idempotency"
	"github.com/medscribe/soapflow/pkg/workerpool"
)

const handlerName = "compliance-monitor"

// Recorder persists one note into the daily counters.
type Recorder interface {
	Record(ctx context.Context, day time.Time, userID string, summary soapnote.Summary, blocked bool) error
}

// Inbox runs a handler at most once per key.
type Inbox interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// Monitor consumes NoteGenerated events. Batches fan out over a worker pool
// and HandleBatch returns only after every event of the batch settled, so
// offsets are committed for fully processed batches only.
type Monitor struct {
	store   Recorder
	inbox   Inbox
	pool    *workerpool.Pool[*redpanda.ConsumedMessage]
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewMonitor creates a monitor. Call Start before handing it batches.
func NewMonitor(store Recorder, inbox Inbox, poolCfg workerpool.Config, m *metrics.Metrics, logger *zap.Logger) (*Monitor, error) {
	if store == nil || inbox == nil {
		return nil, errors.New("compliance store and inbox are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mon := &Monitor{
		store:   store,
		inbox:   inbox,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("compliance-monitor"),
	}

	pool, err := workerpool.New(poolCfg, mon.handle, logger)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	mon.pool = pool
	return mon, nil
}

// Start launches the workers.
func (mon *Monitor) Start() { mon.pool.Start() }

// Stop drains the worker pool.
func (mon *Monitor) Stop() error { return mon.pool.Stop() }

// Healthy fails while the worker queue is close to full.
func (mon *Monitor) Healthy(context.Context) error {
	if !mon.pool.IsHealthy() {
		return errors.New("worker queue backing up")
	}
	return nil
}

// HandleBatch is a redpanda.BatchHandler.
func (mon *Monitor) HandleBatch(ctx context.Context, msgs []*redpanda.ConsumedMessage) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, msg := range msgs {
		wg.Add(1)
		err := mon.pool.Submit(ctx, workerpool.Task[*redpanda.ConsumedMessage]{
			ID:      fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
			Payload: msg,
			Context: msg.TraceContext(ctx),
			Done: func(res workerpool.Result) {
				defer wg.Done()
				if res.Err != nil {
					fail(fmt.Errorf("%s: %w", res.TaskID, res.Err))
				}
			},
		})
		if err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	if mon.metrics != nil {
		mon.metrics.WorkerQueueDepth.Set(float64(mon.pool.Stats().QueueDepth))
	}
	wg.Wait()

	return errors.Join(errs...)
}

// handle processes one message. Malformed events are counted and dropped
// since redelivery cannot fix them.
func (mon *Monitor) handle(ctx context.Context, task workerpool.Task[*redpanda.ConsumedMessage]) error {
	msg := task.Payload
	ctx, span := mon.tracer.Start(ctx, "compliance_event",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		))
	defer span.End()

	var evt soapnote.Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.ID == "" {
		mon.count("invalid")
		mon.logger.Warn("dropping malformed event", zap.String("task_id", task.ID), zap.Error(err))
		return nil
	}
	if evt.EventType != soapnote.EventNoteGenerated {
		mon.count("skipped")
		return nil
	}
	span.SetAttributes(attribute.String("event_id", evt.ID), attribute.String("note_id", evt.AggregateID))

	res, err := mon.inbox.Process(ctx, idempotency.GenerateKey(handlerName, evt.ID), handlerName, msg.Value, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, mon.record(ctx, &evt)
	})
	switch {
	case err == nil && res.Duplicate:
		mon.count("duplicate")
		return nil
	case err == nil:
		mon.count("recorded")
		if mon.metrics != nil {
			mon.metrics.KafkaMessagesConsumed.WithLabelValues(msg.Topic).Inc()
		}
		return nil
	case apperr.IsTerminal(err):
		mon.count("invalid")
		mon.logger.Warn("dropping event", zap.String("event_id", evt.ID), zap.Error(err))
		return nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
		mon.count("failed")
		return err
	}
}

func (mon *Monitor) record(ctx context.Context, evt *soapnote.Event) error {
	var data soapnote.NoteGeneratedData
	if err := evt.Decode(&data); err != nil {
		return apperr.E(apperr.KindValidation, "compliance.record", err)
	}
	userID := data.UserID
	if userID == "" {
		userID = evt.UserID
	}
	if userID == "" {
		return apperr.Validation("compliance.record", "event has no user")
	}
	day := data.GeneratedAt
	if day.IsZero() {
		day = evt.Timestamp
	}
	return mon.store.Record(ctx, day, userID, data.Summary, data.Blocked)
}

func (mon *Monitor) count(result string) {
	if mon.metrics != nil {
		mon.metrics.ComplianceEvents.WithLabelValues(result).Inc()
	}
}
