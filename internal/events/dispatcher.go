package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-projects/internal/billable"
	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/wip"
)

// Event types carried in Envelope.Type.
const (
	TypeJournalPosted    = "ledger.journal_posted"
	TypeTransitioned     = "billable.transitioned"
	TypeSnapshotRecorded = "wip.snapshot_recorded"
)

// Envelope is the message written to Kafka.
type Envelope struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Bumper invalidates cached read models.
type Bumper interface {
	Bump(ctx context.Context) error
}

// Enqueuer schedules a WIP recalculation for a project.
type Enqueuer interface {
	EnqueueRecalculate(ctx context.Context, projectID int64) error
}

// Observer counts dispatched events. observability.Metrics implements it.
type Observer interface {
	ObserveEvent(eventType string, err error)
}

// Dispatcher receives committed changes from the ledger, the state machine
// and the WIP engine. Every collaborator is optional and failures are only
// logged: the change has already committed.
type Dispatcher struct {
	publisher Publisher
	bumper    Bumper
	enqueuer  Enqueuer
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher wires the fan-out targets. Nil targets are skipped.
func NewDispatcher(logger *slog.Logger, publisher Publisher, bumper Bumper, enqueuer Enqueuer) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{publisher: publisher, bumper: bumper, enqueuer: enqueuer, logger: logger, now: time.Now}
}

// WithObserver records the outcome of every publish.
func (d *Dispatcher) WithObserver(observer Observer) *Dispatcher {
	d.observer = observer
	return d
}

// WithNow overrides the clock for testing.
func (d *Dispatcher) WithNow(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

type transitionPayload struct {
	Kind      billable.Kind   `json:"kind"`
	EventID   int64           `json:"event_id"`
	ProjectID int64           `json:"project_id"`
	From      billable.Status `json:"from"`
	To        billable.Status `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	ActorID   *int64          `json:"actor_id,omitempty"`
	Journals  []uuid.UUID     `json:"journals"`
	Reversals []uuid.UUID     `json:"reversals"`
	HistoryID int64           `json:"history_id"`
}

type snapshotPayload struct {
	Snapshot     wip.SnapshotResponse `json:"snapshot"`
	Delta        decimal.Decimal      `json:"delta"`
	AdjustmentID *uuid.UUID           `json:"adjustment_id,omitempty"`
}

// JournalPosted implements ledger.Notifier.
func (d *Dispatcher) JournalPosted(ctx context.Context, journal ledger.Journal) {
	d.publish(ctx, TypeJournalPosted, journal.ID.String(), ledger.NewJournalResponse(journal))
	d.bump(ctx)
	if journal.ProjectID != nil && journal.Kind != ledger.KindWIPAdjustment {
		d.enqueue(ctx, *journal.ProjectID)
	}
}

// Transitioned implements billable.Notifier.
func (d *Dispatcher) Transitioned(ctx context.Context, result billable.TransitionResult) {
	ev := result.Event
	payload := transitionPayload{
		Kind:      ev.Kind,
		EventID:   ev.ID,
		ProjectID: ev.ProjectID,
		From:      result.From,
		To:        ev.Status,
		Amount:    ev.Amount,
		ActorID:   result.History.ActorID,
		Journals:  journalIDs(result.Journals),
		Reversals: journalIDs(result.Reversals),
		HistoryID: result.History.ID,
	}
	d.publish(ctx, TypeTransitioned, fmt.Sprintf("%s:%d", ev.Source().Type, ev.ID), payload)
	if len(result.Journals) > 0 || len(result.Reversals) > 0 {
		d.bump(ctx)
	}
	d.enqueue(ctx, ev.ProjectID)
}

// SnapshotRecorded implements wip.Notifier.
func (d *Dispatcher) SnapshotRecorded(ctx context.Context, result wip.RecalcResult) {
	payload := snapshotPayload{
		Snapshot: wip.NewSnapshotResponse(result.Snapshot),
		Delta:    result.Delta,
	}
	if result.Adjustment != nil {
		payload.AdjustmentID = &result.Adjustment.ID
	}
	d.publish(ctx, TypeSnapshotRecorded, fmt.Sprintf("project:%d", result.Snapshot.ProjectID), payload)
	d.bump(ctx)
}

func journalIDs(journals []ledger.Journal) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(journals))
	for _, j := range journals {
		ids = append(ids, j.ID)
	}
	return ids
}

func (d *Dispatcher) publish(ctx context.Context, eventType, key string, payload any) {
	if d.publisher == nil {
		return
	}
	env := Envelope{ID: uuid.New(), Type: eventType, OccurredAt: d.now().UTC(), Payload: payload}
	err := d.publisher.Publish(context.WithoutCancel(ctx), key, env)
	if d.observer != nil {
		d.observer.ObserveEvent(eventType, err)
	}
	if err != nil {
		d.logger.Warn("event publish failed",
			slog.String("type", eventType),
			slog.String("key", key),
			slog.Any("error", err),
		)
	}
}

func (d *Dispatcher) bump(ctx context.Context) {
	if d.bumper == nil {
		return
	}
	if err := d.bumper.Bump(context.WithoutCancel(ctx)); err != nil {
		d.logger.Warn("report cache bump failed", slog.Any("error", err))
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, projectID int64) {
	if d.enqueuer == nil || projectID <= 0 {
		return
	}
	if err := d.enqueuer.EnqueueRecalculate(context.WithoutCancel(ctx), projectID); err != nil {
		d.logger.Warn("wip recalculation enqueue failed",
			slog.Int64("project_id", projectID),
			slog.Any("error", err),
		)
	}
}
