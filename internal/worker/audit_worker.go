// Package worker consumes ledger events into the audit table and enforces
// history retention. It runs as a separate process (cmd/spendly-worker) so
// the API server never blocks on audit writes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"spendly/internal/amqp"
	"spendly/internal/ledger"
	applog "spendly/internal/log"
)

// EventConsumer is the message source, satisfied by *amqp.Client.
type EventConsumer interface {
	ConsumeLedgerEvents(ctx context.Context, handler func(*amqp.LedgerEventMessage) error) error
}

// EventRecorder persists consumed events, satisfied by *storage.SQLiteRepository.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event ledger.Event) error
}

// HistoryPruner removes archived records past retention.
type HistoryPruner interface {
	PruneHistory(ctx context.Context, cutoff time.Time) (int64, error)
}

type AuditWorker struct {
	consumer      EventConsumer
	recorder      EventRecorder
	pruner        HistoryPruner
	retention     time.Duration
	pruneInterval time.Duration
}

func NewAuditWorker(consumer EventConsumer, recorder EventRecorder, pruner HistoryPruner, retention, pruneInterval time.Duration) *AuditWorker {
	return &AuditWorker{
		consumer:      consumer,
		recorder:      recorder,
		pruner:        pruner,
		retention:     retention,
		pruneInterval: pruneInterval,
	}
}

// Run blocks until the context is cancelled or either loop fails.
func (w *AuditWorker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := w.consumer.ConsumeLedgerEvents(ctx, func(msg *amqp.LedgerEventMessage) error {
			return w.HandleEvent(ctx, msg)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("consume ledger events: %w", err)
		}
		return err
	})

	g.Go(func() error {
		return w.runPruneLoop(ctx)
	})

	return g.Wait()
}

// HandleEvent records a single consumed event. Returning an error requeues
// the message.
func (w *AuditWorker) HandleEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	if err := w.recorder.RecordEvent(ctx, msg.Event); err != nil {
		return fmt.Errorf("record event %s: %w", msg.Kind, err)
	}

	slog.InfoContext(ctx, "Ledger event recorded",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldEventKind, msg.Kind,
		applog.FieldUserID, msg.UserID,
		applog.FieldTransactionID, msg.TransactionID)
	return nil
}

func (w *AuditWorker) runPruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.pruneInterval)
	defer ticker.Stop()

	// One pass at startup so a long-stopped worker catches up immediately.
	w.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

func (w *AuditWorker) prune(ctx context.Context) {
	cutoff := time.Now().Add(-w.retention)
	removed, err := w.pruner.PruneHistory(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "History prune failed",
			applog.FieldOperation, applog.OpPrune,
			applog.FieldError, err)
		return
	}
	if removed > 0 {
		slog.InfoContext(ctx, "History retention applied",
			applog.FieldOperation, applog.OpPrune,
			"removed", removed)
	}
}
