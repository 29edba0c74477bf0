package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"spendly/internal/amqp"
	"spendly/internal/ledger"
)

type fakeConsumer struct{}

func (fakeConsumer) ConsumeLedgerEvents(ctx context.Context, handler func(*amqp.LedgerEventMessage) error) error {
	<-ctx.Done()
	return ctx.Err()
}

// wrappingConsumer reports cancellation the way a real consume loop does,
// wrapped in its own context.
type wrappingConsumer struct{}

func (wrappingConsumer) ConsumeLedgerEvents(ctx context.Context, handler func(*amqp.LedgerEventMessage) error) error {
	<-ctx.Done()
	return fmt.Errorf("stopping message consumption: %w", ctx.Err())
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []ledger.Event
	err    error
}

func (f *fakeRecorder) RecordEvent(_ context.Context, event ledger.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type fakePruner struct {
	mu      sync.Mutex
	calls   int
	cutoffs []time.Time
}

func (f *fakePruner) PruneHistory(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cutoffs = append(f.cutoffs, cutoff)
	return 0, nil
}

func (f *fakePruner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestAuditWorker_HandleEvent(t *testing.T) {
	recorder := &fakeRecorder{}
	w := NewAuditWorker(fakeConsumer{}, recorder, &fakePruner{}, time.Hour, time.Hour)

	msg := amqp.NewLedgerEventMessage(ledger.Event{
		Kind:          ledger.EventTransactionCreated,
		UserID:        "user-1",
		TransactionID: "tx-1",
		AmountCents:   -500,
		OccurredAt:    time.Now(),
	})

	if err := w.HandleEvent(context.Background(), msg); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if len(recorder.events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(recorder.events))
	}
	if recorder.events[0].TransactionID != "tx-1" {
		t.Errorf("recorded TransactionID = %v, want tx-1", recorder.events[0].TransactionID)
	}
}

func TestAuditWorker_HandleEvent_RecorderError(t *testing.T) {
	recorder := &fakeRecorder{err: errors.New("disk full")}
	w := NewAuditWorker(fakeConsumer{}, recorder, &fakePruner{}, time.Hour, time.Hour)

	msg := amqp.NewLedgerEventMessage(ledger.Event{Kind: ledger.EventLedgerReset, UserID: "user-1"})

	if err := w.HandleEvent(context.Background(), msg); err == nil {
		t.Error("HandleEvent() should propagate recorder errors so the message is requeued")
	}
}

func TestAuditWorker_Run_WrappedCancellationIsNotAnError(t *testing.T) {
	w := NewAuditWorker(wrappingConsumer{}, &fakeRecorder{}, &fakePruner{}, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := w.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	// A shutdown must not be reported as a consume failure.
	if strings.Contains(err.Error(), "consume ledger events") {
		t.Errorf("Run() treated cancellation as a failure: %v", err)
	}
}

func TestAuditWorker_Run_PrunesOnSchedule(t *testing.T) {
	pruner := &fakePruner{}
	w := NewAuditWorker(fakeConsumer{}, &fakeRecorder{}, pruner, time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v", err)
	}

	// Startup pass plus at least one tick.
	if pruner.callCount() < 2 {
		t.Errorf("prune called %d times, want at least 2", pruner.callCount())
	}

	pruner.mu.Lock()
	cutoff := pruner.cutoffs[0]
	pruner.mu.Unlock()
	if time.Since(cutoff) < 55*time.Minute {
		t.Errorf("cutoff %v not pushed back by retention", cutoff)
	}
}
