package ledger

import (
	"context"

	"spendly/internal/core"
)

// Ports for the persistence layer. Implementations live in
// internal/storage (SQLite) and internal/memstore (in-memory).
type (
	// BalanceStore owns the per-user cached balance scalar. Adjust and
	// AdjustClamped must be atomic at the storage layer (a single
	// increment/decrement, not read-modify-write in application code):
	// two concurrent adjustments for the same user must both land.
	BalanceStore interface {
		// Balance returns the current and initial balance for a user.
		Balance(ctx context.Context, userID string) (current, initial core.Money, err error)

		// SetInitial overwrites both the initial and current balance.
		// Rejects negative amounts.
		SetInitial(ctx context.Context, userID string, amount core.Money) error

		// Adjust applies currentBalance += delta atomically and returns the
		// new balance. Fails with core.ErrInsufficientFunds if the result
		// would be negative, leaving the balance unchanged.
		Adjust(ctx context.Context, userID string, deltaCents int64) (core.Money, error)

		// AdjustClamped applies currentBalance += delta atomically, flooring
		// the result at zero instead of failing.
		AdjustClamped(ctx context.Context, userID string, deltaCents int64) (core.Money, error)
	}

	TransactionStore interface {
		Create(ctx context.Context, tx core.Transaction) error

		// FindByUser returns all active transactions, newest first.
		FindByUser(ctx context.Context, userID string) ([]core.Transaction, error)

		// FindRecurring returns recurring templates in original insertion
		// order (oldest first).
		FindRecurring(ctx context.Context, userID string) ([]core.Transaction, error)

		FindOne(ctx context.Context, id, userID string) (core.Transaction, error)

		// Update applies a partial update; amount, type and balanceAfter are
		// immutable and not part of the patch.
		Update(ctx context.Context, id, userID string, patch TransactionPatch) (core.Transaction, error)

		Delete(ctx context.Context, id, userID string) error

		// DeleteAllForUser empties the active set and returns the deleted
		// records for archival.
		DeleteAllForUser(ctx context.Context, userID string) ([]core.Transaction, error)
	}

	// HistoryStore is append-only from the core's point of view; pruning is
	// an external concern (see internal/worker).
	HistoryStore interface {
		Archive(ctx context.Context, records []core.HistoryRecord) error

		// FindByUser returns history records, most recently deleted first.
		FindByUser(ctx context.Context, userID string) ([]core.HistoryRecord, error)
	}

	LoanStore interface {
		Create(ctx context.Context, loan core.Loan) error
		FindByUser(ctx context.Context, userID string) ([]core.Loan, error)

		// MarkReturned flips a pending loan to returned and returns it.
		// Fails with core.ErrNotFound if the loan is missing or not pending.
		MarkReturned(ctx context.Context, id, userID string) (core.Loan, error)
	}

	// EventPublisher receives ledger lifecycle events. Publishing is
	// best-effort: the service logs failures and never fails the operation.
	EventPublisher interface {
		PublishLedgerEvent(ctx context.Context, event Event) error
	}
)

// TransactionPatch holds the mutable subset of a transaction. Nil fields are
// left untouched.
type TransactionPatch struct {
	Category    *string
	Note        *string
	IsRecurring *bool
}

func (p TransactionPatch) Empty() bool {
	return p.Category == nil && p.Note == nil && p.IsRecurring == nil
}
