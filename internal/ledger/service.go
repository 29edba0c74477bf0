// Package ledger implements the balance-ledger consistency core: every
// mutation of a user's cached balance funnels through this service, which
// applies the balance delta first and persists the resulting transaction or
// history state second. A crash can therefore leave a balance adjustment
// without its record, but never a record without an attempted balance
// update.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"spendly/internal/core"
)

// Defaults applied when an income is recorded without a category or note.
const (
	DefaultIncomeCategory = "Added Money"
	DefaultIncomeNote     = "Balance top-up"
)

// Service orchestrates balance and transaction mutations. It holds no state
// of its own; all per-user state lives behind the store ports.
type Service struct {
	balances     BalanceStore
	transactions TransactionStore
	history      HistoryStore
	loans        LoanStore
	events       EventPublisher
}

func NewService(balances BalanceStore, transactions TransactionStore, history HistoryStore, loans LoanStore, events EventPublisher) *Service {
	return &Service{
		balances:     balances,
		transactions: transactions,
		history:      history,
		loans:        loans,
		events:       events,
	}
}

// RecordExpense debits the balance and appends an expense transaction.
// Fails with core.ErrInvalidAmount for non-positive amounts and
// core.ErrInsufficientFunds when the amount exceeds the current balance; in
// both cases balance and transaction set are left unchanged.
func (s *Service) RecordExpense(ctx context.Context, userID string, amount core.Money, category, note string, recurring bool) (core.Transaction, core.Money, error) {
	if err := amount.Validate(); err != nil {
		return core.Transaction{}, core.Money{}, err
	}
	if strings.TrimSpace(category) == "" {
		return core.Transaction{}, core.Money{}, core.ErrEmptyCategory
	}

	newBalance, err := s.balances.Adjust(ctx, userID, -amount.Cents)
	if err != nil {
		return core.Transaction{}, core.Money{}, fmt.Errorf("debit balance: %w", err)
	}

	tx := core.Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         core.Expense,
		Amount:       amount,
		Category:     category,
		Note:         note,
		BalanceAfter: newBalance,
		IsRecurring:  recurring,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.transactions.Create(ctx, tx); err != nil {
		return core.Transaction{}, core.Money{}, fmt.Errorf("create transaction: %w", err)
	}

	s.publish(ctx, Event{
		Kind:          EventTransactionCreated,
		UserID:        userID,
		TransactionID: tx.ID,
		AmountCents:   -amount.Cents,
		OccurredAt:    tx.CreatedAt,
	})

	return tx, newBalance, nil
}

// RecordIncome credits the balance and appends an income transaction.
// Empty category and note fall back to the top-up defaults.
func (s *Service) RecordIncome(ctx context.Context, userID string, amount core.Money, category, note string, recurring bool) (core.Transaction, core.Money, error) {
	if err := amount.Validate(); err != nil {
		return core.Transaction{}, core.Money{}, err
	}
	if strings.TrimSpace(category) == "" {
		category = DefaultIncomeCategory
	}
	if strings.TrimSpace(note) == "" {
		note = DefaultIncomeNote
	}

	newBalance, err := s.balances.Adjust(ctx, userID, amount.Cents)
	if err != nil {
		return core.Transaction{}, core.Money{}, fmt.Errorf("credit balance: %w", err)
	}

	tx := core.Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         core.Income,
		Amount:       amount,
		Category:     category,
		Note:         note,
		BalanceAfter: newBalance,
		IsRecurring:  recurring,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.transactions.Create(ctx, tx); err != nil {
		return core.Transaction{}, core.Money{}, fmt.Errorf("create transaction: %w", err)
	}

	s.publish(ctx, Event{
		Kind:          EventTransactionCreated,
		UserID:        userID,
		TransactionID: tx.ID,
		AmountCents:   amount.Cents,
		OccurredAt:    tx.CreatedAt,
	})

	return tx, newBalance, nil
}

// SetInitialBalance overwrites both the initial and current balance. Unlike
// the delta operations this is an absolute write; zero is a valid amount.
func (s *Service) SetInitialBalance(ctx context.Context, userID string, amount core.Money) (core.Money, error) {
	if amount.Cents < 0 {
		return core.Money{}, core.ErrInvalidAmount
	}
	if err := s.balances.SetInitial(ctx, userID, amount); err != nil {
		return core.Money{}, fmt.Errorf("set initial balance: %w", err)
	}
	return amount, nil
}

// Balance returns the current and initial balance for a user.
func (s *Service) Balance(ctx context.Context, userID string) (current, initial core.Money, err error) {
	return s.balances.Balance(ctx, userID)
}

// Transactions returns the active set, newest first.
func (s *Service) Transactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	return s.transactions.FindByUser(ctx, userID)
}

// History returns archived records, most recently deleted first.
func (s *Service) History(ctx context.Context, userID string) ([]core.HistoryRecord, error) {
	return s.history.FindByUser(ctx, userID)
}

// DeleteTransaction reverses the balance effect of a transaction, archives
// it to history and removes it from the active set. Reversing an expense
// credits the amount back; reversing an income debits it, clamped at zero
// rather than rejected (the income side keeps its historical clamp).
func (s *Service) DeleteTransaction(ctx context.Context, userID, id string) (core.Money, error) {
	tx, err := s.transactions.FindOne(ctx, id, userID)
	if err != nil {
		return core.Money{}, err
	}

	var newBalance core.Money
	switch tx.Type {
	case core.Expense:
		newBalance, err = s.balances.Adjust(ctx, userID, tx.Amount.Cents)
	case core.Income:
		newBalance, err = s.balances.AdjustClamped(ctx, userID, -tx.Amount.Cents)
	default:
		return core.Money{}, fmt.Errorf("transaction %s has unknown type %q", id, tx.Type)
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("reverse balance effect: %w", err)
	}

	deletedAt := time.Now().UTC()
	if err := s.history.Archive(ctx, []core.HistoryRecord{tx.Archived(uuid.NewString(), deletedAt)}); err != nil {
		return core.Money{}, fmt.Errorf("archive transaction: %w", err)
	}
	if err := s.transactions.Delete(ctx, id, userID); err != nil {
		return core.Money{}, fmt.Errorf("delete transaction: %w", err)
	}

	s.publish(ctx, Event{
		Kind:          EventTransactionDeleted,
		UserID:        userID,
		TransactionID: id,
		AmountCents:   tx.Amount.Cents,
		OccurredAt:    deletedAt,
	})

	return newBalance, nil
}

// EditTransaction updates category, note and/or the recurring flag. The
// amount, type and balanceAfter snapshot never change, so no balance work
// is needed here.
func (s *Service) EditTransaction(ctx context.Context, userID, id string, patch TransactionPatch) (core.Transaction, error) {
	if patch.Empty() {
		return s.transactions.FindOne(ctx, id, userID)
	}
	tx, err := s.transactions.Update(ctx, id, userID, patch)
	if err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// RecurringResult reports a partial-success ApplyRecurring run.
type RecurringResult struct {
	Applied []core.Transaction `json:"transactions"`
	Skipped int                `json:"skipped"`
	Balance core.Money         `json:"balance"`
}

// ApplyRecurring walks the recurring templates in original insertion order
// and clones each into a fresh transaction, applying its balance delta.
// Expense templates that exceed the current balance are skipped, not
// errors: partial application is the expected outcome. Each call clones at
// most once per template; calling twice doubles the applied count.
func (s *Service) ApplyRecurring(ctx context.Context, userID string) (RecurringResult, error) {
	templates, err := s.transactions.FindRecurring(ctx, userID)
	if err != nil {
		return RecurringResult{}, fmt.Errorf("list recurring templates: %w", err)
	}

	result := RecurringResult{Applied: []core.Transaction{}}
	if len(templates) == 0 {
		current, _, err := s.balances.Balance(ctx, userID)
		if err != nil {
			return RecurringResult{}, err
		}
		result.Balance = current
		return result, nil
	}

	var newBalance core.Money
	applied := false
	for _, tmpl := range templates {
		delta := tmpl.Amount.Cents
		if tmpl.Type == core.Expense {
			delta = -delta
		}

		nb, err := s.balances.Adjust(ctx, userID, delta)
		if errors.Is(err, core.ErrInsufficientFunds) {
			// Unaffordable expense template: skip and keep going.
			result.Skipped++
			continue
		}
		if err != nil {
			return RecurringResult{}, fmt.Errorf("apply recurring delta: %w", err)
		}
		newBalance = nb
		applied = true

		clone := core.Transaction{
			ID:           uuid.NewString(),
			UserID:       userID,
			Type:         tmpl.Type,
			Amount:       tmpl.Amount,
			Category:     tmpl.Category,
			Note:         tmpl.Note,
			BalanceAfter: nb,
			IsRecurring:  tmpl.IsRecurring,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.transactions.Create(ctx, clone); err != nil {
			return RecurringResult{}, fmt.Errorf("create recurring clone: %w", err)
		}
		result.Applied = append(result.Applied, clone)

		s.publish(ctx, Event{
			Kind:          EventTransactionCreated,
			UserID:        userID,
			TransactionID: clone.ID,
			AmountCents:   delta,
			OccurredAt:    clone.CreatedAt,
		})
	}

	if !applied {
		current, _, err := s.balances.Balance(ctx, userID)
		if err != nil {
			return RecurringResult{}, err
		}
		newBalance = current
	}
	result.Balance = newBalance
	return result, nil
}

// ClearAll moves every active transaction to history and empties the active
// set. The balance is untouched.
func (s *Service) ClearAll(ctx context.Context, userID string) (int, error) {
	deleted, err := s.transactions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("clear transactions: %w", err)
	}
	if err := s.archiveAll(ctx, deleted); err != nil {
		return 0, err
	}

	s.publish(ctx, Event{
		Kind:       EventTransactionsClear,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	})
	return len(deleted), nil
}

// ResetAll archives every active transaction and zeroes both balances,
// regardless of the prior balance.
func (s *Service) ResetAll(ctx context.Context, userID string) (core.Money, error) {
	deleted, err := s.transactions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return core.Money{}, fmt.Errorf("clear transactions: %w", err)
	}
	if err := s.archiveAll(ctx, deleted); err != nil {
		return core.Money{}, err
	}
	if err := s.balances.SetInitial(ctx, userID, core.Money{}); err != nil {
		return core.Money{}, fmt.Errorf("reset balance: %w", err)
	}

	s.publish(ctx, Event{
		Kind:       EventLedgerReset,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	})
	return core.Money{}, nil
}

// AddLoan records money given out to a person. Loans do not touch the
// balance until marked returned.
func (s *Service) AddLoan(ctx context.Context, userID, personName string, amount core.Money, note string) (core.Loan, error) {
	loan := core.Loan{
		ID:         uuid.NewString(),
		UserID:     userID,
		PersonName: personName,
		Amount:     amount,
		Note:       note,
		Status:     core.LoanPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := loan.Validate(); err != nil {
		return core.Loan{}, err
	}
	if err := s.loans.Create(ctx, loan); err != nil {
		return core.Loan{}, fmt.Errorf("create loan: %w", err)
	}
	return loan, nil
}

// Loans lists a user's loans.
func (s *Service) Loans(ctx context.Context, userID string) ([]core.Loan, error) {
	return s.loans.FindByUser(ctx, userID)
}

// MarkLoanReturned flips a pending loan to returned and credits its amount
// back to the balance. A missing or already-returned loan reports not-found;
// the flip happens before the credit so a repeated call can never credit
// twice.
func (s *Service) MarkLoanReturned(ctx context.Context, userID, id string) (core.Loan, core.Money, error) {
	loan, err := s.loans.MarkReturned(ctx, id, userID)
	if err != nil {
		return core.Loan{}, core.Money{}, err
	}

	newBalance, err := s.balances.Adjust(ctx, userID, loan.Amount.Cents)
	if err != nil {
		return core.Loan{}, core.Money{}, fmt.Errorf("credit returned loan: %w", err)
	}

	s.publish(ctx, Event{
		Kind:        EventLoanReturned,
		UserID:      userID,
		AmountCents: loan.Amount.Cents,
		OccurredAt:  time.Now().UTC(),
	})
	return loan, newBalance, nil
}

func (s *Service) archiveAll(ctx context.Context, deleted []core.Transaction) error {
	if len(deleted) == 0 {
		return nil
	}
	deletedAt := time.Now().UTC()
	records := make([]core.HistoryRecord, len(deleted))
	for i, tx := range deleted {
		records[i] = tx.Archived(uuid.NewString(), deletedAt)
	}
	if err := s.history.Archive(ctx, records); err != nil {
		return fmt.Errorf("archive transactions: %w", err)
	}
	return nil
}

// publish sends an event best-effort. Delivery failures are logged and
// never surface to the caller: the ledger state is already committed.
func (s *Service) publish(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLedgerEvent(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", event.Kind,
			"user_id", event.UserID,
			"error", err)
	}
}
