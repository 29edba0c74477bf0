// Package memstore provides an in-memory implementation of the ledger and
// user stores. It backs the default DATA_BACKEND=memory mode and the test
// suites; state is lost on restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"spendly/internal/core"
	"spendly/internal/ledger"
)

type Store struct {
	mu      sync.Mutex
	users   map[string]core.User
	byEmail map[string]string
	txs     map[string][]core.Transaction // per user, insertion order
	history map[string][]core.HistoryRecord
	loans   map[string][]core.Loan
}

func New() *Store {
	return &Store{
		users:   make(map[string]core.User),
		byEmail: make(map[string]string),
		txs:     make(map[string][]core.Transaction),
		history: make(map[string][]core.HistoryRecord),
		loans:   make(map[string][]core.Loan),
	}
}

// Views over the shared state, one per store port.
func (s *Store) Users() *Users               { return &Users{s} }
func (s *Store) Balances() *Balances         { return &Balances{s} }
func (s *Store) Transactions() *Transactions { return &Transactions{s} }
func (s *Store) History() *History           { return &History{s} }
func (s *Store) Loans() *Loans               { return &Loans{s} }

type (
	Users        struct{ s *Store }
	Balances     struct{ s *Store }
	Transactions struct{ s *Store }
	History      struct{ s *Store }
	Loans        struct{ s *Store }
)

func (u *Users) Create(_ context.Context, user core.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	key := strings.ToLower(user.Email)
	if _, exists := u.s.byEmail[key]; exists {
		return fmt.Errorf("user %s: %w", user.Email, core.ErrAlreadyExists)
	}
	u.s.users[user.ID] = user
	u.s.byEmail[key] = user.ID
	return nil
}

func (u *Users) FindByEmail(_ context.Context, email string) (core.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	id, ok := u.s.byEmail[strings.ToLower(email)]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return u.s.users[id], nil
}

func (u *Users) FindByID(_ context.Context, id string) (core.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return user, nil
}

func (b *Balances) Balance(_ context.Context, userID string) (core.Money, core.Money, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	u, ok := b.s.users[userID]
	if !ok {
		return core.Money{}, core.Money{}, core.ErrNotFound
	}
	return u.CurrentBalance, u.InitialBalance, nil
}

func (b *Balances) SetInitial(_ context.Context, userID string, amount core.Money) error {
	if amount.Cents < 0 {
		return core.ErrInvalidAmount
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	u, ok := b.s.users[userID]
	if !ok {
		return core.ErrNotFound
	}
	u.InitialBalance = amount
	u.CurrentBalance = amount
	b.s.users[userID] = u
	return nil
}

func (b *Balances) Adjust(_ context.Context, userID string, deltaCents int64) (core.Money, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	u, ok := b.s.users[userID]
	if !ok {
		return core.Money{}, core.ErrNotFound
	}
	next := u.CurrentBalance.Cents + deltaCents
	if next < 0 {
		return core.Money{}, core.ErrInsufficientFunds
	}
	u.CurrentBalance = core.Money{Cents: next}
	b.s.users[userID] = u
	return u.CurrentBalance, nil
}

func (b *Balances) AdjustClamped(_ context.Context, userID string, deltaCents int64) (core.Money, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	u, ok := b.s.users[userID]
	if !ok {
		return core.Money{}, core.ErrNotFound
	}
	next := u.CurrentBalance.Cents + deltaCents
	if next < 0 {
		next = 0
	}
	u.CurrentBalance = core.Money{Cents: next}
	b.s.users[userID] = u
	return u.CurrentBalance, nil
}

func (t *Transactions) Create(_ context.Context, tx core.Transaction) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.txs[tx.UserID] = append(t.s.txs[tx.UserID], tx)
	return nil
}

func (t *Transactions) FindByUser(_ context.Context, userID string) ([]core.Transaction, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	items := t.s.txs[userID]
	out := make([]core.Transaction, len(items))
	// newest first
	for i, tx := range items {
		out[len(items)-1-i] = tx
	}
	return out, nil
}

func (t *Transactions) FindRecurring(_ context.Context, userID string) ([]core.Transaction, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range t.s.txs[userID] {
		if tx.IsRecurring {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (t *Transactions) FindOne(_ context.Context, id, userID string) (core.Transaction, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, tx := range t.s.txs[userID] {
		if tx.ID == id {
			return tx, nil
		}
	}
	return core.Transaction{}, core.ErrNotFound
}

func (t *Transactions) Update(_ context.Context, id, userID string, patch ledger.TransactionPatch) (core.Transaction, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	items := t.s.txs[userID]
	for i, tx := range items {
		if tx.ID != id {
			continue
		}
		if patch.Category != nil {
			tx.Category = *patch.Category
		}
		if patch.Note != nil {
			tx.Note = *patch.Note
		}
		if patch.IsRecurring != nil {
			tx.IsRecurring = *patch.IsRecurring
		}
		items[i] = tx
		return tx, nil
	}
	return core.Transaction{}, core.ErrNotFound
}

func (t *Transactions) Delete(_ context.Context, id, userID string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	items := t.s.txs[userID]
	for i, tx := range items {
		if tx.ID == id {
			t.s.txs[userID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return core.ErrNotFound
}

func (t *Transactions) DeleteAllForUser(_ context.Context, userID string) ([]core.Transaction, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	deleted := t.s.txs[userID]
	t.s.txs[userID] = nil
	return deleted, nil
}

func (h *History) Archive(_ context.Context, records []core.HistoryRecord) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	for _, rec := range records {
		h.s.history[rec.UserID] = append(h.s.history[rec.UserID], rec)
	}
	return nil
}

func (h *History) FindByUser(_ context.Context, userID string) ([]core.HistoryRecord, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	items := h.s.history[userID]
	out := make([]core.HistoryRecord, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DeletedAt.After(out[j].DeletedAt)
	})
	return out, nil
}

func (l *Loans) Create(_ context.Context, loan core.Loan) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.loans[loan.UserID] = append(l.s.loans[loan.UserID], loan)
	return nil
}

func (l *Loans) FindByUser(_ context.Context, userID string) ([]core.Loan, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	items := l.s.loans[userID]
	out := make([]core.Loan, len(items))
	copy(out, items)
	return out, nil
}

func (l *Loans) MarkReturned(_ context.Context, id, userID string) (core.Loan, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	items := l.s.loans[userID]
	for i, loan := range items {
		if loan.ID != id || loan.Status != core.LoanPending {
			continue
		}
		loan.Status = core.LoanReturned
		items[i] = loan
		return loan, nil
	}
	return core.Loan{}, core.ErrNotFound
}
