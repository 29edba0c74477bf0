package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const (
	LoanPending  LoanStatus = "pending"
	LoanReturned LoanStatus = "returned"
)

type (
	TransactionType string

	LoanStatus string

	Money struct {
		Cents int64
	}

	User struct {
		ID             string    `json:"id"`
		Name           string    `json:"name"`
		Email          string    `json:"email"`
		PasswordHash   string    `json:"-"`
		GoogleID       string    `json:"googleId,omitempty"`
		InitialBalance Money     `json:"initialBalance"`
		CurrentBalance Money     `json:"currentBalance"`
		CreatedAt      time.Time `json:"createdAt"`
	}

	// Transaction is a single ledger entry. Amount, Type and BalanceAfter are
	// immutable after creation; only Category, Note and IsRecurring may change.
	Transaction struct {
		ID           string          `json:"id"`
		UserID       string          `json:"userId"`
		Type         TransactionType `json:"type"`
		Amount       Money           `json:"amount"`
		Category     string          `json:"category"`
		Note         string          `json:"note"`
		BalanceAfter Money           `json:"balanceAfter"`
		IsRecurring  bool            `json:"isRecurring"`
		CreatedAt    time.Time       `json:"createdAt"`
	}

	// HistoryRecord is a transaction snapshot moved out of the active set by
	// delete, clear or reset. History is append-only; retention is handled
	// outside the ledger core.
	HistoryRecord struct {
		ID                string          `json:"id"`
		UserID            string          `json:"userId"`
		Type              TransactionType `json:"type"`
		Amount            Money           `json:"amount"`
		Category          string          `json:"category"`
		Note              string          `json:"note"`
		CreatedAtOriginal time.Time       `json:"createdAtOriginal"`
		DeletedAt         time.Time       `json:"deletedAt"`
	}

	Loan struct {
		ID         string     `json:"id"`
		UserID     string     `json:"userId"`
		PersonName string     `json:"personName"`
		Amount     Money      `json:"amount"`
		Note       string     `json:"note"`
		Status     LoanStatus `json:"status"`
		CreatedAt  time.Time  `json:"createdAt"`
	}
)

var (
	// ErrInvalidAmount covers non-positive or malformed amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientFunds means an expense exceeds the current balance.
	ErrInsufficientFunds = errors.New("not enough balance")
	// ErrNotFound means a user, transaction or loan is missing.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists means a unique constraint would be violated.
	ErrAlreadyExists = errors.New("already exists")

	ErrEmptyCategory   = errors.New("empty category")
	ErrEmptyPersonName = errors.New("empty person name")
)

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return errors.New("invalid transaction type")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if len(t.Category) > 100 {
		return errors.New("category too long (max 100 characters)")
	}
	if len(t.Note) > 500 {
		return errors.New("note too long (max 500 characters)")
	}
	return nil
}

func (l Loan) Validate() error {
	if strings.TrimSpace(l.PersonName) == "" {
		return ErrEmptyPersonName
	}
	if len(l.PersonName) > 100 {
		return errors.New("person name too long (max 100 characters)")
	}
	if err := l.Amount.Validate(); err != nil {
		return err
	}
	if len(l.Note) > 500 {
		return errors.New("note too long (max 500 characters)")
	}
	return nil
}

// Archived returns the history snapshot of a transaction removed from the
// active set at deletedAt. The history record keeps its own identity; the
// original creation time survives as CreatedAtOriginal.
func (t Transaction) Archived(id string, deletedAt time.Time) HistoryRecord {
	return HistoryRecord{
		ID:                id,
		UserID:            t.UserID,
		Type:              t.Type,
		Amount:            t.Amount,
		Category:          t.Category,
		Note:              t.Note,
		CreatedAtOriginal: t.CreatedAt,
		DeletedAt:         deletedAt,
	}
}
