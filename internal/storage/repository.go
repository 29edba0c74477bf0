package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spendly/internal/core"
	"spendly/internal/ledger"
	applog "spendly/internal/log"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Views over the same database, one per store port.
func (r *SQLiteRepository) Users() *UserRepo               { return &UserRepo{db: r.db} }
func (r *SQLiteRepository) Balances() *BalanceRepo         { return &BalanceRepo{db: r.db} }
func (r *SQLiteRepository) Transactions() *TransactionRepo { return &TransactionRepo{db: r.db} }
func (r *SQLiteRepository) History() *HistoryRepo          { return &HistoryRepo{db: r.db} }
func (r *SQLiteRepository) Loans() *LoanRepo               { return &LoanRepo{db: r.db} }

// RecordEvent appends a ledger event to the audit table. Used by the worker.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, event ledger.Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ledger_events (kind, user_id, transaction_id, amount_cents, occurred_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(event.Kind), event.UserID, event.TransactionID, event.AmountCents, formatTime(event.OccurredAt))
	if err != nil {
		return fmt.Errorf("record ledger event: %w", err)
	}
	return nil
}

// PruneHistory deletes archived records deleted before the cutoff and
// returns how many rows were removed.
func (r *SQLiteRepository) PruneHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM history WHERE deleted_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune history rows affected: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "History pruned",
			applog.FieldComponent, applog.ComponentStorage,
			"removed", n, "cutoff", cutoff)
	}
	return n, nil
}

type (
	UserRepo        struct{ db *sql.DB }
	BalanceRepo     struct{ db *sql.DB }
	TransactionRepo struct{ db *sql.DB }
	HistoryRepo     struct{ db *sql.DB }
	LoanRepo        struct{ db *sql.DB }
)

func (u *UserRepo) Create(ctx context.Context, user core.User) error {
	_, err := u.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, google_id, initial_balance_cents, current_balance_cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, strings.ToLower(user.Email), user.PasswordHash, user.GoogleID,
		user.InitialBalance.Cents, user.CurrentBalance.Cents, formatTime(user.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("user %s: %w", user.Email, core.ErrAlreadyExists)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (u *UserRepo) FindByEmail(ctx context.Context, email string) (core.User, error) {
	return u.findOne(ctx, `WHERE email = ?`, strings.ToLower(email))
}

func (u *UserRepo) FindByID(ctx context.Context, id string) (core.User, error) {
	return u.findOne(ctx, `WHERE id = ?`, id)
}

func (u *UserRepo) findOne(ctx context.Context, where string, arg any) (core.User, error) {
	row := u.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, google_id, initial_balance_cents, current_balance_cents, created_at
		 FROM users `+where, arg)

	var user core.User
	var createdAt string
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.GoogleID,
		&user.InitialBalance.Cents, &user.CurrentBalance.Cents, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("find user: %w", err)
	}
	user.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return core.User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (b *BalanceRepo) Balance(ctx context.Context, userID string) (core.Money, core.Money, error) {
	var current, initial core.Money
	err := b.db.QueryRowContext(ctx,
		`SELECT current_balance_cents, initial_balance_cents FROM users WHERE id = ?`, userID).
		Scan(&current.Cents, &initial.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, core.Money{}, core.ErrNotFound
	}
	if err != nil {
		return core.Money{}, core.Money{}, fmt.Errorf("read balance: %w", err)
	}
	return current, initial, nil
}

func (b *BalanceRepo) SetInitial(ctx context.Context, userID string, amount core.Money) error {
	if amount.Cents < 0 {
		return core.ErrInvalidAmount
	}
	res, err := b.db.ExecContext(ctx,
		`UPDATE users SET initial_balance_cents = ?, current_balance_cents = ? WHERE id = ?`,
		amount.Cents, amount.Cents, userID)
	if err != nil {
		return fmt.Errorf("set initial balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set initial balance rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Adjust applies the delta in a single guarded UPDATE so concurrent
// adjustments for the same user serialize inside SQLite instead of racing
// through a read-modify-write in Go.
func (b *BalanceRepo) Adjust(ctx context.Context, userID string, deltaCents int64) (core.Money, error) {
	var balance core.Money
	err := b.db.QueryRowContext(ctx,
		`UPDATE users SET current_balance_cents = current_balance_cents + ?
		 WHERE id = ? AND current_balance_cents + ? >= 0
		 RETURNING current_balance_cents`,
		deltaCents, userID, deltaCents).Scan(&balance.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		// Disambiguate a missing user from a rejected debit.
		var exists bool
		if scanErr := b.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE id = ?)`, userID).Scan(&exists); scanErr != nil {
			return core.Money{}, fmt.Errorf("adjust balance: %w", scanErr)
		}
		if !exists {
			return core.Money{}, core.ErrNotFound
		}
		return core.Money{}, core.ErrInsufficientFunds
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("adjust balance: %w", err)
	}
	return balance, nil
}

func (b *BalanceRepo) AdjustClamped(ctx context.Context, userID string, deltaCents int64) (core.Money, error) {
	var balance core.Money
	err := b.db.QueryRowContext(ctx,
		`UPDATE users SET current_balance_cents = MAX(0, current_balance_cents + ?)
		 WHERE id = ?
		 RETURNING current_balance_cents`,
		deltaCents, userID).Scan(&balance.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, core.ErrNotFound
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("adjust balance clamped: %w", err)
	}
	return balance, nil
}

const transactionColumns = `id, user_id, type, amount_cents, category, note, balance_after_cents, is_recurring, created_at`

func (t *TransactionRepo) Create(ctx context.Context, tx core.Transaction) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, string(tx.Type), tx.Amount.Cents, tx.Category, tx.Note,
		tx.BalanceAfter.Cents, boolToInt(tx.IsRecurring), formatTime(tx.CreatedAt))
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (t *TransactionRepo) FindByUser(ctx context.Context, userID string) ([]core.Transaction, error) {
	return t.find(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID)
}

func (t *TransactionRepo) FindRecurring(ctx context.Context, userID string) ([]core.Transaction, error) {
	return t.find(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND is_recurring = 1 ORDER BY created_at ASC, id ASC`,
		userID)
}

func (t *TransactionRepo) find(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (t *TransactionRepo) FindOne(ctx context.Context, id, userID string) (core.Transaction, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

func (t *TransactionRepo) Update(ctx context.Context, id, userID string, patch ledger.TransactionPatch) (core.Transaction, error) {
	var sets []string
	var args []any
	if patch.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *patch.Category)
	}
	if patch.Note != nil {
		sets = append(sets, "note = ?")
		args = append(args, *patch.Note)
	}
	if patch.IsRecurring != nil {
		sets = append(sets, "is_recurring = ?")
		args = append(args, boolToInt(*patch.IsRecurring))
	}
	if len(sets) > 0 {
		args = append(args, id, userID)
		res, err := t.db.ExecContext(ctx,
			`UPDATE transactions SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return core.Transaction{}, fmt.Errorf("update transaction rows affected: %w", err)
		}
		if n == 0 {
			return core.Transaction{}, core.ErrNotFound
		}
	}
	return t.FindOne(ctx, id, userID)
}

func (t *TransactionRepo) Delete(ctx context.Context, id, userID string) error {
	res, err := t.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (t *TransactionRepo) DeleteAllForUser(ctx context.Context, userID string) ([]core.Transaction, error) {
	dbTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete all: %w", err)
	}
	defer dbTx.Rollback()

	rows, err := dbTx.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query transactions for delete: %w", err)
	}

	var deleted []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		deleted = append(deleted, tx)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate transactions for delete: %w", err)
	}
	rows.Close()

	if _, err := dbTx.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("delete all transactions: %w", err)
	}
	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete all: %w", err)
	}
	return deleted, nil
}

func (h *HistoryRepo) Archive(ctx context.Context, records []core.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	dbTx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx,
		`INSERT INTO history (id, user_id, type, amount_cents, category, note, created_at_original, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare archive: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.UserID, string(rec.Type), rec.Amount.Cents, rec.Category, rec.Note,
			formatTime(rec.CreatedAtOriginal), formatTime(rec.DeletedAt))
		if err != nil {
			return fmt.Errorf("archive record %s: %w", rec.ID, err)
		}
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

func (h *HistoryRepo) FindByUser(ctx context.Context, userID string) ([]core.HistoryRecord, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, user_id, type, amount_cents, category, note, created_at_original, deleted_at
		 FROM history WHERE user_id = ? ORDER BY deleted_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []core.HistoryRecord
	for rows.Next() {
		var rec core.HistoryRecord
		var txType, createdAt, deletedAt string
		err := rows.Scan(&rec.ID, &rec.UserID, &txType, &rec.Amount.Cents, &rec.Category, &rec.Note, &createdAt, &deletedAt)
		if err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		rec.Type = core.TransactionType(txType)
		if rec.CreatedAtOriginal, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		if rec.DeletedAt, err = parseTime(deletedAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (l *LoanRepo) Create(ctx context.Context, loan core.Loan) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO loans (id, user_id, person_name, amount_cents, note, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.UserID, loan.PersonName, loan.Amount.Cents, loan.Note,
		string(loan.Status), formatTime(loan.CreatedAt))
	if err != nil {
		return fmt.Errorf("create loan: %w", err)
	}
	return nil
}

func (l *LoanRepo) FindByUser(ctx context.Context, userID string) ([]core.Loan, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, user_id, person_name, amount_cents, note, status, created_at
		 FROM loans WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	defer rows.Close()

	var out []core.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}
	return out, nil
}

// MarkReturned flips the status in a single conditional UPDATE so a repeated
// call for an already-returned loan reports not found instead of flipping
// (and crediting) twice.
func (l *LoanRepo) MarkReturned(ctx context.Context, id, userID string) (core.Loan, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE loans SET status = ? WHERE id = ? AND user_id = ? AND status = ?`,
		string(core.LoanReturned), id, userID, string(core.LoanPending))
	if err != nil {
		return core.Loan{}, fmt.Errorf("mark loan returned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Loan{}, fmt.Errorf("mark loan returned rows affected: %w", err)
	}
	if n == 0 {
		return core.Loan{}, core.ErrNotFound
	}

	row := l.db.QueryRowContext(ctx,
		`SELECT id, user_id, person_name, amount_cents, note, status, created_at
		 FROM loans WHERE id = ? AND user_id = ?`, id, userID)
	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Loan{}, core.ErrNotFound
	}
	if err != nil {
		return core.Loan{}, err
	}
	return loan, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var tx core.Transaction
	var txType, createdAt string
	var recurring int64
	err := row.Scan(&tx.ID, &tx.UserID, &txType, &tx.Amount.Cents, &tx.Category, &tx.Note,
		&tx.BalanceAfter.Cents, &recurring, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, sql.ErrNoRows
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	tx.Type = core.TransactionType(txType)
	tx.IsRecurring = recurring != 0
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	return tx, nil
}

func scanLoan(row rowScanner) (core.Loan, error) {
	var loan core.Loan
	var status, createdAt string
	err := row.Scan(&loan.ID, &loan.UserID, &loan.PersonName, &loan.Amount.Cents, &loan.Note, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Loan{}, sql.ErrNoRows
	}
	if err != nil {
		return core.Loan{}, fmt.Errorf("scan loan: %w", err)
	}
	loan.Status = core.LoanStatus(status)
	if loan.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Loan{}, fmt.Errorf("scan loan: %w", err)
	}
	return loan, nil
}

// Timestamps are stored as RFC 3339 strings with fixed-width nanoseconds so
// lexicographic order matches chronological order, which the ORDER BY
// clauses rely on.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
