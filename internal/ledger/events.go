package ledger

import "time"

// Event kinds published after mutating operations.
const (
	EventTransactionCreated = "transaction.created"
	EventTransactionDeleted = "transaction.deleted"
	EventTransactionsClear  = "transactions.cleared"
	EventLedgerReset        = "ledger.reset"
	EventLoanReturned       = "loan.returned"
)

// Event is a lightweight notification about a ledger mutation. Consumers
// that need the full record fetch it from storage; the event only carries
// enough to identify and classify the change.
type Event struct {
	Kind          string    `json:"kind"`
	UserID        string    `json:"userId"`
	TransactionID string    `json:"transactionId,omitempty"`
	AmountCents   int64     `json:"amountCents,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}
