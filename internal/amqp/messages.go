package amqp

import (
	"encoding/json"
	"time"

	"spendly/internal/ledger"
)

// LedgerEventMessage is the wire form of a ledger event. It carries the full
// event payload; consumers need no follow-up lookup to record the audit row.
type LedgerEventMessage struct {
	ledger.Event
	PublishedAt time.Time `json:"publishedAt"`
}

func NewLedgerEventMessage(event ledger.Event) *LedgerEventMessage {
	return &LedgerEventMessage{
		Event:       event,
		PublishedAt: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON creates a message from JSON bytes
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
