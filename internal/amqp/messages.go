package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"capitalguard/internal/core"
	"capitalguard/internal/ledger"
)

// Event types.
const (
	EventTransactionApplied  = "transaction.applied"
	EventTransactionReversed = "transaction.reversed"
)

// LedgerEvent describes one committed ledger change. It carries the full
// record so consumers never need to read the ledger back.
type LedgerEvent struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Kind          string    `json:"kind"`
	AmountCents   int64     `json:"amount_cents"`
	Category      string    `json:"category"`
	Date          time.Time `json:"date"`
	BalanceCents  int64     `json:"balance_cents"`
	ReversalOf    string    `json:"reversal_of,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewLedgerEvent builds the event for a committed change.
func NewLedgerEvent(change ledger.Change) *LedgerEvent {
	tx := change.Transaction
	eventType := EventTransactionApplied
	if tx.IsReversal() {
		eventType = EventTransactionReversed
	}
	return &LedgerEvent{
		Type:          eventType,
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Kind:          string(tx.Kind),
		AmountCents:   tx.Amount.Cents,
		Category:      tx.Category.Display(),
		Date:          tx.Date.UTC(),
		BalanceCents:  change.Account.CashBalance.Cents,
		ReversalOf:    tx.ReversalOf,
		Timestamp:     time.Now().UTC(),
	}
}

// Validate rejects events a consumer cannot act on.
func (e *LedgerEvent) Validate() error {
	if e.TransactionID == "" || e.UserID == "" {
		return fmt.Errorf("event missing transaction or user id")
	}
	if _, err := core.ParseKind(e.Kind); err != nil {
		return err
	}
	if e.AmountCents <= 0 {
		return core.ErrInvalidAmount
	}
	return nil
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes and validates an event.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
