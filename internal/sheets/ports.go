// Package sheets defines the spreadsheet export port and its row format.
package sheets

import (
	"context"
	"time"
)

// Header is the first row of every export sheet.
var Header = []any{"Date", "User", "Type", "Category", "Amount", "Balance", "Transaction", "Reversal of"}

// Row is one exported ledger record. Amounts are preformatted decimals.
type Row struct {
	Date          time.Time
	UserID        string
	Kind          string
	Category      string
	Amount        string
	Balance       string
	TransactionID string
	ReversalOf    string
}

// Values renders the row in Header order.
func (r Row) Values() []any {
	return []any{
		r.Date.UTC().Format("2006-01-02"),
		r.UserID,
		r.Kind,
		r.Category,
		r.Amount,
		r.Balance,
		r.TransactionID,
		r.ReversalOf,
	}
}

// RowWriter appends rows to the export destination.
type RowWriter interface {
	AppendRows(ctx context.Context, rows []Row) error
}

// RowReader reports which transactions the export destination already
// holds, read from the Transaction column.
type RowReader interface {
	ExportedTransactionIDs(ctx context.Context) (map[string]struct{}, error)
}
