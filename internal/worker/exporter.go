// Package worker turns ledger events into spreadsheet rows.
package worker

import (
	"context"
	"fmt"

	"capitalguard/internal/amqp"
	"capitalguard/internal/cache"
	"capitalguard/internal/core"
	"capitalguard/internal/ledger"
	"capitalguard/internal/log"
	"capitalguard/internal/sheets"
)

// Exporter appends one row per ledger event. Redelivered events whose
// transaction was already exported are acknowledged without writing.
type Exporter struct {
	writer sheets.RowWriter
	seen   *cache.LRUCache[struct{}]
	logger *log.Logger
}

func NewExporter(writer sheets.RowWriter, seen *cache.LRUCache[struct{}], logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	return &Exporter{writer: writer, seen: seen, logger: logger}
}

// HandleEvent is an amqp.Handler.
func (e *Exporter) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	if e.seen != nil {
		if _, ok := e.seen.Get(ev.TransactionID); ok {
			e.logger.DebugContext(ctx, "Skipping already exported transaction",
				log.FieldTransactionID, ev.TransactionID)
			return nil
		}
	}

	row := RowFromEvent(ev)
	if err := e.writer.AppendRows(ctx, []sheets.Row{row}); err != nil {
		return fmt.Errorf("export transaction %s: %w", ev.TransactionID, err)
	}
	if e.seen != nil {
		e.seen.Set(ev.TransactionID, struct{}{})
	}

	e.logger.InfoContext(ctx, "Exported ledger event",
		log.NewFields().
			WithOperation(log.OpExport).
			WithTransaction(ev.UserID, ev.TransactionID, ev.Kind, ev.AmountCents, ev.Category).
			WithBalance(ev.BalanceCents).
			ToSlice()...)
	return nil
}

// Backfill exports every stored transaction of the given users, with the
// running balance after each one. It is the recovery path for events lost
// before they reached the queue. When the writer is also a
// sheets.RowReader, transactions already in the destination are skipped.
func (e *Exporter) Backfill(ctx context.Context, store *ledger.Store, userIDs []string) (int, error) {
	var done map[string]struct{}
	if reader, ok := e.writer.(sheets.RowReader); ok {
		ids, err := reader.ExportedTransactionIDs(ctx)
		if err != nil {
			return 0, fmt.Errorf("read exported transactions: %w", err)
		}
		done = ids
		e.logger.DebugContext(ctx, "Loaded exported transactions",
			log.FieldOperation, log.OpExport,
			"rows", len(done))
	}

	exported := 0
	for _, userID := range userIDs {
		txs, err := store.ListTransactions(ctx, userID)
		if err != nil {
			return exported, fmt.Errorf("list transactions for %s: %w", userID, err)
		}
		rows := make([]sheets.Row, 0, len(txs))
		var balance int64
		for _, tx := range txs {
			balance += tx.Delta()
			if _, ok := done[tx.ID]; ok {
				continue
			}
			if e.seen != nil {
				if _, ok := e.seen.Get(tx.ID); ok {
					continue
				}
			}
			rows = append(rows, rowFromTransaction(tx, balance))
		}
		if len(rows) == 0 {
			continue
		}
		if err := e.writer.AppendRows(ctx, rows); err != nil {
			return exported, fmt.Errorf("backfill %s: %w", userID, err)
		}
		for _, r := range rows {
			if e.seen != nil {
				e.seen.Set(r.TransactionID, struct{}{})
			}
		}
		exported += len(rows)
		e.logger.InfoContext(ctx, "Backfilled ledger",
			log.FieldUserID, userID,
			log.FieldOperation, log.OpExport,
			"rows", len(rows))
	}
	return exported, nil
}

// RowFromEvent renders an event as a spreadsheet row.
func RowFromEvent(ev *amqp.LedgerEvent) sheets.Row {
	return sheets.Row{
		Date:          ev.Date,
		UserID:        ev.UserID,
		Kind:          ev.Kind,
		Category:      ev.Category,
		Amount:        formatCents(ev.AmountCents),
		Balance:       formatCents(ev.BalanceCents),
		TransactionID: ev.TransactionID,
		ReversalOf:    ev.ReversalOf,
	}
}

func rowFromTransaction(tx core.Transaction, balanceCents int64) sheets.Row {
	return sheets.Row{
		Date:          tx.Date.Time,
		UserID:        tx.UserID,
		Kind:          string(tx.Kind),
		Category:      tx.Category.Display(),
		Amount:        formatCents(tx.Amount.Cents),
		Balance:       formatCents(balanceCents),
		TransactionID: tx.ID,
		ReversalOf:    tx.ReversalOf,
	}
}

func formatCents(cents int64) string {
	return core.Cents(cents).Decimal().StringFixed(2)
}
