// Package memory is a RowWriter and RowReader that keeps exported rows in
// process.
package memory

import (
	"context"
	"sync"

	"capitalguard/internal/sheets"
)

type Store struct {
	mu   sync.Mutex
	rows []sheets.Row
	err  error
}

var (
	_ sheets.RowWriter = (*Store)(nil)
	_ sheets.RowReader = (*Store)(nil)
)

func New() *Store {
	return &Store{}
}

// AppendRows stores rows, or returns the error set by FailWith.
func (s *Store) AppendRows(ctx context.Context, rows []sheets.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, rows...)
	return nil
}

// FailWith makes subsequent appends fail with err; nil restores success.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []sheets.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.Row(nil), s.rows...)
}

func (s *Store) ExportedTransactionIDs(ctx context.Context) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.rows))
	for _, r := range s.rows {
		ids[r.TransactionID] = struct{}{}
	}
	return ids, nil
}
