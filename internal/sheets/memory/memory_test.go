package memory

import (
	"context"
	"errors"
	"testing"

	"capitalguard/internal/sheets"
)

func TestStoreAppendAndFail(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.AppendRows(ctx, []sheets.Row{{TransactionID: "t1"}, {TransactionID: "t2"}}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("quota exceeded")
	s.FailWith(boom)
	if err := s.AppendRows(ctx, []sheets.Row{{TransactionID: "t3"}}); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	s.FailWith(nil)

	rows := s.Rows()
	if len(rows) != 2 || rows[1].TransactionID != "t2" {
		t.Fatalf("unexpected rows %+v", rows)
	}

	// Rows hands out a copy.
	rows[0].TransactionID = "mutated"
	if s.Rows()[0].TransactionID != "t1" {
		t.Fatal("Rows exposed internal state")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.AppendRows(cancelled, []sheets.Row{{TransactionID: "t4"}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
