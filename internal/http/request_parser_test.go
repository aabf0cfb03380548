package http

import (
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"capitalguard/internal/core"
	"capitalguard/internal/viewmodel"
)

func TestAmountUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		json  string
		cents int64
		set   bool
		err   error
	}{
		{"number", `{"amount":12.5}`, 1250, true, nil},
		{"string", `{"amount":"12.50"}`, 1250, true, nil},
		{"comma decimal", `{"amount":"12,5"}`, 1250, true, nil},
		{"integer", `{"amount":200}`, 20000, true, nil},
		{"null", `{"amount":null}`, 0, false, nil},
		{"missing", `{}`, 0, false, nil},
		{"garbage", `{"amount":"twelve"}`, 0, false, core.ErrInvalidAmount},
		{"zero", `{"amount":0}`, 0, false, core.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				Amount Amount `json:"amount"`
			}
			err := json.Unmarshal([]byte(tt.json), &body)
			if tt.err != nil {
				var invalid *invalidFieldError
				if !errors.As(err, &invalid) || !errors.Is(invalid.err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if body.Amount.Set != tt.set || body.Amount.Value.Cents != tt.cents {
				t.Fatalf("got %+v, want cents=%d set=%v", body.Amount, tt.cents, tt.set)
			}
		})
	}
}

func TestCreateTransactionRequestEntry(t *testing.T) {
	req := CreateTransactionRequest{
		Type:     " Expense ",
		Amount:   Amount{Value: core.Cents(5000), Set: true},
		Category: " Food\x00 ",
		Date:     "2025-03-02",
	}
	entry, err := req.Entry()
	if err != nil {
		t.Fatal(err)
	}
	if entry.Kind != core.KindExpense || entry.Category != "Food" || entry.Date.Label() != "2025-03-02" {
		t.Fatalf("unexpected entry %+v", entry)
	}

	req.Date = ""
	if entry, err = req.Entry(); err != nil || !entry.Date.IsEmpty() {
		t.Fatalf("empty date should stay empty for the ledger to default, got %+v (%v)", entry, err)
	}
}

func TestParseListQuery(t *testing.T) {
	tests := []struct {
		raw  string
		want viewmodel.Query
		err  bool
	}{
		{"", viewmodel.Query{SortBy: viewmodel.SortByDate}, false},
		{"sort=AMOUNT&category=Food", viewmodel.Query{Category: "Food", SortBy: viewmodel.SortByAmount}, false},
		{"type=income", viewmodel.Query{Kind: core.KindIncome, SortBy: viewmodel.SortByDate}, false},
		{"sort=weird", viewmodel.Query{SortBy: viewmodel.SortByDate}, false},
		{"type=gift", viewmodel.Query{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			values, _ := url.ParseQuery(tt.raw)
			got, err := ParseListQuery(values)
			if (err != nil) != tt.err {
				t.Fatalf("error = %v, want error %v", err, tt.err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := map[string]string{
		"  Food ":     "Food",
		"Fo\x00od":    "Food",
		"line\nbreak": "linebreak",
		"tab\tinside": "tabinside",
		"caffè latte": "caffè latte",
		"\x7fdel":     "del",
	}
	for in, want := range tests {
		if got := sanitizeInput(in); got != want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", in, got, want)
		}
	}
}
