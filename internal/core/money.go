// Package core provides the ledger's value types and money handling.
//
// Amounts are held as integer cents. Parsing and formatting go through
// shopspring/decimal so that no float rounding ever reaches a balance.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount of USD in cents. Balances may be negative in
// arithmetic, transaction amounts never are.
type Money struct {
	Cents int64
}

var maxCents = decimal.NewFromInt(1<<63 - 1)

// Cents builds a Money value.
func Cents(c int64) Money {
	return Money{Cents: c}
}

// ParseAmount converts a user-entered decimal string to a positive amount.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Values are
// rounded half-up to whole cents; anything that is not a finite positive
// number after rounding is rejected with ErrInvalidAmount.
//
//	ParseAmount("12.345") -> 1235 cents
//	ParseAmount("0.004")  -> ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal validates and rounds an already-parsed decimal.
func AmountFromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Shift(2).Round(0)
	if cents.Sign() <= 0 {
		return Money{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if cents.GreaterThan(maxCents) {
		return Money{}, fmt.Errorf("%w: too large", ErrInvalidAmount)
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Validate checks that m is usable as a transaction amount.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Decimal returns the dollar value.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats m as "$12.34" or "-$12.34".
func (m Money) String() string {
	if m.Cents < 0 {
		return "-$" + decimal.New(-m.Cents, -2).StringFixed(2)
	}
	return "$" + m.Decimal().StringFixed(2)
}
