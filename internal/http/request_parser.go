// Package http provides the JSON API server and its handlers.
//
// This file implements utilities for decoding and validating request
// bodies and query strings.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"capitalguard/internal/core"
	"capitalguard/internal/viewmodel"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// errMalformed marks bodies that are not the JSON object we expect.
var errMalformed = errors.New("malformed request body")

// decodeJSON reads exactly one JSON object into v, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var invalid *invalidFieldError
		if errors.As(err, &invalid) {
			return invalid.err
		}
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: unexpected data after object", errMalformed)
	}
	return nil
}

// invalidFieldError carries a domain error out of a field's UnmarshalJSON
// so it is reported as 422 rather than malformed JSON.
type invalidFieldError struct{ err error }

func (e *invalidFieldError) Error() string { return e.err.Error() }

// Amount accepts a JSON number or a decimal string such as "12,50".
type Amount struct {
	Value core.Money
	Set   bool
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	m, err := core.ParseAmount(raw)
	if err != nil {
		return &invalidFieldError{err: err}
	}
	a.Value, a.Set = m, true
	return nil
}

// CreateTransactionRequest is the body of POST /transactions.
type CreateTransactionRequest struct {
	Type     string `json:"type"`
	Amount   Amount `json:"amount"`
	Category string `json:"category"`
	Date     string `json:"date"`
}

// Entry validates the request and converts it to a ledger entry.
func (req CreateTransactionRequest) Entry() (core.Entry, error) {
	kind, err := core.ParseKind(req.Type)
	if err != nil {
		return core.Entry{}, err
	}
	if !req.Amount.Set {
		return core.Entry{}, fmt.Errorf("%w: amount is required", core.ErrInvalidAmount)
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Entry{}, err
	}
	return core.Entry{
		Kind:     kind,
		Amount:   req.Amount.Value,
		Category: sanitizeInput(req.Category),
		Date:     date,
	}, nil
}

// RegisterAccountRequest is the body of POST /accounts. The user id comes
// from the caller's identity, never from the body.
type RegisterAccountRequest struct {
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	ProfileURL string `json:"profile_url"`
}

func (req RegisterAccountRequest) Registration(userID string) core.Registration {
	return core.Registration{
		UserID:     userID,
		Email:      strings.TrimSpace(req.Email),
		FirstName:  sanitizeInput(req.FirstName),
		LastName:   sanitizeInput(req.LastName),
		ProfileURL: strings.TrimSpace(req.ProfileURL),
	}
}

// ParseListQuery reads ?category=&type=&sort= into a viewmodel query.
func ParseListQuery(query url.Values) (viewmodel.Query, error) {
	q := viewmodel.Query{
		Category: sanitizeInput(query.Get("category")),
		SortBy:   viewmodel.ParseSortBy(query.Get("sort")),
	}
	if t := strings.TrimSpace(query.Get("type")); t != "" {
		kind, err := core.ParseKind(t)
		if err != nil {
			return viewmodel.Query{}, err
		}
		q.Kind = kind
	}
	return q, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}

// decimalString renders money for JSON responses, e.g. "150.00".
func decimalString(m core.Money) string {
	return m.Decimal().StringFixed(2)
}
