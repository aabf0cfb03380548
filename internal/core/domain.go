package core

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// DateLayout is the calendar label format used by the read side.
const DateLayout = "2006-01-02"

type (
	// Kind is the direction of a transaction.
	Kind string

	Date struct {
		time.Time
	}

	// Transaction is an immutable ledger record.
	Transaction struct {
		ID         string
		UserID     string
		Kind       Kind
		Amount     Money
		Category   Category
		Date       Date
		CreatedAt  time.Time
		ReversalOf string // ID of the compensated transaction, if any
	}

	// Account holds a user's profile and running cash balance.
	Account struct {
		UserID      string
		Email       string
		FirstName   string
		LastName    string
		ProfileURL  string
		CashBalance Money
		CreatedAt   time.Time
		// Version counts committed changes; each apply or rollback adds one.
		Version int64
	}

	// Entry is the caller-supplied part of a new transaction.
	Entry struct {
		Kind     Kind
		Amount   Money
		Category string
		Date     Date // zero means "now"
	}

	// Registration is the input for creating an account.
	Registration struct {
		UserID     string
		Email      string
		FirstName  string
		LastName   string
		ProfileURL string
	}
)

// ParseKind accepts "income" or "expense" in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

func (k Kind) Validate() error {
	switch k {
	case KindIncome, KindExpense:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
}

// Opposite returns the kind that cancels k.
func (k Kind) Opposite() Kind {
	if k == KindIncome {
		return KindExpense
	}
	return KindIncome
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts either a bare calendar day or an RFC 3339 timestamp.
// An empty string yields the zero Date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// IsEmpty returns true if the date is unset.
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

// Label formats the date as YYYY-MM-DD in UTC.
func (d Date) Label() string {
	return d.UTC().Format(DateLayout)
}

// Delta is the signed effect of t on the balance, in cents.
func (t Transaction) Delta() int64 {
	if t.Kind == KindExpense {
		return -t.Amount.Cents
	}
	return t.Amount.Cents
}

func (t Transaction) IsReversal() bool {
	return t.ReversalOf != ""
}

func (e Entry) Validate() error {
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	return e.Amount.Validate()
}

func (r Registration) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidAccount)
	}
	if strings.TrimSpace(r.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidAccount)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("%w: malformed email %q", ErrInvalidAccount, r.Email)
	}
	if len(r.FirstName) > 100 || len(r.LastName) > 100 {
		return fmt.Errorf("%w: name too long (max 100 characters)", ErrInvalidAccount)
	}
	return nil
}

// DisplayName joins the non-empty name parts, falling back to the email.
func (a Account) DisplayName() string {
	name := strings.TrimSpace(a.FirstName + " " + a.LastName)
	if name == "" {
		return a.Email
	}
	return name
}
