// Package ledger owns the transaction ledger and the running balance of
// each account. Every mutation goes through one atomic apply path that
// validates funds, appends the record and rewrites the balance together.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"capitalguard/internal/core"
	"capitalguard/internal/log"
)

// Store coordinates a Backend with identity resolution and change
// notification.
type Store struct {
	backend     Backend
	identity    IdentityProvider
	subscribers []Subscriber
	now         func() time.Time
	newID       func() string
	logger      *log.Logger
}

type Option func(*Store)

// WithIdentity sets the provider used by the *ForCurrentUser methods.
func WithIdentity(p IdentityProvider) Option {
	return func(s *Store) { s.identity = p }
}

// WithSubscribers registers change subscribers, notified in order.
func WithSubscribers(subs ...Subscriber) Option {
	return func(s *Store) { s.subscribers = append(s.subscribers, subs...) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger.WithComponent(log.ComponentLedger) }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		logger:  log.Default(log.ComponentLedger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe adds a subscriber after construction. It is not safe to call
// concurrently with mutations.
func (s *Store) Subscribe(sub Subscriber) {
	s.subscribers = append(s.subscribers, sub)
}

// RegisterAccount creates an account with a zero balance.
func (s *Store) RegisterAccount(ctx context.Context, reg core.Registration) (core.Account, error) {
	if err := reg.Validate(); err != nil {
		return core.Account{}, err
	}
	account := core.Account{
		UserID:     reg.UserID,
		Email:      reg.Email,
		FirstName:  reg.FirstName,
		LastName:   reg.LastName,
		ProfileURL: reg.ProfileURL,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.backend.CreateAccount(ctx, account); err != nil {
		return core.Account{}, classify(err)
	}
	s.logger.InfoContext(ctx, "Account registered",
		log.FieldUserID, account.UserID,
		log.FieldOperation, log.OpRegister)
	return account, nil
}

// Account returns the current snapshot of userID's account.
func (s *Store) Account(ctx context.Context, userID string) (core.Account, error) {
	account, err := s.backend.GetAccount(ctx, userID)
	if err != nil {
		return core.Account{}, classify(err)
	}
	return account, nil
}

// ApplyTransaction records entry against userID's account.
//
// The balance check, the balance update and the append happen in one
// backend unit of work: on any error nothing is persisted. An expense
// that would take the balance below zero fails with ErrInsufficientFunds.
func (s *Store) ApplyTransaction(ctx context.Context, userID string, entry core.Entry) (Change, error) {
	if err := entry.Validate(); err != nil {
		return Change{}, err
	}
	now := s.now().UTC()
	date := entry.Date
	if date.IsEmpty() {
		date = core.Date{Time: now}
	}
	tx := core.Transaction{
		ID:        s.newID(),
		UserID:    userID,
		Kind:      entry.Kind,
		Amount:    entry.Amount,
		Category:  core.CategoryFor(entry.Kind, entry.Category),
		Date:      date,
		CreatedAt: now,
	}

	change, err := s.commit(ctx, userID, func(AccountTx) (core.Transaction, error) {
		return tx, nil
	})
	if err != nil {
		return Change{}, err
	}
	s.logger.InfoContext(ctx, "Transaction applied", log.NewFields().
		WithTransaction(userID, change.Transaction.ID, string(tx.Kind), tx.Amount.Cents, tx.Category.Name).
		WithBalance(change.Account.CashBalance.Cents).
		WithOperation(log.OpApply).
		ToSlice()...)
	return change, nil
}

// ReverseTransaction appends a compensating entry for transactionID: the
// opposite kind, same amount and category. The original stays untouched.
// Reversing an income that has since been spent fails with
// ErrInsufficientFunds like any other expense.
func (s *Store) ReverseTransaction(ctx context.Context, userID, transactionID string) (Change, error) {
	change, err := s.commit(ctx, userID, func(atx AccountTx) (core.Transaction, error) {
		orig, err := atx.GetTransaction(ctx, transactionID)
		if err != nil {
			return core.Transaction{}, err
		}
		if orig.IsReversal() {
			return core.Transaction{}, fmt.Errorf("%w: %s is itself a reversal", core.ErrNotReversible, orig.ID)
		}
		reversed, err := atx.ReversalExists(ctx, orig.ID)
		if err != nil {
			return core.Transaction{}, err
		}
		if reversed {
			return core.Transaction{}, fmt.Errorf("%w: %s", core.ErrAlreadyReversed, orig.ID)
		}
		now := s.now().UTC()
		return core.Transaction{
			ID:         s.newID(),
			UserID:     userID,
			Kind:       orig.Kind.Opposite(),
			Amount:     orig.Amount,
			Category:   orig.Category,
			Date:       core.Date{Time: now},
			CreatedAt:  now,
			ReversalOf: orig.ID,
		}, nil
	})
	if err != nil {
		return Change{}, err
	}
	s.logger.InfoContext(ctx, "Transaction reversed",
		log.FieldUserID, userID,
		log.FieldTransactionID, change.Transaction.ID,
		log.FieldReversalOf, transactionID,
		log.FieldBalanceCents, change.Account.CashBalance.Cents,
		log.FieldOperation, log.OpReverse)
	return change, nil
}

// ListTransactions returns every record of userID in storage order.
func (s *Store) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	txs, err := s.backend.ListTransactions(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return txs, nil
}

// Audit compares the stored balance with the one implied by the records.
type Audit struct {
	UserID       string
	Stored       core.Money
	Computed     core.Money
	Transactions int
}

func (a Audit) Consistent() bool {
	return a.Stored == a.Computed && a.Stored.Cents >= 0
}

// Verify recomputes userID's balance from the ledger. It runs inside the
// account's unit of work so no apply can land between the two reads.
func (s *Store) Verify(ctx context.Context, userID string) (Audit, error) {
	var audit Audit
	err := s.backend.WithAccount(ctx, userID, func(atx AccountTx) error {
		txs, err := s.backend.ListTransactions(ctx, userID)
		if err != nil {
			return err
		}
		var sum int64
		for _, tx := range txs {
			sum += tx.Delta()
		}
		audit = Audit{
			UserID:       userID,
			Stored:       atx.Account().CashBalance,
			Computed:     core.Cents(sum),
			Transactions: len(txs),
		}
		return nil
	})
	if err != nil {
		return Audit{}, classify(err)
	}
	if !audit.Consistent() {
		s.logger.ErrorContext(ctx, "Ledger balance drift detected",
			log.FieldUserID, userID,
			"stored_cents", audit.Stored.Cents,
			"computed_cents", audit.Computed.Cents,
			log.FieldOperation, log.OpVerify)
	}
	return audit, nil
}

// AccountLedger reads the account and its transactions in one unit of
// work, so the balance and the list always agree.
func (s *Store) AccountLedger(ctx context.Context, userID string) (core.Account, []core.Transaction, error) {
	var (
		account core.Account
		txs     []core.Transaction
	)
	err := s.backend.WithAccount(ctx, userID, func(atx AccountTx) error {
		list, err := s.backend.ListTransactions(ctx, userID)
		if err != nil {
			return err
		}
		account, txs = atx.Account(), list
		return nil
	})
	if err != nil {
		return core.Account{}, nil, classify(err)
	}
	return account, txs, nil
}

// commit runs build inside userID's unit of work and applies the
// resulting transaction to the balance.
func (s *Store) commit(ctx context.Context, userID string, build func(AccountTx) (core.Transaction, error)) (Change, error) {
	var change Change
	err := s.backend.WithAccount(ctx, userID, func(atx AccountTx) error {
		tx, err := build(atx)
		if err != nil {
			return err
		}
		account := atx.Account()
		next, err := nextBalance(account.CashBalance, tx)
		if err != nil {
			return err
		}
		id, err := atx.InsertTransaction(ctx, tx)
		if err != nil {
			return err
		}
		tx.ID = id
		if err := atx.PutAccountBalance(ctx, next); err != nil {
			return err
		}
		account.CashBalance = next
		account.Version++
		change = Change{Account: account, Transaction: tx}
		return nil
	})
	if err != nil {
		return Change{}, classify(err)
	}
	s.notify(ctx, change)
	return change, nil
}

func nextBalance(current core.Money, tx core.Transaction) (core.Money, error) {
	delta := tx.Delta()
	if delta > 0 && current.Cents > math.MaxInt64-delta {
		return core.Money{}, fmt.Errorf("%w: balance would overflow", core.ErrInvalidAmount)
	}
	next := current.Cents + delta
	if next < 0 {
		return core.Money{}, fmt.Errorf("%w: balance %s, expense %s", core.ErrInsufficientFunds, current, tx.Amount)
	}
	return core.Cents(next), nil
}

func (s *Store) notify(ctx context.Context, change Change) {
	for _, sub := range s.subscribers {
		if err := sub.OnChange(ctx, change); err != nil {
			s.logger.WarnContext(ctx, "Change subscriber failed",
				log.FieldUserID, change.Account.UserID,
				log.FieldTransactionID, change.Transaction.ID,
				log.FieldError, err)
		}
	}
}

// classify leaves ledger errors and cancellation alone and marks anything
// else as a storage failure.
func classify(err error) error {
	if err == nil || core.IsDomainError(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
}

// AccountIDs lists every registered user when the backend supports it.
func (s *Store) AccountIDs(ctx context.Context) ([]string, error) {
	lister, ok := s.backend.(AccountLister)
	if !ok {
		return nil, fmt.Errorf("%w: backend cannot enumerate accounts", core.ErrStorageUnavailable)
	}
	ids, err := lister.ListAccountIDs(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return ids, nil
}

// Ping reports whether the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.backend.Ping(ctx))
}
