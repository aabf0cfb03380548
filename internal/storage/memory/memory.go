// Package memory is an in-process ledger backend for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"capitalguard/internal/core"
	"capitalguard/internal/ledger"
)

var errClosed = fmt.Errorf("%w: memory backend closed", core.ErrStorageUnavailable)

// Backend keeps accounts and transactions in maps. Units of work for one
// account are serialised by a per-account semaphore; their writes are
// staged and published under the store mutex only when the unit succeeds.
type Backend struct {
	mu       sync.RWMutex
	closed   bool
	accounts map[string]core.Account
	emails   map[string]string
	ledgers  map[string][]core.Transaction
	byID     map[string]core.Transaction
	reversed map[string]string // original id -> reversal id

	locks *keyedLock
}

var _ ledger.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{
		accounts: make(map[string]core.Account),
		emails:   make(map[string]string),
		ledgers:  make(map[string][]core.Transaction),
		byID:     make(map[string]core.Transaction),
		reversed: make(map[string]string),
		locks:    newKeyedLock(),
	}
}

func (b *Backend) CreateAccount(ctx context.Context, account core.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}
	if _, ok := b.accounts[account.UserID]; ok {
		return fmt.Errorf("%w: %s", core.ErrAccountExists, account.UserID)
	}
	if _, ok := b.emails[account.Email]; ok {
		return fmt.Errorf("%w: %s", core.ErrEmailTaken, account.Email)
	}
	b.accounts[account.UserID] = account
	b.emails[account.Email] = account.UserID
	return nil
}

func (b *Backend) GetAccount(ctx context.Context, userID string) (core.Account, error) {
	if err := ctx.Err(); err != nil {
		return core.Account{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return core.Account{}, errClosed
	}
	account, ok := b.accounts[userID]
	if !ok {
		return core.Account{}, fmt.Errorf("%w: %s", core.ErrAccountNotFound, userID)
	}
	return account, nil
}

func (b *Backend) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errClosed
	}
	src := b.ledgers[userID]
	out := make([]core.Transaction, len(src))
	copy(out, src)
	return out, nil
}

func (b *Backend) WithAccount(ctx context.Context, userID string, fn func(ledger.AccountTx) error) error {
	release, err := b.locks.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	account, err := b.GetAccount(ctx, userID)
	if err != nil {
		return err
	}

	tx := &accountTx{backend: b, account: account, balance: account.CashBalance}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}
	account.CashBalance = tx.balance
	if tx.put {
		account.Version++
	}
	b.accounts[userID] = account
	for _, t := range tx.staged {
		b.ledgers[userID] = append(b.ledgers[userID], t)
		b.byID[t.ID] = t
		if t.ReversalOf != "" {
			b.reversed[t.ReversalOf] = t.ID
		}
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	return ctx.Err()
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type accountTx struct {
	backend *Backend
	account core.Account
	balance core.Money
	put     bool
	staged  []core.Transaction
}

func (t *accountTx) Account() core.Account {
	return t.account
}

func (t *accountTx) PutAccountBalance(ctx context.Context, balance core.Money) error {
	t.balance = balance
	t.put = true
	return ctx.Err()
}

func (t *accountTx) InsertTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if t.idTaken(tx.ID) {
		return "", fmt.Errorf("duplicate transaction id %s", tx.ID)
	}
	t.staged = append(t.staged, tx)
	return tx.ID, nil
}

// idTaken checks ids across every account; ids are unique per backend.
func (t *accountTx) idTaken(id string) bool {
	for _, s := range t.staged {
		if s.ID == id {
			return true
		}
	}
	t.backend.mu.RLock()
	defer t.backend.mu.RUnlock()
	_, ok := t.backend.byID[id]
	return ok
}

func (t *accountTx) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	for _, s := range t.staged {
		if s.ID == id {
			return s, nil
		}
	}
	t.backend.mu.RLock()
	found, ok := t.backend.byID[id]
	t.backend.mu.RUnlock()
	if !ok || found.UserID != t.account.UserID {
		return core.Transaction{}, fmt.Errorf("%w: %s", core.ErrTransactionNotFound, id)
	}
	return found, nil
}

func (t *accountTx) ReversalExists(ctx context.Context, id string) (bool, error) {
	for _, s := range t.staged {
		if s.ReversalOf == id {
			return true, nil
		}
	}
	t.backend.mu.RLock()
	_, ok := t.backend.reversed[id]
	t.backend.mu.RUnlock()
	return ok, nil
}

// keyedLock hands out one weighted semaphore per key, dropping it once no
// goroutine holds or waits on it. Acquire honours context cancellation.
type keyedLock struct {
	mu   sync.Mutex
	sems map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{sems: make(map[string]*lockEntry)}
}

func (k *keyedLock) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.sems[key]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		k.sems[key] = e
	}
	e.refs++
	k.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		k.drop(key, e)
		return nil, err
	}
	return func() {
		e.sem.Release(1)
		k.drop(key, e)
	}, nil
}

func (k *keyedLock) drop(key string, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.sems, key)
	}
}

func (k *keyedLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.sems)
}

// ListAccountIDs returns every registered user id in sorted order.
func (b *Backend) ListAccountIDs(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errClosed
	}
	ids := make([]string, 0, len(b.accounts))
	for id := range b.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, ctx.Err()
}
