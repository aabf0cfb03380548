package viewmodel

import (
	"context"
	"sync"

	"capitalguard/internal/cache"
	"capitalguard/internal/core"
	"capitalguard/internal/ledger"
	"capitalguard/internal/log"
)

// Source is the read path the projector falls back to on a cache miss.
// AccountLedger must return a balance and list from the same commit.
type Source interface {
	AccountLedger(ctx context.Context, userID string) (core.Account, []core.Transaction, error)
}

// Snapshot is a cached account with its transactions in storage order.
// Cached snapshots are never mutated in place.
type Snapshot struct {
	Account      core.Account
	Transactions []core.Transaction
}

// Projector keeps per-user snapshots warm. It subscribes to ledger
// changes and folds each committed record into the cached snapshot
// instead of re-reading the whole ledger.
type Projector struct {
	source Source
	cache  *cache.LRUCache[Snapshot]
	logger *log.Logger

	mu   sync.Mutex
	gens map[string]uint64 // bumped on every change, guards racing loads
}

var _ ledger.Subscriber = (*Projector)(nil)

func NewProjector(source Source, c *cache.LRUCache[Snapshot], logger *log.Logger) *Projector {
	if logger == nil {
		logger = log.Default(log.ComponentViewModel)
	}
	return &Projector{
		source: source,
		cache:  c,
		logger: logger.WithComponent(log.ComponentViewModel),
		gens:   make(map[string]uint64),
	}
}

// Snapshot returns the account and its transactions, loading on a miss.
func (p *Projector) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	if snap, ok := p.cache.Get(userID); ok {
		return snap.clone(), nil
	}

	gen := p.generation(userID)
	account, txs, err := p.source.AccountLedger(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Account: account, Transactions: txs}

	// A change committed while we were loading may be missing from snap.
	p.mu.Lock()
	if p.gens[userID] == gen {
		p.cache.Set(userID, snap)
	}
	p.mu.Unlock()

	return snap.clone(), nil
}

// Dashboard builds the dashboard for userID.
func (p *Projector) Dashboard(ctx context.Context, userID string) (Dashboard, error) {
	snap, err := p.Snapshot(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}
	return Build(snap.Account, snap.Transactions), nil
}

// Transactions returns userID's transactions filtered and ordered by q.
func (p *Projector) Transactions(ctx context.Context, userID string, q Query) ([]core.Transaction, error) {
	snap, err := p.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Filter(snap.Transactions, q), nil
}

// OnChange folds a committed change into the cached snapshot, if any.
// Changes can arrive out of commit order since subscribers run outside
// the account lock. Only the change right after the cached version is
// folded; an older one is dropped and a gap evicts the snapshot.
func (p *Projector) OnChange(ctx context.Context, change ledger.Change) error {
	userID := change.Account.UserID

	p.mu.Lock()
	defer p.mu.Unlock()
	p.gens[userID]++

	snap, ok := p.cache.Get(userID)
	if !ok {
		return nil
	}
	switch cached := snap.Account.Version; {
	case change.Account.Version <= cached:
		return nil
	case change.Account.Version == cached+1:
		txs := make([]core.Transaction, len(snap.Transactions), len(snap.Transactions)+1)
		copy(txs, snap.Transactions)
		p.cache.Set(userID, Snapshot{Account: change.Account, Transactions: append(txs, change.Transaction)})
		p.logger.DebugContext(ctx, "View snapshot updated",
			log.FieldUserID, userID,
			log.FieldTransactionID, change.Transaction.ID)
	default:
		p.cache.Delete(userID)
		p.logger.DebugContext(ctx, "View snapshot evicted on version gap",
			log.FieldUserID, userID,
			log.FieldTransactionID, change.Transaction.ID,
			"cached_version", cached,
			"change_version", change.Account.Version)
	}
	return nil
}

// Invalidate drops userID's snapshot.
func (p *Projector) Invalidate(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gens[userID]++
	p.cache.Delete(userID)
}

func (p *Projector) generation(userID string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gens[userID]
}

func (s Snapshot) clone() Snapshot {
	txs := make([]core.Transaction, len(s.Transactions))
	copy(txs, s.Transactions)
	return Snapshot{Account: s.Account, Transactions: txs}
}
