package ledger

import (
	"context"

	"capitalguard/internal/core"
)

// Backend is the durable storage behind a Store.
//
// Implementations must make WithAccount an isolated, all-or-nothing unit:
// two units for the same user never overlap, and if fn returns an error
// nothing it wrote is visible afterwards. Units for different users may
// run concurrently.
type Backend interface {
	CreateAccount(ctx context.Context, account core.Account) error
	GetAccount(ctx context.Context, userID string) (core.Account, error)
	ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error)
	WithAccount(ctx context.Context, userID string, fn func(AccountTx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// AccountTx is the view of one account inside a unit of work.
type AccountTx interface {
	// Account returns the account as read when the unit began.
	Account() core.Account
	// PutAccountBalance stores the new balance and bumps the account
	// version by one.
	PutAccountBalance(ctx context.Context, balance core.Money) error
	// InsertTransaction appends tx and returns the id it was stored
	// under, assigning one when tx.ID is empty.
	InsertTransaction(ctx context.Context, tx core.Transaction) (string, error)
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	ReversalExists(ctx context.Context, id string) (bool, error)
}

// IdentityProvider resolves the signed-in user for a request.
type IdentityProvider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// IdentityFunc adapts a function to IdentityProvider.
type IdentityFunc func(ctx context.Context) (string, bool)

func (f IdentityFunc) CurrentUserID(ctx context.Context) (string, bool) {
	return f(ctx)
}

// Change is delivered to subscribers after a unit of work commits.
type Change struct {
	Account     core.Account
	Transaction core.Transaction
}

// Subscriber reacts to committed changes. Errors are logged by the
// store; they never undo the commit.
type Subscriber interface {
	OnChange(ctx context.Context, change Change) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, change Change) error

func (f SubscriberFunc) OnChange(ctx context.Context, change Change) error {
	return f(ctx, change)
}

// AccountLister is implemented by backends that can enumerate accounts.
type AccountLister interface {
	ListAccountIDs(ctx context.Context) ([]string, error)
}
