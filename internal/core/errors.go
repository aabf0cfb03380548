package core

import "errors"

// Input errors.
var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidKind    = errors.New("invalid transaction type")
	ErrInvalidDate    = errors.New("invalid date")
	ErrInvalidAccount = errors.New("invalid account")
)

// Ledger errors.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadyReversed     = errors.New("transaction already reversed")
	ErrNotReversible       = errors.New("transaction cannot be reversed")
)

// Infrastructure errors.
var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

// IsDomainError reports whether err is one of the ledger's own sentinels,
// as opposed to an unclassified infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrInvalidKind, ErrInvalidDate, ErrInvalidAccount,
		ErrAccountNotFound, ErrAccountExists, ErrEmailTaken,
		ErrInsufficientFunds, ErrTransactionNotFound, ErrAlreadyReversed,
		ErrNotReversible, ErrStorageUnavailable, ErrUnauthenticated,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
