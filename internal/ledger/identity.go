package ledger

import (
	"context"

	"capitalguard/internal/core"
)

func (s *Store) currentUser(ctx context.Context) (string, error) {
	if s.identity == nil {
		return "", core.ErrUnauthenticated
	}
	id, ok := s.identity.CurrentUserID(ctx)
	if !ok || id == "" {
		return "", core.ErrUnauthenticated
	}
	return id, nil
}

// ApplyForCurrentUser is ApplyTransaction for the signed-in user.
func (s *Store) ApplyForCurrentUser(ctx context.Context, entry core.Entry) (Change, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return Change{}, err
	}
	return s.ApplyTransaction(ctx, userID, entry)
}

func (s *Store) ListForCurrentUser(ctx context.Context) ([]core.Transaction, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListTransactions(ctx, userID)
}

func (s *Store) AccountForCurrentUser(ctx context.Context) (core.Account, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return core.Account{}, err
	}
	return s.Account(ctx, userID)
}

func (s *Store) ReverseForCurrentUser(ctx context.Context, transactionID string) (Change, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return Change{}, err
	}
	return s.ReverseTransaction(ctx, userID, transactionID)
}

// CurrentUserID exposes the configured identity resolution.
func (s *Store) CurrentUserID(ctx context.Context) (string, error) {
	return s.currentUser(ctx)
}
