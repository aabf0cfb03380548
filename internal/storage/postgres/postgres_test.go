//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"

	"capitalguard/internal/ledger"
	"capitalguard/internal/ledger/ledgertest"
)

// Run with: DATABASE_URL=postgres://... go test -tags integration ./internal/storage/postgres
func TestPostgresConformance(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ledgertest.Run(t, func(t *testing.T) ledger.Backend {
		ctx := context.Background()
		repo, err := New(ctx, url)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		if _, err := repo.pool.Exec(ctx, `TRUNCATE transactions, accounts`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}
