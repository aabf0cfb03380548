// Package postgres is the PostgreSQL ledger backend.
//
// A unit of work locks the account row with SELECT ... FOR UPDATE, so
// applies on one account serialise while other accounts proceed in
// parallel.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"capitalguard/internal/core"
	"capitalguard/internal/ledger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

type Repository struct {
	pool          *pgxpool.Pool
	schemaVersion uint
}

var _ ledger.Backend = (*Repository)(nil)

// New connects to databaseURL and applies pending migrations.
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	version, err := RunMigrations(databaseURL)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Repository{pool: pool, schemaVersion: version}, nil
}

// SchemaVersion is the migration version the database was opened at.
func (r *Repository) SchemaVersion() uint {
	return r.schemaVersion
}

// RunMigrations applies the embedded schema through the pgx5 driver and
// returns the resulting schema version.
func RunMigrations(databaseURL string) (uint, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return 0, fmt.Errorf("parse database url: %w", err)
	}
	u.Scheme = "pgx5"

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, u.String())
	if err != nil {
		return 0, fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("run migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}
	return nil
}

const accountColumns = `user_id, email, first_name, last_name, profile_url, cash_balance_cents, created_at, version`

func scanAccount(row pgx.Row) (core.Account, error) {
	var a core.Account
	err := row.Scan(&a.UserID, &a.Email, &a.FirstName, &a.LastName, &a.ProfileURL, &a.CashBalance.Cents, &a.CreatedAt, &a.Version)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, err
}

func (r *Repository) CreateAccount(ctx context.Context, account core.Account) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		account.UserID, account.Email, account.FirstName, account.LastName, account.ProfileURL,
		account.CashBalance.Cents, account.CreatedAt, account.Version)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == "accounts_email_key" {
			return fmt.Errorf("%w: %s", core.ErrEmailTaken, account.Email)
		}
		return fmt.Errorf("%w: %s", core.ErrAccountExists, account.UserID)
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, userID string) (core.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Account{}, fmt.Errorf("%w: %s", core.ErrAccountNotFound, userID)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

func (r *Repository) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect account ids: %w", err)
	}
	return ids, nil
}

const transactionColumns = `id, user_id, kind, amount_cents, category, occurred_at, created_at, reversal_of`

func scanTransaction(row pgx.Row) (core.Transaction, error) {
	var (
		t          core.Transaction
		kind       string
		category   string
		occurredAt time.Time
		reversalOf *string
	)
	if err := row.Scan(&t.ID, &t.UserID, &kind, &t.Amount.Cents, &category, &occurredAt, &t.CreatedAt, &reversalOf); err != nil {
		return core.Transaction{}, err
	}
	t.Kind = core.Kind(kind)
	t.Category = core.CategoryFor(t.Kind, category)
	t.Date = core.Date{Time: occurredAt.UTC()}
	t.CreatedAt = t.CreatedAt.UTC()
	if reversalOf != nil {
		t.ReversalOf = *reversalOf
	}
	return t, nil
}

func (r *Repository) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Transaction, error) {
		return scanTransaction(row)
	})
	if err != nil {
		return nil, fmt.Errorf("collect transactions: %w", err)
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	return txs, nil
}

func (r *Repository) WithAccount(ctx context.Context, userID string, fn func(ledger.AccountTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", core.ErrAccountNotFound, userID)
	}
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}

	if err := fn(&accountTx{tx: tx, account: account}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type accountTx struct {
	tx      pgx.Tx
	account core.Account
}

func (t *accountTx) Account() core.Account {
	return t.account
}

func (t *accountTx) PutAccountBalance(ctx context.Context, balance core.Money) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE accounts SET cash_balance_cents = $1, version = version + 1 WHERE user_id = $2`, balance.Cents, t.account.UserID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func (t *accountTx) InsertTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	var reversalOf *string
	if tx.ReversalOf != "" {
		reversalOf = &tx.ReversalOf
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	var id string
	err := t.tx.QueryRow(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		tx.ID, tx.UserID, string(tx.Kind), tx.Amount.Cents, tx.Category.Name,
		tx.Date.Time, tx.CreatedAt, reversalOf).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

func (t *accountTx) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND user_id = $2`, id, t.account.UserID)
	found, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("%w: %s", core.ErrTransactionNotFound, id)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return found, nil
}

func (t *accountTx) ReversalExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE reversal_of = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check reversal: %w", err)
	}
	return exists, nil
}
