// Package storage is the SQLite ledger backend.
//
// Units of work run in BEGIN IMMEDIATE transactions, which take the
// database write lock up front. Same-account applies therefore serialise,
// and so does every other writer: SQLite has a single writer, so
// per-account parallelism is not available on this backend.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"capitalguard/internal/core"
	"capitalguard/internal/ledger"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db            *sql.DB
	schemaVersion uint
}

var _ ledger.Backend = (*SQLiteRepository)(nil)

// DSN builds the connection string used for both the pool and migrations.
func DSN(dbPath string) string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + dbPath + "?" + q.Encode()
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	version, err := RunMigrations(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, schemaVersion: version}, nil
}

// SchemaVersion is the migration version the database was opened at.
func (r *SQLiteRepository) SchemaVersion() uint {
	return r.schemaVersion
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}
	return nil
}

const accountColumns = `user_id, email, first_name, last_name, profile_url, cash_balance_cents, created_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (core.Account, error) {
	var (
		a         core.Account
		createdAt int64
	)
	err := row.Scan(&a.UserID, &a.Email, &a.FirstName, &a.LastName, &a.ProfileURL, &a.CashBalance.Cents, &createdAt, &a.Version)
	if err != nil {
		return core.Account{}, err
	}
	a.CreatedAt = fromMillis(createdAt)
	return a, nil
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, account core.Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE user_id = ?`, account.UserID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check account: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", core.ErrAccountExists, account.UserID)
	}
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE email = ?`, account.Email).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", core.ErrEmailTaken, account.Email)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.UserID, account.Email, account.FirstName, account.LastName, account.ProfileURL,
		account.CashBalance.Cents, toMillis(account.CreatedAt), account.Version)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, userID string) (core.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = ?`, userID)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("%w: %s", core.ErrAccountNotFound, userID)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// ListAccountIDs returns every registered user id.
func (r *SQLiteRepository) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const transactionColumns = `id, user_id, kind, amount_cents, category, occurred_at, created_at, reversal_of`

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t          core.Transaction
		kind       string
		category   string
		occurredAt int64
		createdAt  int64
		reversalOf sql.NullString
	)
	if err := row.Scan(&t.ID, &t.UserID, &kind, &t.Amount.Cents, &category, &occurredAt, &createdAt, &reversalOf); err != nil {
		return core.Transaction{}, err
	}
	t.Kind = core.Kind(kind)
	t.Category = core.CategoryFor(t.Kind, category)
	t.Date = core.Date{Time: fromMillis(occurredAt)}
	t.CreatedAt = fromMillis(createdAt)
	t.ReversalOf = reversalOf.String
	return t, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]core.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

func (r *SQLiteRepository) WithAccount(ctx context.Context, userID string, fn func(ledger.AccountTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = ?`, userID)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", core.ErrAccountNotFound, userID)
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	if err := fn(&sqliteTx{tx: tx, account: account}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx      *sql.Tx
	account core.Account
}

func (t *sqliteTx) Account() core.Account {
	return t.account
}

func (t *sqliteTx) PutAccountBalance(ctx context.Context, balance core.Money) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET cash_balance_cents = ?, version = version + 1 WHERE user_id = ?`, balance.Cents, t.account.UserID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func (t *sqliteTx) InsertTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	var reversalOf sql.NullString
	if tx.ReversalOf != "" {
		reversalOf = sql.NullString{String: tx.ReversalOf, Valid: true}
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	var id string
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		tx.ID, tx.UserID, string(tx.Kind), tx.Amount.Cents, tx.Category.Name,
		toMillis(tx.Date.Time), toMillis(tx.CreatedAt), reversalOf).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

func (t *sqliteTx) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND user_id = ?`, id, t.account.UserID)
	found, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("%w: %s", core.ErrTransactionNotFound, id)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return found, nil
}

func (t *sqliteTx) ReversalExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE reversal_of = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check reversal: %w", err)
	}
	return n > 0, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
