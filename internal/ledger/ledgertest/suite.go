// Package ledgertest holds a behavioural suite every ledger.Backend must
// pass when driven through a ledger.Store.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"capitalguard/internal/core"
	"capitalguard/internal/ledger"
)

// Factory returns a fresh, empty backend. Cleanup is the caller's concern
// (t.Cleanup inside the factory).
type Factory func(t *testing.T) ledger.Backend

// Run executes the whole suite against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("RegisterStartsAtZero", func(t *testing.T) { testRegister(t, newBackend(t)) })
	t.Run("DuplicateRegistration", func(t *testing.T) { testDuplicateRegistration(t, newBackend(t)) })
	t.Run("UnknownAccount", func(t *testing.T) { testUnknownAccount(t, newBackend(t)) })
	t.Run("BalanceInvariant", func(t *testing.T) { testBalanceInvariant(t, newBackend(t)) })
	t.Run("InsufficientFundsIsAtomic", func(t *testing.T) { testInsufficientFunds(t, newBackend(t)) })
	t.Run("FailedUnitLeavesNoTrace", func(t *testing.T) { testFailedUnitRollsBack(t, newBackend(t)) })
	t.Run("IdempotentReads", func(t *testing.T) { testIdempotentReads(t, newBackend(t)) })
	t.Run("ConcurrentAppliesSerialise", func(t *testing.T) { testConcurrentApplies(t, newBackend(t)) })
	t.Run("ConcurrentExpensesNeverOverdraw", func(t *testing.T) { testConcurrentExpenses(t, newBackend(t)) })
	t.Run("Reversal", func(t *testing.T) { testReversal(t, newBackend(t)) })
	t.Run("ReversalIsScopedToOwner", func(t *testing.T) { testReversalScope(t, newBackend(t)) })
	t.Run("RoundTripsFields", func(t *testing.T) { testRoundTrip(t, newBackend(t)) })
	t.Run("InsertAssignsID", func(t *testing.T) { testInsertAssignsID(t, newBackend(t)) })
	t.Run("TransactionIDsAreGlobal", func(t *testing.T) { testTransactionIDsAreGlobal(t, newBackend(t)) })
	t.Run("VersionCountsCommits", func(t *testing.T) { testVersionCountsCommits(t, newBackend(t)) })
	t.Run("Scenario", func(t *testing.T) { testScenario(t, newBackend(t)) })
}

// Register creates an account for userID and fails the test on error.
func Register(t *testing.T, store *ledger.Store, userID string) core.Account {
	t.Helper()
	account, err := store.RegisterAccount(context.Background(), core.Registration{
		UserID:    userID,
		Email:     userID + "@example.com",
		FirstName: "Test",
		LastName:  userID,
	})
	if err != nil {
		t.Fatalf("register %s: %v", userID, err)
	}
	return account
}

// Apply records an entry and fails the test on error.
func Apply(t *testing.T, store *ledger.Store, userID string, kind core.Kind, cents int64, category string) ledger.Change {
	t.Helper()
	change, err := store.ApplyTransaction(context.Background(), userID, core.Entry{
		Kind:     kind,
		Amount:   core.Cents(cents),
		Category: category,
	})
	if err != nil {
		t.Fatalf("apply %s %d %s: %v", kind, cents, category, err)
	}
	return change
}

func balance(t *testing.T, store *ledger.Store, userID string) int64 {
	t.Helper()
	account, err := store.Account(context.Background(), userID)
	if err != nil {
		t.Fatalf("account %s: %v", userID, err)
	}
	return account.CashBalance.Cents
}

func list(t *testing.T, store *ledger.Store, userID string) []core.Transaction {
	t.Helper()
	txs, err := store.ListTransactions(context.Background(), userID)
	if err != nil {
		t.Fatalf("list %s: %v", userID, err)
	}
	return txs
}

func testRegister(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	account := Register(t, store, "alice")
	if account.CashBalance.Cents != 0 {
		t.Fatalf("new account balance = %d, want 0", account.CashBalance.Cents)
	}
	got, err := store.Account(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.Email != "alice@example.com" || got.LastName != "alice" || got.CashBalance.Cents != 0 {
		t.Fatalf("unexpected account %+v", got)
	}
	if len(list(t, store, "alice")) != 0 {
		t.Fatal("new account has transactions")
	}
}

func testDuplicateRegistration(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	Register(t, store, "alice")
	_, err := store.RegisterAccount(context.Background(), core.Registration{UserID: "alice", Email: "other@example.com"})
	if !errors.Is(err, core.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	_, err = store.RegisterAccount(context.Background(), core.Registration{UserID: "bob", Email: "alice@example.com"})
	if !errors.Is(err, core.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func testUnknownAccount(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	_, err := store.ApplyTransaction(context.Background(), "ghost", core.Entry{Kind: core.KindIncome, Amount: core.Cents(100)})
	if !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := store.Account(context.Background(), "ghost"); !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if txs := list(t, store, "ghost"); len(txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txs))
	}
}

func testBalanceInvariant(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	Register(t, store, "alice")

	steps := []struct {
		kind  core.Kind
		cents int64
	}{
		{core.KindIncome, 10000},
		{core.KindExpense, 2550},
		{core.KindExpense, 7450}, // exactly to zero
		{core.KindExpense, 1},    // rejected
		{core.KindIncome, 333},
		{core.KindExpense, 334}, // rejected
		{core.KindExpense, 333},
		{core.KindIncome, 99},
	}
	var want int64
	committed := 0
	for i, s := range steps {
		_, err := store.ApplyTransaction(context.Background(), "alice", core.Entry{Kind: s.kind, Amount: core.Cents(s.cents)})
		switch {
		case err == nil:
			committed++
			if s.kind == core.KindIncome {
				want += s.cents
			} else {
				want -= s.cents
			}
		case errors.Is(err, core.ErrInsufficientFunds):
		default:
			t.Fatalf("step %d: unexpected error %v", i, err)
		}
		if got := balance(t, store, "alice"); got != want || got < 0 {
			t.Fatalf("step %d: balance = %d, want %d", i, got, want)
		}
	}

	txs := list(t, store, "alice")
	if len(txs) != committed {
		t.Fatalf("listed %d transactions, want %d", len(txs), committed)
	}
	audit, err := store.Verify(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !audit.Consistent() || audit.Computed.Cents != want || audit.Transactions != committed {
		t.Fatalf("audit %+v, want computed %d over %d", audit, want, committed)
	}
}

func testInsufficientFunds(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	Register(t, store, "alice")
	Apply(t, store, "alice", core.KindIncome, 4000, "Salary")
	before := list(t, store, "alice")

	_, err := store.ApplyTransaction(context.Background(), "alice", core.Entry{Kind: core.KindExpense, Amount: core.Cents(4001), Category: "Food"})
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := balance(t, store, "alice"); got != 4000 {
		t.Fatalf("balance changed to %d", got)
	}
	if after := list(t, store, "alice"); !reflect.DeepEqual(before, after) {
		t.Fatalf("transactions changed: %v -> %v", before, after)
	}
}

func testTransactionIDsAreGlobal(t *testing.T, b ledger.Backend) {
	store := ledger.New(b, ledger.WithIDGenerator(func() string { return "fixed-id" }))
	Register(t, store, "alice")
	Register(t, store, "bob")
	Apply(t, store, "alice", core.KindIncome, 4000, "Salary")

	_, err := store.ApplyTransaction(context.Background(), "bob", core.Entry{Kind: core.KindIncome, Amount: core.Cents(900), Category: "Salary"})
	if err == nil {
		t.Fatal("a transaction id owned by another account must be refused")
	}
	if got := balance(t, store, "bob"); got != 0 {
		t.Fatalf("bob's balance moved to %d", got)
	}
	if txs := list(t, store, "bob"); len(txs) != 0 {
		t.Fatalf("bob holds %d transactions", len(txs))
	}
	alice := list(t, store, "alice")
	if len(alice) != 1 || alice[0].ID != "fixed-id" || alice[0].UserID != "alice" || alice[0].Amount.Cents != 4000 {
		t.Fatalf("alice's record changed: %+v", alice)
	}
}

func testVersionCountsCommits(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	ctx := context.Background()
	if got := Register(t, store, "alice").Version; got != 0 {
		t.Fatalf("new account version = %d, want 0", got)
	}

	first := Apply(t, store, "alice", core.KindIncome, 4000, "Salary")
	second := Apply(t, store, "alice", core.KindExpense, 1000, "Food")
	if first.Account.Version != 1 || second.Account.Version != 2 {
		t.Fatalf("change versions = %d, %d, want 1, 2", first.Account.Version, second.Account.Version)
	}

	if _, err := store.ApplyTransaction(ctx, "alice", core.Entry{Kind: core.KindExpense, Amount: core.Cents(99999), Category: "Food"}); err == nil {
		t.Fatal("overdraw must be refused")
	}
	account, txs, err := store.AccountLedger(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if account.Version != 2 {
		t.Fatalf("refused apply moved version to %d", account.Version)
	}
	if int64(len(txs)) != account.Version {
		t.Fatalf("version %d does not match %d transactions", account.Version, len(txs))
	}
}

// failingBackend injects a failure after the record is written but
// before the balance is, inside the same unit.
type failingBackend struct {
	ledger.Backend
}

type failingTx struct {
	ledger.AccountTx
}

var errInjected = errors.New("disk full")

func (f failingBackend) WithAccount(ctx context.Context, userID string, fn func(ledger.AccountTx) error) error {
	return f.Backend.WithAccount(ctx, userID, func(tx ledger.AccountTx) error {
		return fn(failingTx{tx})
	})
}

func (failingTx) PutAccountBalance(context.Context, core.Money) error {
	return errInjected
}

func testFailedUnitRollsBack(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	Register(t, store, "alice")
	Apply(t, store, "alice", core.KindIncome, 1000, "Salary")

	broken := ledger.New(failingBackend{b})
	_, err := broken.ApplyTransaction(context.Background(), "alice", core.Entry{Kind: core.KindIncome, Amount: core.Cents(500)})
	if !errors.Is(err, core.ErrStorageUnavailable) || !errors.Is(err, errInjected) {
		t.Fatalf("expected wrapped storage failure, got %v", err)
	}
	if got := balance(t, store, "alice"); got != 1000 {
		t.Fatalf("balance = %d after failed unit", got)
	}
	if n := len(list(t, store, "alice")); n != 1 {
		t.Fatalf("%d transactions after failed unit, want 1", n)
	}
}

func testIdempotentReads(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	Register(t, store, "alice")
	Apply(t, store, "alice", core.KindIncome, 1000, "Salary")
	Apply(t, store, "alice", core.KindExpense, 250, "Food")

	first := list(t, store, "alice")
	second := list(t, store, "alice")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reads differ:\n%v\n%v", first, second)
	}
}

func testConcurrentApplies(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	Register(t, store, "alice")
	Register(t, store, "bob")

	const workers = 20
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		user := "alice"
		if i%2 == 1 {
			user = "bob"
		}
		g.Go(func() error {
			_, err := store.ApplyTransaction(context.Background(), user, core.Entry{Kind: core.KindIncome, Amount: core.Cents(100)})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent apply: %v", err)
	}
	for _, user := range []string{"alice", "bob"} {
		if got := balance(t, store, user); got != workers/2*100 {
			t.Fatalf("%s balance = %d, want %d", user, got, workers/2*100)
		}
		if n := len(list(t, store, user)); n != workers/2 {
			t.Fatalf("%s has %d transactions, want %d", user, n, workers/2)
		}
	}
}

func testConcurrentExpenses(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	Register(t, store, "alice")
	Apply(t, store, "alice", core.KindIncome, 500, "Salary")

	const attempts = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ApplyTransaction(context.Background(), "alice", core.Entry{Kind: core.KindExpense, Amount: core.Cents(100)})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !errors.Is(err, core.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 5 {
		t.Fatalf("accepted %d expenses of 100 against 500, want 5", accepted)
	}
	if got := balance(t, store, "alice"); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
}

func testReversal(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	Register(t, store, "alice")
	income := Apply(t, store, "alice", core.KindIncome, 1000, "Salary")
	expense := Apply(t, store, "alice", core.KindExpense, 300, "Food")

	rev, err := store.ReverseTransaction(context.Background(), "alice", expense.Transaction.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rev.Transaction.Kind != core.KindIncome || rev.Transaction.Amount.Cents != 300 ||
		rev.Transaction.ReversalOf != expense.Transaction.ID || rev.Transaction.Category.Name != "Food" {
		t.Fatalf("unexpected reversal %+v", rev.Transaction)
	}
	if rev.Account.CashBalance.Cents != 1000 {
		t.Fatalf("balance after reversal = %d, want 1000", rev.Account.CashBalance.Cents)
	}

	if _, err := store.ReverseTransaction(context.Background(), "alice", expense.Transaction.ID); !errors.Is(err, core.ErrAlreadyReversed) {
		t.Fatalf("expected ErrAlreadyReversed, got %v", err)
	}
	if _, err := store.ReverseTransaction(context.Background(), "alice", rev.Transaction.ID); !errors.Is(err, core.ErrNotReversible) {
		t.Fatalf("expected ErrNotReversible, got %v", err)
	}
	if _, err := store.ReverseTransaction(context.Background(), "alice", "missing"); !errors.Is(err, core.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}

	// Spend the income, then try to take it back.
	Apply(t, store, "alice", core.KindExpense, 900, "Shopping")
	if _, err := store.ReverseTransaction(context.Background(), "alice", income.Transaction.ID); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := balance(t, store, "alice"); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
	if n := len(list(t, store, "alice")); n != 4 {
		t.Fatalf("%d transactions, want 4", n)
	}
}

func testReversalScope(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	Register(t, store, "alice")
	Register(t, store, "bob")
	change := Apply(t, store, "alice", core.KindIncome, 1000, "Salary")
	Apply(t, store, "bob", core.KindIncome, 1000, "Salary")

	_, err := store.ReverseTransaction(context.Background(), "bob", change.Transaction.ID)
	if !errors.Is(err, core.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound for foreign transaction, got %v", err)
	}
}

func testRoundTrip(t *testing.T, b ledger.Backend) {
	date := time.Date(2024, 5, 17, 13, 45, 0, 0, time.UTC)
	seq := 0
	store := ledger.New(b,
		ledger.WithClock(func() time.Time { return date.Add(time.Hour) }),
		ledger.WithIDGenerator(func() string { seq++; return fmt.Sprintf("tx-%03d", seq) }),
	)
	Register(t, store, "alice")

	_, err := store.ApplyTransaction(context.Background(), "alice", core.Entry{
		Kind: core.KindIncome, Amount: core.Cents(12345), Category: "freelancing", Date: core.Date{Time: date},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.ApplyTransaction(context.Background(), "alice", core.Entry{
		Kind: core.KindExpense, Amount: core.Cents(45), Category: "Vending machine",
	})
	if err != nil {
		t.Fatal(err)
	}

	txs := list(t, store, "alice")
	if len(txs) != 2 {
		t.Fatalf("got %d transactions", len(txs))
	}
	first, second := txs[0], txs[1]
	if first.ID != "tx-001" || first.UserID != "alice" || first.Kind != core.KindIncome ||
		first.Amount.Cents != 12345 || first.Category != (core.Category{Name: "Freelancing", Known: true}) ||
		!first.Date.Equal(date) || !first.CreatedAt.Equal(date.Add(time.Hour)) {
		t.Fatalf("first transaction did not round-trip: %+v", first)
	}
	if second.ID != "tx-002" || second.Category != (core.Category{Name: "Vending machine"}) ||
		second.Category.Display() != core.OtherCategory || !second.Date.Equal(date.Add(time.Hour)) {
		t.Fatalf("second transaction did not round-trip: %+v", second)
	}
}

// testScenario walks the register, spend, earn flow. An expense on a
// fresh account is refused before the income arrives.
func testScenario(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	Register(t, store, "alice")

	_, err := store.ApplyTransaction(context.Background(), "alice", core.Entry{Kind: core.KindExpense, Amount: core.Cents(5000), Category: "Food"})
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("expense on empty account: expected ErrInsufficientFunds, got %v", err)
	}

	Apply(t, store, "alice", core.KindIncome, 20000, "Salary")
	Apply(t, store, "alice", core.KindExpense, 5000, "Food")

	if got := balance(t, store, "alice"); got != 15000 {
		t.Fatalf("balance = %d, want 15000", got)
	}
	txs := list(t, store, "alice")
	if len(txs) != 2 {
		t.Fatalf("listed %d transactions, want 2", len(txs))
	}
	var expenses []core.Transaction
	for _, tx := range txs {
		if tx.Kind == core.KindExpense {
			expenses = append(expenses, tx)
		}
	}
	if len(expenses) != 1 || expenses[0].Category.Name != "Food" || expenses[0].Amount.Cents != 5000 {
		t.Fatalf("unexpected expenses %+v", expenses)
	}
}

func testInsertAssignsID(t *testing.T, b ledger.Backend) {
	store := ledger.New(b)
	Register(t, store, "alice")
	ctx := context.Background()

	var ids []string
	err := b.WithAccount(ctx, "alice", func(atx ledger.AccountTx) error {
		for _, id := range []string{"", "given-id"} {
			got, err := atx.InsertTransaction(ctx, core.Transaction{
				ID:        id,
				UserID:    "alice",
				Kind:      core.KindIncome,
				Amount:    core.Cents(100),
				Category:  core.CategoryFor(core.KindIncome, "Salary"),
				Date:      core.NewDate(2025, 1, 1),
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			ids = append(ids, got)
		}
		return atx.PutAccountBalance(ctx, core.Cents(200))
	})
	if err != nil {
		t.Fatal(err)
	}
	if ids[0] == "" || ids[1] != "given-id" {
		t.Fatalf("unexpected ids %q", ids)
	}
	txs := list(t, store, "alice")
	if len(txs) != 2 || txs[0].ID != ids[0] {
		t.Fatalf("stored records do not carry the returned ids: %+v", txs)
	}
}
