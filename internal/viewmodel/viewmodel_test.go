package viewmodel

import (
	"math"
	"reflect"
	"testing"
	"time"

	"capitalguard/internal/core"
)

func tx(kind core.Kind, category string, cents int64, date core.Date) core.Transaction {
	return core.Transaction{
		ID:       category + date.Label(),
		Kind:     kind,
		Amount:   core.Cents(cents),
		Category: core.CategoryFor(kind, category),
		Date:     date,
	}
}

func day(d int) core.Date {
	return core.NewDate(2024, 6, d)
}

func totals(rows []CategoryTotal) map[string]int64 {
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Category] = r.Total.Cents
	}
	return out
}

func TestTopExpensesGroupsAndOrders(t *testing.T) {
	txs := []core.Transaction{
		tx(core.KindExpense, "Food", 100, day(1)),
		tx(core.KindExpense, "Food", 50, day(2)),
		tx(core.KindExpense, "Transport", 80, day(3)),
	}
	got := TopExpenses(txs)
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if got[0].Category != "Food" || got[0].Total.Cents != 150 || got[1].Category != "Transport" || got[1].Total.Cents != 80 {
		t.Fatalf("unexpected rows %+v", got)
	}
	if got[0].Share != 100 || got[1].Share != 53 {
		t.Fatalf("unexpected shares %d %d", got[0].Share, got[1].Share)
	}
}

func TestTopExpensesLimitAndTies(t *testing.T) {
	txs := []core.Transaction{
		tx(core.KindIncome, "Salary", 100000, day(1)),
		tx(core.KindExpense, "Health", 300, day(1)),
		tx(core.KindExpense, "Utilities", 500, day(2)),
		tx(core.KindExpense, "Shopping", 300, day(3)),
		tx(core.KindExpense, "Food", 300, day(4)),
	}
	got := TopExpenses(txs)
	want := []string{"Utilities", "Health", "Shopping"}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	for i, name := range want {
		if got[i].Category != name {
			t.Fatalf("row %d = %s, want %s (ties keep first-seen order)", i, got[i].Category, name)
		}
	}
}

func TestTopExpensesLegacyCategoriesGroupAsOther(t *testing.T) {
	txs := []core.Transaction{
		tx(core.KindExpense, "Vending machine", 40, day(1)),
		tx(core.KindExpense, "Other", 60, day(2)),
		tx(core.KindExpense, "Food", 70, day(3)),
	}
	got := totals(TopExpenses(txs))
	if got["Other"] != 100 || got["Food"] != 70 || len(got) != 2 {
		t.Fatalf("unexpected totals %v", got)
	}
}

func TestTopExpensesEmpty(t *testing.T) {
	if got := TopExpenses(nil); len(got) != 0 {
		t.Fatalf("expected no rows, got %+v", got)
	}
	onlyIncome := []core.Transaction{tx(core.KindIncome, "Salary", 100, day(1))}
	if got := TopExpenses(onlyIncome); len(got) != 0 {
		t.Fatalf("expected no rows, got %+v", got)
	}
}

func TestShareGuardsZeroDivisor(t *testing.T) {
	if share(10, 0) != 0 || share(0, 10) != 0 || share(5, -1) != 0 {
		t.Fatal("share must be zero for non-positive inputs")
	}
	if share(1, 3) != 33 || share(2, 3) != 67 {
		t.Fatalf("unexpected rounding %d %d", share(1, 3), share(2, 3))
	}
}

func TestTopExpensesLargeTotals(t *testing.T) {
	txs := []core.Transaction{
		tx(core.KindExpense, "Food", 2e17, day(1)),
		tx(core.KindExpense, "Transport", 1e17, day(2)),
	}
	got := TopExpenses(txs)
	if len(got) != 2 || got[0].Share != 100 || got[1].Share != 50 {
		t.Fatalf("shares = %+v, want Food 100 and Transport 50", got)
	}
}

func TestSumsSaturate(t *testing.T) {
	txs := []core.Transaction{
		tx(core.KindIncome, "Salary", math.MaxInt64, day(1)),
		tx(core.KindIncome, "Salary", math.MaxInt64, day(2)),
		tx(core.KindExpense, "Food", math.MaxInt64, day(3)),
		tx(core.KindExpense, "Food", math.MaxInt64, day(4)),
	}
	d := Build(core.Account{UserID: "alice"}, txs)
	if d.TotalIncome.Cents != math.MaxInt64 || d.TotalExpense.Cents != math.MaxInt64 {
		t.Fatalf("totals wrapped: income %d, expense %d", d.TotalIncome.Cents, d.TotalExpense.Cents)
	}
	if len(d.TopExpenses) != 1 || d.TopExpenses[0].Total.Cents != math.MaxInt64 || d.TopExpenses[0].Share != 100 {
		t.Fatalf("category total wrapped: %+v", d.TopExpenses)
	}
	trend := BalanceTrend(txs)
	if trend[1].Value.Cents != math.MaxInt64 {
		t.Fatalf("trend wrapped upward: %d", trend[1].Value.Cents)
	}
	if trend[2].Value.Cents != 0 || trend[3].Value.Cents != -math.MaxInt64 {
		t.Fatalf("trend after clamping = %d, %d", trend[2].Value.Cents, trend[3].Value.Cents)
	}
	if addCents(math.MinInt64, -1) != math.MinInt64 || addCents(2, -3) != -1 {
		t.Fatal("addCents must clamp only at the bounds")
	}
}

func TestBalanceTrendKeepsLastFive(t *testing.T) {
	// Seven transactions, deliberately out of order.
	txs := []core.Transaction{
		tx(core.KindIncome, "Salary", 1000, day(7)),
		tx(core.KindIncome, "Salary", 9999, day(1)),
		tx(core.KindExpense, "Food", 200, day(5)),
		tx(core.KindExpense, "Food", 8888, day(2)),
		tx(core.KindIncome, "Business", 300, day(3)),
		tx(core.KindExpense, "Transport", 100, day(6)),
		tx(core.KindIncome, "Investment", 50, day(4)),
	}
	got := BalanceTrend(txs)
	if len(got) != TrendWindow {
		t.Fatalf("got %d points, want %d", len(got), TrendWindow)
	}
	wantLabels := []string{"2024-06-03", "2024-06-04", "2024-06-05", "2024-06-06", "2024-06-07"}
	wantValues := []int64{300, 350, 150, 50, 1050}
	for i := range got {
		if got[i].Label != wantLabels[i] || got[i].Value.Cents != wantValues[i] {
			t.Fatalf("point %d = (%s, %d), want (%s, %d)", i, got[i].Label, got[i].Value.Cents, wantLabels[i], wantValues[i])
		}
	}
}

func TestBalanceTrendNeverExceedsWindow(t *testing.T) {
	for n := 0; n < 20; n++ {
		txs := make([]core.Transaction, n)
		for i := range txs {
			txs[i] = tx(core.KindIncome, "Salary", 100, core.Date{Time: time.Unix(int64(i)*86400, 0)})
		}
		if got := BalanceTrend(txs); len(got) > TrendWindow || len(got) != min(n, TrendWindow) {
			t.Fatalf("n=%d: %d points", n, len(got))
		}
	}
}

func TestBalanceTrendSkipsUndated(t *testing.T) {
	txs := []core.Transaction{
		tx(core.KindIncome, "Salary", 500, core.Date{}),
		tx(core.KindExpense, "Food", 200, day(2)),
	}
	got := BalanceTrend(txs)
	if len(got) != 1 || got[0].Value.Cents != -200 || got[0].Delta.Cents != -200 {
		t.Fatalf("unexpected trend %+v", got)
	}
}

func TestTrendSeriesPlaceholder(t *testing.T) {
	got := TrendSeries(nil)
	if len(got) != 1 || !got[0].Placeholder || got[0].Value.Cents != 0 {
		t.Fatalf("expected a single placeholder, got %+v", got)
	}
	if got := TrendSeries([]core.Transaction{tx(core.KindIncome, "Salary", 1, day(1))}); got[0].Placeholder {
		t.Fatal("placeholder with data present")
	}
}

func TestDerivationsArePure(t *testing.T) {
	txs := []core.Transaction{
		tx(core.KindExpense, "Food", 100, day(3)),
		tx(core.KindIncome, "Salary", 900, day(1)),
		tx(core.KindExpense, "Transport", 80, day(2)),
	}
	before := append([]core.Transaction(nil), txs...)

	first := Build(core.Account{UserID: "alice"}, txs)
	second := Build(core.Account{UserID: "alice"}, txs)
	_ = Filter(txs, Query{SortBy: SortByAmount})

	if !reflect.DeepEqual(first, second) {
		t.Fatal("Build is not deterministic")
	}
	if !reflect.DeepEqual(before, txs) {
		t.Fatal("input was mutated")
	}
}

func TestRecentRecords(t *testing.T) {
	txs := []core.Transaction{
		tx(core.KindExpense, "Food", 1, day(1)),
		tx(core.KindExpense, "Food", 2, core.Date{}),
		tx(core.KindExpense, "Food", 3, day(4)),
		tx(core.KindExpense, "Food", 4, day(3)),
		tx(core.KindExpense, "Food", 5, day(2)),
	}
	got := RecentRecords(txs, 0)
	if len(got) != RecentLimit {
		t.Fatalf("got %d, want %d", len(got), RecentLimit)
	}
	if got[0].Amount.Cents != 3 || got[1].Amount.Cents != 4 || got[2].Amount.Cents != 5 {
		t.Fatalf("unexpected order %+v", got)
	}
	if all := RecentRecords(txs, 10); all[len(all)-1].Amount.Cents != 2 {
		t.Fatal("undated record should sort last")
	}
}

func TestFilter(t *testing.T) {
	txs := []core.Transaction{
		tx(core.KindExpense, "Food", 500, day(1)),
		tx(core.KindIncome, "Salary", 100, day(3)),
		tx(core.KindExpense, "Food", 900, day(2)),
		tx(core.KindExpense, "Gadgets", 50, day(4)),
	}

	cases := []struct {
		name string
		q    Query
		want []int64
	}{
		{"all by date", Query{Category: "All"}, []int64{50, 100, 900, 500}},
		{"empty category", Query{SortBy: SortByDate}, []int64{50, 100, 900, 500}},
		{"food by amount", Query{Category: "food", SortBy: SortByAmount}, []int64{900, 500}},
		{"other matches legacy", Query{Category: "Other"}, []int64{50}},
		{"income only", Query{Kind: core.KindIncome}, []int64{100}},
		{"no match", Query{Category: "Health"}, []int64{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Filter(txs, tc.q)
			amounts := make([]int64, len(got))
			for i, g := range got {
				amounts[i] = g.Amount.Cents
			}
			if !reflect.DeepEqual(amounts, tc.want) {
				t.Fatalf("got %v, want %v", amounts, tc.want)
			}
		})
	}
}

func TestParseSortBy(t *testing.T) {
	if ParseSortBy("Amount") != SortByAmount || ParseSortBy("") != SortByDate || ParseSortBy("bogus") != SortByDate {
		t.Fatal("unexpected ParseSortBy mapping")
	}
}

func TestBuildTotals(t *testing.T) {
	txs := []core.Transaction{
		tx(core.KindIncome, "Salary", 20000, day(1)),
		tx(core.KindExpense, "Food", 5000, day(2)),
	}
	d := Build(core.Account{UserID: "alice", CashBalance: core.Cents(15000)}, txs)
	if d.TotalIncome.Cents != 20000 || d.TotalExpense.Cents != 5000 || d.Transactions != 2 {
		t.Fatalf("unexpected totals %+v", d)
	}
	if len(d.Trend) != 2 || d.Trend[1].Value.Cents != 15000 {
		t.Fatalf("unexpected trend %+v", d.Trend)
	}
}
