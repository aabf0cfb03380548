// Package viewmodel derives display aggregates from a transaction set.
//
// Every function here is pure: it never mutates its input and returns the
// same output for the same input.
package viewmodel

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"capitalguard/internal/core"
)

const (
	// TopExpenseLimit is how many categories TopExpenses returns.
	TopExpenseLimit = 3
	// TrendWindow is how many dated transactions the trend covers.
	TrendWindow = 5
	// RecentLimit is the default size of the recent-records list.
	RecentLimit = 3
)

// CategoryTotal is one row of the top-expenses breakdown. Share is the
// total as a whole percentage of the largest row, for bar widths.
type CategoryTotal struct {
	Category string
	Total    core.Money
	Share    int
}

// TopExpenses sums expenses per category and returns the largest three,
// biggest first. Categories with equal totals keep the order in which
// they first appear in txs. Unknown legacy categories are grouped as
// Other.
func TopExpenses(txs []core.Transaction) []CategoryTotal {
	var groups []CategoryTotal
	index := make(map[string]int)
	for _, tx := range txs {
		if tx.Kind != core.KindExpense {
			continue
		}
		name := tx.Category.Display()
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, CategoryTotal{Category: name})
		}
		groups[i].Total.Cents = addCents(groups[i].Total.Cents, tx.Amount.Cents)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Total.Cents > groups[j].Total.Cents
	})
	if len(groups) > TopExpenseLimit {
		groups = groups[:TopExpenseLimit]
	}

	if len(groups) > 0 {
		largest := groups[0].Total.Cents
		for i := range groups {
			groups[i].Share = share(groups[i].Total.Cents, largest)
		}
	}
	return groups
}

// share is part/whole as a rounded percentage, 0 when whole is not positive.
func share(part, whole int64) int {
	if whole <= 0 || part <= 0 {
		return 0
	}
	return int(decimal.NewFromInt(part).Shift(2).DivRound(decimal.NewFromInt(whole), 0).IntPart())
}

// addCents adds without wrapping, clamping at the int64 bounds.
func addCents(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	}
	return a + b
}

// TrendPoint is one step of the balance trend.
type TrendPoint struct {
	Label       string
	Date        time.Time
	Delta       core.Money
	Value       core.Money
	Placeholder bool
}

// BalanceTrend is the trailing relative trend over the most recent dated
// transactions. Undated entries are skipped, the rest are ordered by date
// (ties keep input order) and the last TrendWindow are summed cumulatively
// starting from zero. The values are movements within the window, not the
// historical account balance.
func BalanceTrend(txs []core.Transaction) []TrendPoint {
	dated := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if !tx.Date.IsEmpty() {
			dated = append(dated, tx)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].Date.Before(dated[j].Date.Time)
	})
	if len(dated) > TrendWindow {
		dated = dated[len(dated)-TrendWindow:]
	}

	points := make([]TrendPoint, 0, len(dated))
	var running int64
	for _, tx := range dated {
		running = addCents(running, tx.Delta())
		points = append(points, TrendPoint{
			Label: tx.Date.Label(),
			Date:  tx.Date.UTC(),
			Delta: core.Cents(tx.Delta()),
			Value: core.Cents(running),
		})
	}
	return points
}

// TrendSeries is BalanceTrend with a single neutral point when there is
// nothing to plot.
func TrendSeries(txs []core.Transaction) []TrendPoint {
	points := BalanceTrend(txs)
	if len(points) == 0 {
		return []TrendPoint{{Placeholder: true}}
	}
	return points
}

// RecentRecords returns up to n transactions, newest first. Undated
// entries sort last.
func RecentRecords(txs []core.Transaction, n int) []core.Transaction {
	if n <= 0 {
		n = RecentLimit
	}
	out := sortedCopy(txs, byDateDesc)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// SortBy selects the ordering of a filtered listing.
type SortBy string

const (
	SortByDate   SortBy = "date"
	SortByAmount SortBy = "amount"
)

// AllCategories matches every category in a Query.
const AllCategories = "All"

// Query filters and orders a transaction listing.
type Query struct {
	Category string
	Kind     core.Kind
	SortBy   SortBy
}

// ParseSortBy maps user input to a SortBy, defaulting to date.
func ParseSortBy(s string) SortBy {
	if SortBy(strings.ToLower(strings.TrimSpace(s))) == SortByAmount {
		return SortByAmount
	}
	return SortByDate
}

// Filter keeps the transactions matching q and orders them: newest first
// for SortByDate, largest first for SortByAmount. Category matching uses
// the display name, so "Other" also matches legacy categories.
func Filter(txs []core.Transaction, q Query) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if q.Kind != "" && tx.Kind != q.Kind {
			continue
		}
		if q.Category != "" && !strings.EqualFold(q.Category, AllCategories) &&
			!strings.EqualFold(q.Category, tx.Category.Display()) {
			continue
		}
		out = append(out, tx)
	}
	if q.SortBy == SortByAmount {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Amount.Cents > out[j].Amount.Cents })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return byDateDesc(out[i], out[j]) })
	}
	return out
}

func byDateDesc(a, b core.Transaction) bool {
	if a.Date.IsEmpty() != b.Date.IsEmpty() {
		return b.Date.IsEmpty()
	}
	return a.Date.After(b.Date.Time)
}

func sortedCopy(txs []core.Transaction, less func(a, b core.Transaction) bool) []core.Transaction {
	out := make([]core.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Dashboard is everything the home screen shows.
type Dashboard struct {
	Account      core.Account
	TopExpenses  []CategoryTotal
	Trend        []TrendPoint
	Recent       []core.Transaction
	Transactions int
	TotalIncome  core.Money
	TotalExpense core.Money
}

// Build assembles the dashboard for account from its transactions.
func Build(account core.Account, txs []core.Transaction) Dashboard {
	d := Dashboard{
		Account:      account,
		TopExpenses:  TopExpenses(txs),
		Trend:        TrendSeries(txs),
		Recent:       RecentRecords(txs, RecentLimit),
		Transactions: len(txs),
	}
	for _, tx := range txs {
		if tx.Kind == core.KindIncome {
			d.TotalIncome.Cents = addCents(d.TotalIncome.Cents, tx.Amount.Cents)
		} else {
			d.TotalExpense.Cents = addCents(d.TotalExpense.Cents, tx.Amount.Cents)
		}
	}
	return d
}
