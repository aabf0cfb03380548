package http

import (
	"time"

	"capitalguard/internal/core"
	"capitalguard/internal/ledger"
	"capitalguard/internal/viewmodel"
)

// Money fields are decimal strings with two places; the *_cents twins are
// exact integers for clients that prefer them.

type AccountResponse struct {
	UserID           string    `json:"user_id"`
	Email            string    `json:"email"`
	FirstName        string    `json:"first_name,omitempty"`
	LastName         string    `json:"last_name,omitempty"`
	DisplayName      string    `json:"display_name"`
	ProfileURL       string    `json:"profile_url,omitempty"`
	CashBalance      string    `json:"cash_balance"`
	CashBalanceCents int64     `json:"cash_balance_cents"`
	CreatedAt        time.Time `json:"created_at"`
}

func newAccountResponse(a core.Account) AccountResponse {
	return AccountResponse{
		UserID:           a.UserID,
		Email:            a.Email,
		FirstName:        a.FirstName,
		LastName:         a.LastName,
		DisplayName:      a.DisplayName(),
		ProfileURL:       a.ProfileURL,
		CashBalance:      decimalString(a.CashBalance),
		CashBalanceCents: a.CashBalance.Cents,
		CreatedAt:        a.CreatedAt,
	}
}

type TransactionResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      string    `json:"amount"`
	AmountCents int64     `json:"amount_cents"`
	Category    string    `json:"category"`
	RawCategory string    `json:"raw_category,omitempty"`
	Date        string    `json:"date,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ReversalOf  string    `json:"reversal_of,omitempty"`
}

func newTransactionResponse(tx core.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:          tx.ID,
		Type:        string(tx.Kind),
		Amount:      decimalString(tx.Amount),
		AmountCents: tx.Amount.Cents,
		Category:    tx.Category.Display(),
		CreatedAt:   tx.CreatedAt,
		ReversalOf:  tx.ReversalOf,
	}
	if !tx.Category.Known {
		resp.RawCategory = tx.Category.Name
	}
	if !tx.Date.IsEmpty() {
		resp.Date = tx.Date.Label()
	}
	return resp
}

func newTransactionList(txs []core.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, newTransactionResponse(tx))
	}
	return out
}

// ChangeResponse answers every mutating transaction call.
type ChangeResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	Account     AccountResponse     `json:"account"`
}

func newChangeResponse(c ledger.Change) ChangeResponse {
	return ChangeResponse{
		Transaction: newTransactionResponse(c.Transaction),
		Account:     newAccountResponse(c.Account),
	}
}

type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Count        int                   `json:"count"`
}

type CategoryGroup struct {
	Type  string   `json:"type"`
	Names []string `json:"names"`
}

type CategoriesResponse struct {
	Categories []CategoryGroup `json:"categories"`
}

type CategoryTotalResponse struct {
	Category   string `json:"category"`
	Total      string `json:"total"`
	TotalCents int64  `json:"total_cents"`
	Share      int    `json:"share"`
}

type TrendPointResponse struct {
	Label       string `json:"label"`
	Delta       string `json:"delta"`
	Value       string `json:"value"`
	ValueCents  int64  `json:"value_cents"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

type DashboardResponse struct {
	Account          AccountResponse         `json:"account"`
	TopExpenses      []CategoryTotalResponse `json:"top_expenses"`
	Trend            []TrendPointResponse    `json:"trend"`
	Recent           []TransactionResponse   `json:"recent"`
	TransactionCount int                     `json:"transaction_count"`
	TotalIncome      string                  `json:"total_income"`
	TotalExpense     string                  `json:"total_expense"`
}

func newDashboardResponse(d viewmodel.Dashboard) DashboardResponse {
	resp := DashboardResponse{
		Account:          newAccountResponse(d.Account),
		TopExpenses:      make([]CategoryTotalResponse, 0, len(d.TopExpenses)),
		Trend:            make([]TrendPointResponse, 0, len(d.Trend)),
		Recent:           newTransactionList(d.Recent),
		TransactionCount: d.Transactions,
		TotalIncome:      decimalString(d.TotalIncome),
		TotalExpense:     decimalString(d.TotalExpense),
	}
	for _, ct := range d.TopExpenses {
		resp.TopExpenses = append(resp.TopExpenses, CategoryTotalResponse{
			Category:   ct.Category,
			Total:      decimalString(ct.Total),
			TotalCents: ct.Total.Cents,
			Share:      ct.Share,
		})
	}
	for _, p := range d.Trend {
		resp.Trend = append(resp.Trend, TrendPointResponse{
			Label:       p.Label,
			Delta:       decimalString(p.Delta),
			Value:       decimalString(p.Value),
			ValueCents:  p.Value.Cents,
			Placeholder: p.Placeholder,
		})
	}
	return resp
}
