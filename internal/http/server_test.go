package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"capitalguard/internal/cache"
	"capitalguard/internal/identity"
	"capitalguard/internal/ledger"
	"capitalguard/internal/storage/memory"
	"capitalguard/internal/viewmodel"
)

type testServer struct {
	*Server
	backend *memory.Backend
}

func newTestServer(t *testing.T, opts Options) testServer {
	t.Helper()
	backend := memory.New()
	store := ledger.New(backend, ledger.WithIdentity(identity.Provider{}))
	projector := viewmodel.NewProjector(store, cache.NewLRUCache[viewmodel.Snapshot](100, time.Minute), nil)
	store.Subscribe(projector)
	if opts.RateLimitPerMinute == 0 {
		opts.RateLimitPerMinute = 1000
	}
	srv := NewServer(":0", store, projector, nil, opts)
	t.Cleanup(srv.limiter.Stop)
	return testServer{Server: srv, backend: backend}
}

func (s testServer) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(identity.DefaultHeader, user)
	}
	rr := httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T from %q: %v", v, rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	if code != "" {
		if got := decode[ErrorBody](t, rr).Code; got != code {
			t.Fatalf("expected error code %q, got %q", code, got)
		}
	}
}

func register(t *testing.T, s testServer, user string) {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/v1/accounts", user, `{"email":"`+user+`@example.com","first_name":"Test"}`)
	expectStatus(t, rr, http.StatusCreated, "")
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, Options{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := s.do(t, http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	_ = s.backend.Close()
	if rr := s.do(t, http.MethodGet, "/readyz", "", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz on a closed backend: expected 503, got %d", rr.Code)
	}
}

func TestLedgerScenarioOverHTTP(t *testing.T) {
	s := newTestServer(t, Options{})
	register(t, s, "alice")

	// The dashboard of a fresh account has a zero balance and a placeholder trend.
	dash := decode[DashboardResponse](t, s.do(t, http.MethodGet, "/api/v1/dashboard", "alice", ""))
	if dash.Account.CashBalance != "0.00" || len(dash.TopExpenses) != 0 {
		t.Fatalf("unexpected empty dashboard %+v", dash)
	}
	if len(dash.Trend) != 1 || !dash.Trend[0].Placeholder {
		t.Fatalf("expected a single placeholder trend point, got %+v", dash.Trend)
	}

	// Spending before any income overdraws and must leave no trace.
	rr := s.do(t, http.MethodPost, "/api/v1/transactions", "alice", `{"type":"expense","amount":50,"category":"Food","date":"2025-03-01"}`)
	expectStatus(t, rr, http.StatusConflict, "insufficient_funds")

	rr = s.do(t, http.MethodPost, "/api/v1/transactions", "alice", `{"type":"income","amount":"200","category":"Salary","date":"2025-03-01"}`)
	expectStatus(t, rr, http.StatusCreated, "")
	income := decode[ChangeResponse](t, rr)
	if income.Account.CashBalance != "200.00" || income.Transaction.Amount != "200.00" {
		t.Fatalf("unexpected change %+v", income)
	}

	rr = s.do(t, http.MethodPost, "/api/v1/transactions", "alice", `{"type":"expense","amount":"50,00","category":"food","date":"2025-03-02"}`)
	expectStatus(t, rr, http.StatusCreated, "")
	expense := decode[ChangeResponse](t, rr)
	if expense.Account.CashBalanceCents != 15000 || expense.Transaction.Category != "Food" {
		t.Fatalf("unexpected change %+v", expense)
	}

	dash = decode[DashboardResponse](t, s.do(t, http.MethodGet, "/api/v1/dashboard", "alice", ""))
	if dash.Account.CashBalance != "150.00" || dash.TransactionCount != 2 {
		t.Fatalf("unexpected dashboard %+v", dash)
	}
	if len(dash.TopExpenses) != 1 || dash.TopExpenses[0].Category != "Food" || dash.TopExpenses[0].Total != "50.00" {
		t.Fatalf("unexpected top expenses %+v", dash.TopExpenses)
	}
	if len(dash.Trend) != 2 || dash.Trend[1].Value != "150.00" || dash.Trend[1].Label != "2025-03-02" {
		t.Fatalf("unexpected trend %+v", dash.Trend)
	}

	acct := decode[AccountResponse](t, s.do(t, http.MethodGet, "/api/v1/account", "alice", ""))
	if acct.CashBalance != "150.00" || acct.DisplayName != "Test" {
		t.Fatalf("unexpected account %+v", acct)
	}

	// Reversing the income would overdraw after the expense.
	rr = s.do(t, http.MethodPost, "/api/v1/transactions/"+income.Transaction.ID+"/reversal", "alice", "")
	expectStatus(t, rr, http.StatusConflict, "insufficient_funds")

	rr = s.do(t, http.MethodPost, "/api/v1/transactions/"+expense.Transaction.ID+"/reversal", "alice", "")
	expectStatus(t, rr, http.StatusCreated, "")
	reversal := decode[ChangeResponse](t, rr)
	if reversal.Account.CashBalance != "200.00" || reversal.Transaction.ReversalOf != expense.Transaction.ID || reversal.Transaction.Type != "income" {
		t.Fatalf("unexpected reversal %+v", reversal)
	}

	rr = s.do(t, http.MethodPost, "/api/v1/transactions/"+expense.Transaction.ID+"/reversal", "alice", "")
	expectStatus(t, rr, http.StatusConflict, "already_reversed")
	rr = s.do(t, http.MethodPost, "/api/v1/transactions/"+reversal.Transaction.ID+"/reversal", "alice", "")
	expectStatus(t, rr, http.StatusConflict, "not_reversible")
	rr = s.do(t, http.MethodPost, "/api/v1/transactions/missing/reversal", "alice", "")
	expectStatus(t, rr, http.StatusNotFound, "transaction_not_found")

	// Another user cannot see or reverse alice's records.
	register(t, s, "bob")
	rr = s.do(t, http.MethodPost, "/api/v1/transactions/"+income.Transaction.ID+"/reversal", "bob", "")
	expectStatus(t, rr, http.StatusNotFound, "transaction_not_found")
	list := decode[TransactionListResponse](t, s.do(t, http.MethodGet, "/api/v1/transactions", "bob", ""))
	if list.Count != 0 || list.Transactions == nil {
		t.Fatalf("bob should see an empty, non-null list: %+v", list)
	}
}

func TestListTransactionsFilters(t *testing.T) {
	s := newTestServer(t, Options{})
	register(t, s, "alice")
	for _, body := range []string{
		`{"type":"income","amount":500,"category":"Salary","date":"2025-01-01"}`,
		`{"type":"expense","amount":20,"category":"Food","date":"2025-01-03"}`,
		`{"type":"expense","amount":90,"category":"Transport","date":"2025-01-02"}`,
		`{"type":"expense","amount":5,"category":"Lottery","date":"2025-01-04"}`,
	} {
		expectStatus(t, s.do(t, http.MethodPost, "/api/v1/transactions", "alice", body), http.StatusCreated, "")
	}

	cases := []struct {
		query string
		want  []string
	}{
		{"", []string{"5.00", "20.00", "90.00", "500.00"}},
		{"?sort=amount", []string{"500.00", "90.00", "20.00", "5.00"}},
		{"?category=Food", []string{"20.00"}},
		{"?category=All&type=expense&sort=amount", []string{"90.00", "20.00", "5.00"}},
		{"?category=other", []string{"5.00"}},
		{"?category=Health", nil},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			rr := s.do(t, http.MethodGet, "/api/v1/transactions"+tc.query, "alice", "")
			expectStatus(t, rr, http.StatusOK, "")
			list := decode[TransactionListResponse](t, rr)
			if list.Count != len(tc.want) {
				t.Fatalf("expected %d transactions, got %+v", len(tc.want), list.Transactions)
			}
			for i, amount := range tc.want {
				if list.Transactions[i].Amount != amount {
					t.Fatalf("position %d: expected %s, got %s", i, amount, list.Transactions[i].Amount)
				}
			}
		})
	}

	rr := s.do(t, http.MethodGet, "/api/v1/transactions?category=Other", "alice", "")
	lottery := decode[TransactionListResponse](t, rr).Transactions[0]
	if lottery.Category != "Other" || lottery.RawCategory != "Lottery" {
		t.Fatalf("unknown category should display as Other and keep its raw name: %+v", lottery)
	}

	rr = s.do(t, http.MethodGet, "/api/v1/transactions?type=gift", "alice", "")
	expectStatus(t, rr, http.StatusUnprocessableEntity, "invalid_type")
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, Options{})
	register(t, s, "alice")

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		status int
		code   string
	}{
		{"no identity", http.MethodGet, "/api/v1/account", "", "", http.StatusUnauthorized, "unauthenticated"},
		{"no identity on write", http.MethodPost, "/api/v1/transactions", "", `{"type":"income","amount":1}`, http.StatusUnauthorized, "unauthenticated"},
		{"unknown account", http.MethodGet, "/api/v1/account", "ghost", "", http.StatusNotFound, "account_not_found"},
		{"unknown account dashboard", http.MethodGet, "/api/v1/dashboard", "ghost", "", http.StatusNotFound, "account_not_found"},
		{"unknown account apply", http.MethodPost, "/api/v1/transactions", "ghost", `{"type":"income","amount":1}`, http.StatusNotFound, "account_not_found"},
		{"malformed json", http.MethodPost, "/api/v1/transactions", "alice", `{"type":`, http.StatusBadRequest, CodeMalformedRequest},
		{"unknown field", http.MethodPost, "/api/v1/transactions", "alice", `{"type":"income","amount":1,"memo":"x"}`, http.StatusBadRequest, CodeMalformedRequest},
		{"trailing data", http.MethodPost, "/api/v1/transactions", "alice", `{"type":"income","amount":1}{}`, http.StatusBadRequest, CodeMalformedRequest},
		{"bad amount", http.MethodPost, "/api/v1/transactions", "alice", `{"type":"income","amount":"abc"}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"zero amount", http.MethodPost, "/api/v1/transactions", "alice", `{"type":"income","amount":0}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"negative amount", http.MethodPost, "/api/v1/transactions", "alice", `{"type":"income","amount":-5}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"missing amount", http.MethodPost, "/api/v1/transactions", "alice", `{"type":"income"}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"bad type", http.MethodPost, "/api/v1/transactions", "alice", `{"type":"gift","amount":1}`, http.StatusUnprocessableEntity, "invalid_type"},
		{"bad date", http.MethodPost, "/api/v1/transactions", "alice", `{"type":"income","amount":1,"date":"03/01/2025"}`, http.StatusUnprocessableEntity, "invalid_date"},
		{"duplicate account", http.MethodPost, "/api/v1/accounts", "alice", `{"email":"other@example.com"}`, http.StatusConflict, "account_exists"},
		{"email taken", http.MethodPost, "/api/v1/accounts", "bob", `{"email":"alice@example.com"}`, http.StatusConflict, "email_taken"},
		{"bad email", http.MethodPost, "/api/v1/accounts", "carol", `{"email":"not-an-email"}`, http.StatusUnprocessableEntity, "invalid_account"},
		{"unknown route", http.MethodGet, "/api/v1/nope", "alice", "", http.StatusNotFound, CodeNotFound},
		{"wrong method", http.MethodGet, "/api/v1/accounts", "alice", "", http.StatusMethodNotAllowed, CodeMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectStatus(t, s.do(t, tc.method, tc.path, tc.user, tc.body), tc.status, tc.code)
		})
	}
}

func TestStorageFailureIs503(t *testing.T) {
	s := newTestServer(t, Options{})
	register(t, s, "alice")
	_ = s.backend.Close()

	rr := s.do(t, http.MethodPost, "/api/v1/transactions", "alice", `{"type":"income","amount":1}`)
	expectStatus(t, rr, http.StatusServiceUnavailable, "storage_unavailable")
	if body := decode[ErrorBody](t, rr); body.Error != http.StatusText(http.StatusServiceUnavailable) {
		t.Fatalf("storage detail must not leak to clients: %q", body.Error)
	}
}

func TestCategories(t *testing.T) {
	s := newTestServer(t, Options{})

	all := decode[CategoriesResponse](t, s.do(t, http.MethodGet, "/api/v1/categories", "", ""))
	if len(all.Categories) != 2 || all.Categories[0].Type != "expense" || all.Categories[1].Type != "income" {
		t.Fatalf("unexpected categories %+v", all)
	}
	income := decode[CategoriesResponse](t, s.do(t, http.MethodGet, "/api/v1/categories?type=income", "", ""))
	if len(income.Categories) != 1 || income.Categories[0].Names[0] != "Salary" {
		t.Fatalf("unexpected income categories %+v", income)
	}
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/categories?type=bogus", "", ""), http.StatusUnprocessableEntity, "invalid_type")
}

func TestRateLimitAppliesToWritesOnly(t *testing.T) {
	s := newTestServer(t, Options{RateLimitPerMinute: 2})
	register(t, s, "alice")

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/transactions", "alice", `{"type":"income","amount":1}`), http.StatusCreated, "")
	rr := s.do(t, http.MethodPost, "/api/v1/transactions", "alice", `{"type":"income","amount":1}`)
	expectStatus(t, rr, http.StatusTooManyRequests, CodeRateLimited)
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatal("expected Retry-After header")
	}

	for i := 0; i < 5; i++ {
		expectStatus(t, s.do(t, http.MethodGet, "/api/v1/account", "alice", ""), http.StatusOK, "")
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	s := newTestServer(t, Options{CORSAllowedOrigins: []string{"https://app.example"}})

	rr := s.do(t, http.MethodGet, "/healthz", "", "")
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id")
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/transactions", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-User-ID")
	rr = httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("expected CORS preflight to allow origin, got %q (status %d)", got, rr.Code)
	}

	if rr := s.do(t, "TRACE", "/healthz", "", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("TRACE should be refused, got %d", rr.Code)
	}
}
