package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"capitalguard/internal/core"
	"capitalguard/internal/log"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports whether the backend answers within readyTimeout.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	kinds := []core.Kind{core.KindExpense, core.KindIncome}
	if t := r.URL.Query().Get("type"); t != "" {
		kind, err := core.ParseKind(t)
		if err != nil {
			writeError(w, r, err)
			return
		}
		kinds = []core.Kind{kind}
	}
	resp := CategoriesResponse{Categories: make([]CategoryGroup, 0, len(kinds))}
	for _, k := range kinds {
		resp.Categories = append(resp.Categories, CategoryGroup{Type: string(k), Names: core.Categories(k)})
	}
	_ = NewResponse().JSON(resp).Write(w)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := s.store.CurrentUserID(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req RegisterAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeBodyError(w, r, err)
		return
	}
	account, err := s.store.RegisterAccount(ctx, req.Registration(userID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.projector.Invalidate(userID)
	_ = NewResponse().Status(http.StatusCreated).JSON(newAccountResponse(account)).Write(w)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.AccountForCurrentUser(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = NewResponse().JSON(newAccountResponse(account)).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeBodyError(w, r, err)
		return
	}
	entry, err := req.Entry()
	if err != nil {
		writeError(w, r, err)
		return
	}
	change, err := s.store.ApplyForCurrentUser(r.Context(), entry)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = NewResponse().Status(http.StatusCreated).JSON(newChangeResponse(change)).Write(w)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	change, err := s.store.ReverseForCurrentUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = NewResponse().Status(http.StatusCreated).JSON(newChangeResponse(change)).Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := s.store.CurrentUserID(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := ParseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := s.projector.Transactions(ctx, userID, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = NewResponse().JSON(TransactionListResponse{
		Transactions: newTransactionList(txs),
		Count:        len(txs),
	}).Write(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := s.store.CurrentUserID(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dashboard, err := s.projector.Dashboard(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = NewResponse().JSON(newDashboardResponse(dashboard)).Write(w)
}

// writeBodyError distinguishes unreadable bodies (400, 413) from bodies
// whose fields fail validation (422).
func (s *Server) writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		_ = ErrorResponse(http.StatusRequestEntityTooLarge, CodeMalformedRequest, "request body too large").Write(w)
	case errors.Is(err, errMalformed):
		_ = ErrorResponse(http.StatusBadRequest, CodeMalformedRequest, err.Error()).Write(w)
	default:
		writeError(w, r, err)
	}
}
