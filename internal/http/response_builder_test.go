package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"capitalguard/internal/core"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{core.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
		{fmt.Errorf("%w: %q", core.ErrInvalidKind, "gift"), http.StatusUnprocessableEntity, "invalid_type"},
		{core.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{core.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
		{core.ErrInsufficientFunds, http.StatusConflict, "insufficient_funds"},
		{core.ErrEmailTaken, http.StatusConflict, "email_taken"},
		{fmt.Errorf("%w: %w", core.ErrStorageUnavailable, io.ErrUnexpectedEOF), http.StatusServiceUnavailable, "storage_unavailable"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := statusFor(tt.err)
			if status != tt.status || code != tt.code {
				t.Fatalf("statusFor(%v) = %d %q, want %d %q", tt.err, status, code, tt.status, tt.code)
			}
		})
	}
}

func TestResponseBuilder(t *testing.T) {
	rr := httptest.NewRecorder()
	err := NewResponse().
		Status(http.StatusCreated).
		Header("X-Test", "1").
		JSON(map[string]string{"ok": "yes"}).
		Write(rr)
	if err != nil {
		t.Fatal(err)
	}
	if rr.Code != http.StatusCreated || rr.Header().Get("X-Test") != "1" {
		t.Fatalf("unexpected response %d %v", rr.Code, rr.Header())
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	if strings.TrimSpace(rr.Body.String()) != `{"ok":"yes"}` {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	_ = NewResponse().Status(http.StatusNoContent).Write(rr)
	if rr.Code != http.StatusNoContent || rr.Body.Len() != 0 || rr.Header().Get("Content-Type") != "" {
		t.Fatalf("bodiless response should stay empty, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rr := httptest.NewRecorder()
	writeError(rr, req, errors.New("pq: password authentication failed"))
	if rr.Code != http.StatusInternalServerError || strings.Contains(rr.Body.String(), "password") {
		t.Fatalf("internal error leaked: %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	writeError(rr, req, core.ErrInsufficientFunds)
	if !strings.Contains(rr.Body.String(), `"error":"insufficient funds"`) {
		t.Fatalf("domain errors keep their message: %s", rr.Body.String())
	}
}
