// Package identity resolves the acting user of a request. Authentication
// happens upstream; this package only trusts the header it is told to.
package identity

import (
	"context"
	"net/http"
	"strings"

	"capitalguard/internal/ledger"
)

// DefaultHeader carries the authenticated user id when none is configured.
const DefaultHeader = "X-User-ID"

const maxUserIDLength = 128

type contextKey struct{}

// NewContext returns a copy of ctx acting as userID.
func NewContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// FromContext returns the user id stored by NewContext or Middleware.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Provider implements ledger.IdentityProvider over request contexts.
type Provider struct{}

var _ ledger.IdentityProvider = Provider{}

func (Provider) CurrentUserID(ctx context.Context) (string, bool) {
	return FromContext(ctx)
}

// Middleware copies a valid user id from header into the request context.
// Requests without one pass through anonymous; the ledger rejects them.
func Middleware(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := parseUserID(r.Header.Get(header)); ok {
				r = r.WithContext(NewContext(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseUserID(raw string) (string, bool) {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxUserIDLength {
		return "", false
	}
	for _, c := range id {
		if c < 0x21 || c == 0x7f {
			return "", false
		}
	}
	return id, true
}
