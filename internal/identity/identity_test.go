package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware(t *testing.T) {
	cases := []struct {
		name   string
		header string
		value  string
		want   string
		ok     bool
	}{
		{"default header", "", "alice", "alice", true},
		{"custom header", "X-Auth-Subject", "bob", "bob", true},
		{"trimmed", "", "  carol ", "carol", true},
		{"missing", "", "", "", false},
		{"blank", "", "   ", "", false},
		{"control characters", "", "al\tice", "", false},
		{"too long", "", strings.Repeat("a", 200), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			var ok bool
			h := Middleware(tc.header)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, ok = Provider{}.CurrentUserID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			name := tc.header
			if name == "" {
				name = DefaultHeader
			}
			if tc.value != "" {
				req.Header.Set(name, tc.value)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if ok != tc.ok || got != tc.want {
				t.Fatalf("got (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestFromContextEmpty(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no identity on a bare context")
	}
	if _, ok := FromContext(NewContext(context.Background(), "")); ok {
		t.Fatal("empty id must not count as an identity")
	}
}
