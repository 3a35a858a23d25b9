package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bank-gateway/pkg/account"
	"bank-gateway/pkg/apperr"
	"bank-gateway/pkg/metrics/memory"
)

func TestExtractTokenPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		auth   string
		apiKey string
		query  string
		want   string
	}{
		{"bearer wins", "Bearer b-tok", "k-tok", "q-tok", "b-tok"},
		{"bearer trimmed", "Bearer   b-tok  ", "", "", "b-tok"},
		{"blank bearer falls through", "Bearer   ", "k-tok", "q-tok", "k-tok"},
		{"non-bearer scheme ignored", "Basic abc", "k-tok", "", "k-tok"},
		{"api key trimmed", "", "  k-tok ", "q-tok", "k-tok"},
		{"blank api key falls through", "", "   ", "q-tok", "q-tok"},
		{"query", "", "", "q-tok", "q-tok"},
		{"blank query", "", "", "%20", ""},
		{"nothing", "", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.query != "" {
				target = "/?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			if tt.apiKey != "" {
				req.Header.Set("X-API-Key", tt.apiKey)
			}
			if got := ExtractToken(req); got != tt.want {
				t.Errorf("ExtractToken = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractTokenMalformedInput(t *testing.T) {
	if got := ExtractToken(nil); got != "" {
		t.Errorf("Expected empty token for nil request, got %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.RawQuery = "token=%zz&token"
	if got := ExtractToken(req); got != "" {
		t.Errorf("Expected malformed query to be ignored, got %q", got)
	}
}

func TestWellFormed(t *testing.T) {
	good := []string{"abc", "A-b_c.9", "0123456789abcdef"}
	bad := []string{"", "a b", "a/b", "tok=", "tok<script>", "tôk"}

	for _, s := range good {
		if !WellFormed(s) {
			t.Errorf("Expected %q to be well formed", s)
		}
	}
	for _, s := range bad {
		if WellFormed(s) {
			t.Errorf("Expected %q to be rejected", s)
		}
	}
}

func newAuthenticator(t *testing.T) (*Authenticator, *account.MemoryStore, *memory.MemoryCollector) {
	t.Helper()
	store := account.NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &account.Account{Username: "active", Password: "p", Token: "tok-active"})
	store.Create(ctx, &account.Account{Username: "locked", Password: "p", Token: "tok-locked", Status: account.StatusLocked})
	store.Create(ctx, &account.Account{Username: "inactive", Password: "p", Token: "tok-inactive", Status: account.StatusInactive})

	mc := memory.NewMemoryCollector()
	return NewAuthenticator(store, nil, mc), store, mc
}

func TestAuthenticateAnyLocation(t *testing.T) {
	a, _, _ := newAuthenticator(t)

	reqs := map[string]*http.Request{
		"bearer": httptest.NewRequest(http.MethodGet, "/", nil),
		"apikey": httptest.NewRequest(http.MethodGet, "/", nil),
		"query":  httptest.NewRequest(http.MethodGet, "/?token=tok-active", nil),
	}
	reqs["bearer"].Header.Set("Authorization", "Bearer tok-active")
	reqs["apikey"].Header.Set("X-API-Key", "tok-active")

	for name, req := range reqs {
		acc, err := a.Authenticate(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if acc.Username != "active" {
			t.Errorf("%s: resolved %q", name, acc.Username)
		}
	}
}

func TestAuthenticateFailures(t *testing.T) {
	a, _, mc := newAuthenticator(t)

	tests := []struct {
		name    string
		token   string
		kind    apperr.Kind
		message string
	}{
		{"missing", "", apperr.KindUnauthorized, "no credential presented"},
		{"malformed", "bad$token", apperr.KindBadRequest, "malformed credential"},
		{"unknown", "nope", apperr.KindUnauthorized, "invalid or expired credential"},
		{"locked", "tok-locked", apperr.KindUnauthorized, "account is locked"},
		{"inactive", "tok-inactive", apperr.KindUnauthorized, "account is inactive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				req.Header.Set("X-API-Key", tt.token)
			}
			_, err := a.Authenticate(context.Background(), req)
			e, ok := apperr.As(err)
			if !ok {
				t.Fatalf("Expected *apperr.Error, got %v", err)
			}
			if e.Kind != tt.kind || e.Message != tt.message {
				t.Errorf("got %v %q", e.Kind, e.Message)
			}
		})
	}

	snap := mc.Snapshot()
	if snap.AuthOutcomes[OutcomeInactive] != 2 || snap.AuthOutcomes[OutcomeMissing] != 1 {
		t.Errorf("auth outcomes = %v", snap.AuthOutcomes)
	}
}

type brokenStore struct{ account.Store }

func (brokenStore) FindByToken(context.Context, string) (*account.Account, error) {
	return nil, errors.New("db down")
}

func TestAuthenticateStoreError(t *testing.T) {
	a := NewAuthenticator(brokenStore{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/?token=abc", nil)

	_, err := a.Authenticate(context.Background(), req)
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Errorf("Expected internal error, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	a, _, _ := newAuthenticator(t)

	var seen *account.Account
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
	})
	writeErr := func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(apperr.KindOf(err).StatusCode())
	}
	h := a.Middleware(writeErr)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok-active")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen == nil || seen.Username != "active" {
		t.Fatalf("status %d, principal %+v", rec.Code, seen)
	}

	seen = nil
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
	if seen != nil {
		t.Error("Expected the handler not to run")
	}
}

func TestPrincipalFromEmptyContext(t *testing.T) {
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Error("Expected no principal")
	}
	if _, ok := PrincipalFrom(WithPrincipal(context.Background(), nil)); ok {
		t.Error("Expected a nil principal to be reported as absent")
	}
}
