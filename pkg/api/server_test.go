package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"bank-gateway/pkg/account"
	"bank-gateway/pkg/bank"
	"bank-gateway/pkg/bank/banktest"
	"bank-gateway/pkg/metrics/memory"
	"bank-gateway/pkg/ratelimit"
	"bank-gateway/pkg/session"
)

var refNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.Local)

type testEnv struct {
	srv     *Server
	store   *account.MemoryStore
	backend *banktest.Backend
	mc      *memory.MemoryCollector
}

func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	store := account.NewMemoryStore()
	backend := banktest.NewBackend()
	mc := memory.NewMemoryCollector()

	manager := session.NewManager(backend.Factory(), account.PlainVault{}, session.Config{}, nil, mc)
	deps := Deps{
		Accounts: store,
		Service:  session.NewService(manager, nil, mc),
		Metrics:  mc,
		Now:      func() time.Time { return refNow },
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &testEnv{
		srv:     NewServer(deps, DefaultServerConfig()),
		store:   store,
		backend: backend,
		mc:      mc,
	}
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

type testEnvelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	ErrorType string          `json:"error_type"`
	Error     string          `json:"error"`
	Auth      json.RawMessage `json:"auth"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return env
}

// createAccount registers an account and returns its id and token.
func (e *testEnv) createAccount(t *testing.T, username, password string) (int64, string) {
	t.Helper()
	rec := e.do(http.MethodPost, "/api/accounts", `{"username":"`+username+`","password":"`+password+`"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var created accountCreated
	if err := json.Unmarshal(decode(t, rec).Data, &created); err != nil {
		t.Fatal(err)
	}
	return created.ID, created.Token
}

func TestServer_Health(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, "/health", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", body["status"])
	}
	if _, ok := body["sessions"]; !ok {
		t.Error("Expected the session count in the health response")
	}
}

func TestServer_IndexAndNotFound(t *testing.T) {
	e := newTestEnv(t)

	if rec := e.do(http.MethodGet, "/", "", nil); rec.Code != http.StatusOK {
		t.Errorf("index returned %d", rec.Code)
	}

	rec := e.do(http.MethodGet, "/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
	if env := decode(t, rec); env.Success || env.Message != "endpoint not found" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodPatch, "/health", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestServer_SecurityHeadersAndRequestID(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, "/nope", "", nil)

	for k, v := range securityHeaders {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected a generated request id")
	}

	rec = e.do(http.MethodGet, "/health", "", map[string]string{RequestIDHeader: "abc-123"})
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("Expected the incoming request id to be echoed, got %q", got)
	}
}

func TestServer_CreateThenGetHidesPassword(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/accounts", `{"username":"u1","password":"p1"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	env := decode(t, rec)
	var created accountCreated
	json.Unmarshal(env.Data, &created)
	if created.ID == 0 || len(created.Token) != 64 || created.Status != account.StatusActive {
		t.Fatalf("unexpected created account %+v", created)
	}
	if !strings.Contains(string(env.Auth), `"type":"Bearer"`) {
		t.Errorf("Expected token usage hints, got %s", env.Auth)
	}

	rec = e.do(http.MethodGet, "/api/accounts/"+strconv.FormatInt(created.ID, 10), "", bearer(created.Token))
	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if strings.Contains(body, "password") || strings.Contains(body, `"p1"`) {
		t.Errorf("password exposed: %s", body)
	}
	var got account.View
	json.Unmarshal(decode(t, rec).Data, &got)
	if got.Username != "u1" || got.ID != created.ID {
		t.Errorf("unexpected account %+v", got)
	}
}

func TestServer_CreateValidation(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing password", `{"username":"u1"}`, http.StatusBadRequest},
		{"markup", `{"username":"<u1>","password":"p"}`, http.StatusBadRequest},
		{"too long", `{"username":"` + strings.Repeat("a", 1001) + `","password":"p"}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := e.do(http.MethodPost, "/api/accounts", tt.body, nil); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestServer_InvalidJSON(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodPost, "/api/accounts", `{"username":`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if env := decode(t, rec); env.Error != "invalid_json_format" || env.Success {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestServer_TokenLocations(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.createAccount(t, "u1", "p1")

	requests := map[string]func() *httptest.ResponseRecorder{
		"bearer": func() *httptest.ResponseRecorder {
			return e.do(http.MethodGet, "/api/accounts/me", "", bearer(token))
		},
		"api key": func() *httptest.ResponseRecorder {
			return e.do(http.MethodGet, "/api/accounts/me", "", map[string]string{"X-API-Key": token})
		},
		"query": func() *httptest.ResponseRecorder {
			return e.do(http.MethodGet, "/api/accounts/me?token="+token, "", nil)
		},
	}

	for name, do := range requests {
		rec := do()
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", name, rec.Code)
		}
		var v account.View
		json.Unmarshal(decode(t, rec).Data, &v)
		if v.Username != "u1" {
			t.Errorf("%s: resolved %q", name, v.Username)
		}
		if v.Token != "" {
			t.Errorf("%s: /me must not echo the token", name)
		}
	}

	if rec := e.do(http.MethodGet, "/api/accounts/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a credential, got %d", rec.Code)
	}
	if rec := e.do(http.MethodGet, "/api/accounts/me", "", bearer("bad$token")); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a malformed credential, got %d", rec.Code)
	}
}

func TestServer_IDValidation(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.createAccount(t, "u1", "p1")

	for _, id := range []string{"abc", "0", "1000001", "-1"} {
		if rec := e.do(http.MethodGet, "/api/accounts/"+id, "", bearer(token)); rec.Code != http.StatusBadRequest {
			t.Errorf("id %q: status %d", id, rec.Code)
		}
	}
	if rec := e.do(http.MethodGet, "/api/accounts/999", "", bearer(token)); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for a missing account, got %d", rec.Code)
	}
}

func TestServer_UpdateAccount(t *testing.T) {
	e := newTestEnv(t)
	id, token := e.createAccount(t, "u1", "p1")
	path := "/api/accounts/" + strconv.FormatInt(id, 10)

	if rec := e.do(http.MethodPut, path, `{}`, bearer(token)); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an empty update, got %d", rec.Code)
	}
	if rec := e.do(http.MethodPut, path, `{"status":"frozen"}`, bearer(token)); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown status, got %d", rec.Code)
	}

	rec := e.do(http.MethodPut, path, `{"password":"p2"}`, bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", rec.Code, rec.Body.String())
	}
	var v account.View
	json.Unmarshal(decode(t, rec).Data, &v)
	if v.Token == "" || v.Token == token {
		t.Fatal("Expected a password change to rotate the token")
	}
	if rec := e.do(http.MethodGet, "/api/accounts/me", "", bearer(token)); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected the old token to stop working, got %d", rec.Code)
	}

	newToken := v.Token
	if rec := e.do(http.MethodPut, path, `{"status":"locked"}`, bearer(newToken)); rec.Code != http.StatusOK {
		t.Fatalf("lock returned %d", rec.Code)
	}
	rec = e.do(http.MethodGet, "/api/accounts/me", "", bearer(newToken))
	if rec.Code != http.StatusUnauthorized || decode(t, rec).Message != "account is locked" {
		t.Errorf("Expected locked account to be rejected, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_DeleteAccount(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.createAccount(t, "admin", "p")
	id, _ := e.createAccount(t, "u1", "p1")
	path := "/api/accounts/" + strconv.FormatInt(id, 10)

	if rec := e.do(http.MethodDelete, path, "", bearer(token)); rec.Code != http.StatusOK {
		t.Fatalf("delete returned %d", rec.Code)
	}
	if rec := e.do(http.MethodDelete, path, "", bearer(token)); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", rec.Code)
	}

	rec := e.do(http.MethodGet, "/api/accounts", "", bearer(token))
	var list []account.View
	json.Unmarshal(decode(t, rec).Data, &list)
	if len(list) != 1 || list[0].Username != "admin" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestServer_CreateExistingWithNewPassword(t *testing.T) {
	e := newTestEnv(t)
	id, oldToken := e.createAccount(t, "u1", "p1")

	rec := e.do(http.MethodPost, "/api/accounts", `{"username":"u1","password":"p2"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var created accountCreated
	json.Unmarshal(decode(t, rec).Data, &created)
	if created.ID != id || created.Token == oldToken {
		t.Errorf("Expected the same id and a new token, got %+v", created)
	}

	acc, _ := e.store.FindByID(context.Background(), id)
	if acc.Password != "p2" || acc.Token != created.Token {
		t.Errorf("stored account not updated: %+v", acc)
	}
	if e.backend.LoginCalls() != 1 {
		t.Errorf("Expected a fresh login, got %d", e.backend.LoginCalls())
	}
	cfgs := e.backend.Configs()
	if len(cfgs) == 0 || cfgs[len(cfgs)-1].Password != "p2" {
		t.Errorf("Expected the relogin to use the new password, got %+v", cfgs)
	}
}

func TestServer_CreateExistingSamePasswordReportsStatus(t *testing.T) {
	e := newTestEnv(t)
	e.backend.LoginFunc = func(context.Context, bank.Config) (json.RawMessage, error) {
		return nil, errors.New("GW21: Customer is invalid")
	}
	_, oldToken := e.createAccount(t, "u1", "p1")

	rec := e.do(http.MethodPost, "/api/accounts", `{"username":"u1","password":"p1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	env := decode(t, rec)
	if env.Success || env.ErrorType != string(bank.ErrorInvalidCredentials) {
		t.Errorf("unexpected envelope %+v", env)
	}
	var created accountCreated
	json.Unmarshal(env.Data, &created)
	if created.Token == oldToken {
		t.Error("Expected the token to be rotated")
	}
}

func TestServer_LoginByID(t *testing.T) {
	e := newTestEnv(t)
	id, _ := e.createAccount(t, "u1", "p1")
	path := "/api/mbbank/" + strconv.FormatInt(id, 10) + "/login"

	rec := e.do(http.MethodPost, path, "", nil)
	if rec.Code != http.StatusOK || !decode(t, rec).Success {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}

	e.backend.LoginFunc = func(context.Context, bank.Config) (json.RawMessage, error) {
		return nil, errors.New("Customer is invalid")
	}
	rec = e.do(http.MethodPost, path, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}
	if env := decode(t, rec); env.ErrorType != string(bank.ErrorInvalidCredentials) {
		t.Errorf("error_type = %q", env.ErrorType)
	}

	if rec := e.do(http.MethodPost, "/api/mbbank/42/login", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown id, got %d", rec.Code)
	}
}

func TestServer_Status(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.createAccount(t, "u1", "p1")

	rec := e.do(http.MethodGet, "/api/mbbank/me/status", "", bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("status returned %d: %s", rec.Code, rec.Body.String())
	}

	e.backend.BalanceFunc = func(context.Context, bank.Config) (json.RawMessage, error) {
		return nil, errors.New("Customer is invalid")
	}
	rec = e.do(http.MethodGet, "/api/mbbank/me/status", "", bearer(token))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}
	env := decode(t, rec)
	if env.ErrorType != string(bank.ErrorInvalidCredentials) || !strings.Contains(env.Message, "update") {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestServer_Balance(t *testing.T) {
	e := newTestEnv(t)
	id, token := e.createAccount(t, "u1", "p1")

	for _, path := range []string{"/api/mbbank/me/balance", "/api/mbbank/" + strconv.FormatInt(id, 10) + "/balance"} {
		rec := e.do(http.MethodGet, path, "", bearer(token))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s returned %d: %s", path, rec.Code, rec.Body.String())
		}
		if env := decode(t, rec); string(env.Data) != string(banktest.BalancePayload) {
			t.Errorf("%s: data = %s", path, env.Data)
		}
	}
	if e.backend.LoginCalls() != 1 || e.backend.BalanceCalls() != 2 {
		t.Errorf("Expected the session to be reused, got %d logins", e.backend.LoginCalls())
	}
}

func TestServer_BalanceErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		typ  bank.ErrorType
	}{
		{"invalid credentials", errors.New("Customer is invalid"), http.StatusUnauthorized, bank.ErrorInvalidCredentials},
		{"unavailable", bank.ErrUnavailable, http.StatusServiceUnavailable, bank.ErrorUnavailable},
		{"timeout", bank.ErrTimeout, http.StatusGatewayTimeout, bank.ErrorTimeout},
		{"session expired", errors.New("session gone"), http.StatusBadGateway, bank.ErrorSessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			_, token := e.createAccount(t, "u1", "p1")
			e.backend.BalanceFunc = func(context.Context, bank.Config) (json.RawMessage, error) {
				return nil, tt.err
			}

			rec := e.do(http.MethodGet, "/api/mbbank/me/balance", "", bearer(token))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			env := decode(t, rec)
			if env.Success || env.ErrorType != string(tt.typ) {
				t.Errorf("unexpected envelope %+v", env)
			}
		})
	}
}

func TestServer_TransactionsByDays(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.createAccount(t, "u1", "p1")

	var mu sync.Mutex
	var got bank.TransactionParams
	e.backend.TransactionsFunc = func(_ context.Context, _ bank.Config, p bank.TransactionParams) (json.RawMessage, error) {
		mu.Lock()
		got = p
		mu.Unlock()
		return banktest.TransactionsPayload, nil
	}

	rec := e.do(http.MethodGet, "/api/mbbank/me/transactions/days?accountNumber=0123456789&days=7", "", bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	mu.Lock()
	defer mu.Unlock()
	want := bank.TransactionParams{AccountNumber: "0123456789", FromDate: "09/03/2024", ToDate: "15/03/2024"}
	if got != want {
		t.Errorf("params = %+v, want %+v", got, want)
	}
}

func TestDaysRange(t *testing.T) {
	tests := []struct {
		days     int
		from, to string
	}{
		{1, "15/03/2024", "15/03/2024"},
		{7, "09/03/2024", "15/03/2024"},
		{30, "15/02/2024", "15/03/2024"},
	}
	for _, tt := range tests {
		from, to := DaysRange(refNow, tt.days)
		if from != tt.from || to != tt.to {
			t.Errorf("DaysRange(%d) = %s..%s, want %s..%s", tt.days, from, to, tt.from, tt.to)
		}
	}
}

func TestServer_TransactionValidation(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.createAccount(t, "u1", "p1")

	tests := []struct {
		name  string
		query string
	}{
		{"from after to", "accountNumber=12345&fromDate=10/03/2024&toDate=01/03/2024"},
		{"span over 90 days", "accountNumber=12345&fromDate=01/11/2023&toDate=15/03/2024"},
		{"future toDate", "accountNumber=12345&fromDate=10/03/2024&toDate=16/03/2024"},
		{"bad calendar date", "accountNumber=12345&fromDate=30/02/2024&toDate=01/03/2024"},
		{"bad format", "accountNumber=12345&fromDate=2024-03-01&toDate=01/03/2024"},
		{"short account number", "accountNumber=1234&fromDate=01/03/2024&toDate=02/03/2024"},
		{"missing dates", "accountNumber=12345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(http.MethodGet, "/api/mbbank/me/transactions?"+tt.query, "", bearer(token))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d: %s", rec.Code, rec.Body.String())
			}
		})
	}

	for _, q := range []string{"accountNumber=12345&days=0", "accountNumber=12345&days=91", "accountNumber=12345&days=abc", "accountNumber=12345"} {
		if rec := e.do(http.MethodGet, "/api/mbbank/me/transactions/days?"+q, "", bearer(token)); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", q, rec.Code)
		}
	}

	if e.backend.TransactionsCalls() != 0 || e.backend.LoginCalls() != 0 {
		t.Error("Expected validation to reject before any backend call")
	}

	rec := e.do(http.MethodGet, "/api/mbbank/me/transactions?accountNumber=12345&fromDate=15/12/2023&toDate=14/03/2024", "", bearer(token))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected a 90 day range ending yesterday to pass, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_Logout(t *testing.T) {
	e := newTestEnv(t)
	id, token := e.createAccount(t, "u1", "p1")

	e.do(http.MethodGet, "/api/mbbank/me/balance", "", bearer(token))
	if n := e.srv.deps.Service.Manager().Len(); n != 1 {
		t.Fatalf("Expected a cached session, got %d", n)
	}

	rec := e.do(http.MethodPost, "/api/mbbank/"+strconv.FormatInt(id, 10)+"/logout", "", bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("logout returned %d", rec.Code)
	}
	if n := e.srv.deps.Service.Manager().Len(); n != 0 {
		t.Errorf("Expected the session to be dropped, got %d", n)
	}
}

func TestServer_RateLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Limit: 2, Window: time.Minute}, nil)
	e := newTestEnv(t, func(d *Deps) { d.Limiter = limiter })

	for i := 0; i < 2; i++ {
		rec := e.do(http.MethodGet, "/health", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("missing rate limit headers: %v", rec.Header())
		}
	}

	rec := e.do(http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("unexpected headers %v", rec.Header())
	}
	if env := decode(t, rec); env.Success || env.Message == "" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestServer_HTTPMetricsUseRouteTemplate(t *testing.T) {
	e := newTestEnv(t)
	id, token := e.createAccount(t, "u1", "p1")

	e.do(http.MethodGet, "/api/accounts/"+strconv.FormatInt(id, 10), "", bearer(token))
	e.do(http.MethodGet, "/missing", "", nil)

	if got := e.mc.HTTPRequests(http.MethodGet, "/api/accounts/{id}", http.StatusOK); got != 1 {
		t.Errorf("Expected 1 request on the route template, got %d", got)
	}
	if got := e.mc.HTTPRequests(http.MethodGet, "unmatched", http.StatusNotFound); got != 1 {
		t.Errorf("Expected 1 unmatched request, got %d", got)
	}
}

func TestServer_RecoversPanics(t *testing.T) {
	e := newTestEnv(t)
	h := e.srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
	if env := decode(t, rec); env.Success || env.Message != "internal server error" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestServer_StartStop(t *testing.T) {
	config := DefaultServerConfig()
	config.Address = "127.0.0.1:0"
	s := NewServer(Deps{Accounts: account.NewMemoryStore()}, config)

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestDefaultServerConfig(t *testing.T) {
	c := DefaultServerConfig()
	if c.Address != "0.0.0.0:3000" || c.MaxBodyBytes != 1<<20 {
		t.Errorf("unexpected defaults %+v", c)
	}
}
