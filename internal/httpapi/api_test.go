package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pdifin.org/internal/auth"
	"pdifin.org/internal/stream"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestAPI(t *testing.T, engineOpts ...auth.EngineOption) (*API, *auth.MemoryStore) {
	t.Helper()
	codec, err := auth.NewCodec(testSecret, "pdifin")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	store := auth.NewMemoryStore()
	engine, err := auth.NewEngine(store, codec, engineOpts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	api := New(engine, stream.New(), ReadyProbe{}, "test",
		WithLoginRateLimit(1000, 1000))
	return api, store
}

func seedAccount(t *testing.T, store *auth.MemoryStore, email, password string, role auth.Role) *auth.Account {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	account := &auth.Account{
		Name:         "Test Account",
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	ctx := context.Background()
	if err := store.Accounts(ctx).Create(ctx, account); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func loginHelper(t *testing.T, api *API, email, password string) loginResponse {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/login", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return res
}

func TestLoginEndpoint(t *testing.T) {
	api, store := newTestAPI(t)
	seedAccount(t, store, "alice@example.org", "Passw0rd!", auth.RoleCoordinator)

	res := loginHelper(t, api, "alice@example.org", "Passw0rd!")
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("both tokens expected in response")
	}
	if res.TokenType != "bearer" {
		t.Errorf("token_type = %q", res.TokenType)
	}
	if res.Account.Email != "alice@example.org" {
		t.Errorf("account email = %q", res.Account.Email)
	}
}

func TestLoginEndpointWrongPassword(t *testing.T) {
	api, store := newTestAPI(t)
	seedAccount(t, store, "alice@example.org", "Passw0rd!", auth.RoleCoordinator)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/login",
		`{"email":"alice@example.org","password":"nope"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid email or password") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

// Unknown email and wrong password produce byte-identical error payloads
// apart from the request id.
func TestLoginEndpointNoEnumeration(t *testing.T) {
	api, store := newTestAPI(t)
	seedAccount(t, store, "alice@example.org", "Passw0rd!", auth.RoleCoordinator)

	recUnknown := doJSON(t, api.mux, http.MethodPost, "/v1/auth/login",
		`{"email":"nobody@example.org","password":"whatever"}`, nil)
	recWrong := doJSON(t, api.mux, http.MethodPost, "/v1/auth/login",
		`{"email":"alice@example.org","password":"wrong"}`, nil)

	if recUnknown.Code != recWrong.Code {
		t.Fatalf("status differs: %d vs %d", recUnknown.Code, recWrong.Code)
	}
	if recUnknown.Body.String() != recWrong.Body.String() {
		t.Fatalf("bodies differ: %s vs %s", recUnknown.Body.String(), recWrong.Body.String())
	}
}

func TestLoginEndpointValidation(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	cases := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "take me to your leader"},
		{"missing fields", `{}`},
		{"unknown field", `{"email":"a@b.c","password":"x","extra":true}`},
		{"trailing data", `{"email":"a@b.c","password":"x"}{"again":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/v1/auth/login", tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestLoginEndpointLockout(t *testing.T) {
	api, store := newTestAPI(t, auth.WithMaxAttempts(3))
	seedAccount(t, store, "alice@example.org", "Passw0rd!", auth.RoleCoordinator)
	h := api.Handler()

	for i := 0; i < 3; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
			`{"email":"alice@example.org","password":"wrong"}`, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, rec.Code)
		}
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
		`{"email":"alice@example.org","password":"Passw0rd!"}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("locked status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "minutes") {
		t.Errorf("locked body should mention remaining minutes: %s", rec.Body.String())
	}
}

func TestLoginMethodNotAllowed(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/v1/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("Allow = %q, want POST", allow)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	api, store := newTestAPI(t)
	seedAccount(t, store, "alice@example.org", "Passw0rd!", auth.RoleCoordinator)
	login := loginHelper(t, api, "alice@example.org", "Passw0rd!")

	body := fmt.Sprintf(`{"refresh_token":%q}`, login.RefreshToken)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/refresh", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res refreshResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.AccessToken == "" || res.AccessToken == login.AccessToken {
		t.Fatal("refresh must mint a distinct access token")
	}
}

func TestRefreshEndpointRejectsAccessToken(t *testing.T) {
	api, store := newTestAPI(t)
	seedAccount(t, store, "alice@example.org", "Passw0rd!", auth.RoleCoordinator)
	login := loginHelper(t, api, "alice@example.org", "Passw0rd!")

	body := fmt.Sprintf(`{"refresh_token":%q}`, login.AccessToken)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/refresh", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRefreshEndpointGarbageToken(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/refresh",
		`{"refresh_token":"garbage"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	api, store := newTestAPI(t)
	seedAccount(t, store, "alice@example.org", "Passw0rd!", auth.RoleCoordinator)
	login := loginHelper(t, api, "alice@example.org", "Passw0rd!")
	h := api.Handler()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/logout", "", header)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res logoutResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Message == "" || res.LoggedOutAt.IsZero() {
		t.Fatalf("incomplete logout response: %+v", res)
	}

	// Logging out again with the same token is a no-op success.
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/logout", "", header)
	if rec.Code != http.StatusOK {
		t.Fatalf("second logout status = %d", rec.Code)
	}
}

func TestLogoutEndpointMissingToken(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/logout", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMeEndpoint(t *testing.T) {
	api, store := newTestAPI(t)
	account := seedAccount(t, store, "alice@example.org", "Passw0rd!", auth.RoleManager)
	login := loginHelper(t, api, "alice@example.org", "Passw0rd!")
	h := api.Handler()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := doJSON(t, h, http.MethodGet, "/v1/auth/me", "", header)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var summary auth.AccountSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.ID != account.ID || summary.Role != auth.RoleManager {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestMeEndpointUnauthorized(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodGet, "/v1/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer garbage")
	rec = doJSON(t, h, http.MethodGet, "/v1/auth/me", "", header)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d, want 401", rec.Code)
	}

	header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec = doJSON(t, h, http.MethodGet, "/v1/auth/me", "", header)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong scheme: status = %d, want 401", rec.Code)
	}
}

func TestEventsEndpointRequiresAdmin(t *testing.T) {
	api, store := newTestAPI(t)
	seedAccount(t, store, "bob@example.org", "Passw0rd!", auth.RoleReadOnly)
	login := loginHelper(t, api, "bob@example.org", "Passw0rd!")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/v1/auth/events", "", header)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

// A published event must reach an admin subscriber through the full
// middleware chain, headers and frames flushed as they happen.
func TestEventsEndpointDeliversEvents(t *testing.T) {
	codec, _ := auth.NewCodec(testSecret, "pdifin")
	store := auth.NewMemoryStore()
	engine, err := auth.NewEngine(store, codec)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	events := stream.New()
	api := New(engine, events, ReadyProbe{}, "test", WithLoginRateLimit(1000, 1000))
	seedAccount(t, store, "root@example.org", "Passw0rd!", auth.RoleAdmin)
	login := loginHelper(t, api, "root@example.org", "Passw0rd!")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		api.Handler().ServeHTTP(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for events.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed to the stream")
		}
		time.Sleep(5 * time.Millisecond)
	}

	events.Publish(stream.Event{
		Email:     "a***e@example.org",
		Success:   true,
		Reason:    "login succeeded",
		Timestamp: time.Now().UTC(),
	})
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after cancel")
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "data: ") {
		t.Fatalf("no SSE frame in body: %q", body)
	}
	if !strings.Contains(body, "login succeeded") {
		t.Fatalf("published event missing from body: %q", body)
	}
}

func TestHealthAndInfoEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), serviceName) {
		t.Errorf("/healthz body = %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/readyz status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/info", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/v1/info status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"version":"test"`) {
		t.Errorf("/v1/info body = %s", rec.Body.String())
	}
}

func TestRequestIDHeader(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID header must be set")
	}

	header := http.Header{}
	header.Set("X-Request-ID", "client-supplied")
	rec = doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", header)
	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied" {
		t.Fatalf("X-Request-ID = %q, want the client value echoed", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options")
	}
}

func TestRateLimitOnLogin(t *testing.T) {
	codec, _ := auth.NewCodec(testSecret, "pdifin")
	store := auth.NewMemoryStore()
	engine, err := auth.NewEngine(store, codec)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	api := New(engine, stream.New(), ReadyProbe{}, "test", WithLoginRateLimit(1, 2))
	h := api.Handler()

	var limited bool
	for i := 0; i < 5; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
			`{"email":"a@b.c","password":"x"}`, nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("expected 429 after exhausting the per-IP burst")
	}
}

func TestRateLimitPerIP(t *testing.T) {
	codec, _ := auth.NewCodec(testSecret, "pdifin")
	store := auth.NewMemoryStore()
	engine, err := auth.NewEngine(store, codec)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	api := New(engine, stream.New(), ReadyProbe{}, "test", WithLoginRateLimit(1, 1))
	h := api.Handler()

	first := http.Header{"X-Forwarded-For": []string{"198.51.100.1"}}
	var limited bool
	for i := 0; i < 5; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
			`{"email":"a@b.c","password":"x"}`, first)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("expected 429 for the exhausted client")
	}

	// A different client keeps its own bucket and is not throttled.
	other := http.Header{"X-Forwarded-For": []string{"198.51.100.2"}}
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
		`{"email":"a@b.c","password":"x"}`, other)
	if rec.Code == http.StatusTooManyRequests {
		t.Fatalf("second client rate-limited, code = %d", rec.Code)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"", "", false},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("extractBearerToken(%q) = %q, %v; want %q", tc.header, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("extractBearerToken(%q) expected error", tc.header)
		}
	}
}

func TestUnknownPath(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/v2/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestReadyProbeNoDB(t *testing.T) {
	rp := ReadyProbe{}
	if err := rp.Check(context.Background()); err != nil {
		t.Fatalf("nil DB must be ready: %v", err)
	}
}
