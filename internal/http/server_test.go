package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"finpulse/internal/auth"
	"finpulse/internal/dashboard"
	"finpulse/internal/gateway"
	"finpulse/internal/middleware/ratelimit"
	"finpulse/internal/store/memory"
)

type captureMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *captureMailer) SendPasswordReset(_ context.Context, _, _, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

func (m *captureMailer) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.links) == 0 {
		return ""
	}
	return m.links[len(m.links)-1]
}

type testEnv struct {
	srv    *Server
	store  *memory.Store
	mailer *captureMailer
}

func newTestEnv(t *testing.T, mod func(*Deps)) *testEnv {
	t.Helper()
	st := memory.New()
	reg := dashboard.NewRegistry(st, 16, time.Hour)
	mailer := &captureMailer{}
	deps := Deps{
		Accounts:  auth.NewLocal(auth.NewMemoryDirectory(), auth.WithBcryptCost(bcrypt.MinCost), auth.WithMailer(mailer)),
		Tokens:    auth.NewTokens("test-secret", time.Hour),
		Gateway:   gateway.New(st),
		Registry:  reg,
		RateLimit: ratelimit.Config{RequestsPerMinute: 6000, Burst: 1000},
	}
	if mod != nil {
		mod(&deps)
	}
	srv, err := NewServer(":0", deps)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		reg.Close()
		st.Close()
	})
	return &testEnv{srv: srv, store: st, mailer: mailer}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signUp(t *testing.T, email string) (string, auth.Identity) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/signup", "", `{"email":"`+email+`","password":"secret1","displayName":"Test"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d body = %s", rec.Code, rec.Body)
	}
	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token, resp.User
}

// eventually polls fn until it reports true or two seconds pass.
func eventually(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	ready := errors.New("db down")
	env := newTestEnv(t, func(d *Deps) {
		d.Ready = func(context.Context) error { return ready }
	})

	if rec := env.do(t, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/readyz", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with failing store = %d", rec.Code)
	}
	ready = nil
	rec := env.do(t, http.MethodGet, "/readyz", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("middleware headers missing: %v", rec.Header())
	}
}

func TestNewServer_RequiresDeps(t *testing.T) {
	if _, err := NewServer(":0", Deps{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/api/dashboard", "/api/transactions", "/api/me", "/api/stream"} {
		t.Run(path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, path, "", "")
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d", rec.Code)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate")
			}
		})
	}
	if rec := env.do(t, http.MethodGet, "/api/dashboard", "not-a-token", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d", rec.Code)
	}
}

func TestSignInFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	token, id := env.signUp(t, "ada@example.com")

	rec := env.do(t, http.MethodGet, "/api/me", token, "")
	if rec.Code != http.StatusOK || decode[auth.Identity](t, rec).ID != id.ID {
		t.Fatalf("me = %d %s", rec.Code, rec.Body)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"wrong password", `{"email":"ada@example.com","password":"nope123"}`, http.StatusUnauthorized},
		{"unknown account", `{"email":"bob@example.com","password":"secret1"}`, http.StatusUnauthorized},
		{"malformed body", `{"email":`, http.StatusUnprocessableEntity},
		{"unknown field", `{"email":"ada@example.com","password":"secret1","admin":true}`, http.StatusUnprocessableEntity},
		{"correct password", `{"email":"ada@example.com","password":"secret1"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/auth/signin", "", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
			}
		})
	}

	// both denials read the same
	a := env.do(t, http.MethodPost, "/api/auth/signin", "", tests[0].body).Body.String()
	b := env.do(t, http.MethodPost, "/api/auth/signin", "", tests[1].body).Body.String()
	if a != b {
		t.Errorf("denials differ: %q vs %q", a, b)
	}

	if rec := env.do(t, http.MethodPost, "/api/auth/signout", token, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("signout = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/me", token, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked token still accepted: %d", rec.Code)
	}
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signUp(t, "ada@example.com")
	rec := env.do(t, http.MethodPost, "/api/auth/signup", "", `{"email":"ada@example.com","password":"secret1"}`)
	if rec.Code != http.StatusUnprocessableEntity || decode[errorBody](t, rec).Field != "email" {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
}

func TestPasswordReset(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signUp(t, "ada@example.com")

	for _, email := range []string{"ada@example.com", "ghost@example.com"} {
		rec := env.do(t, http.MethodPost, "/api/auth/reset", "", `{"email":"`+email+`"}`)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("reset for %s = %d", email, rec.Code)
		}
	}
	token := env.mailer.last()
	if token == "" {
		t.Fatal("no reset mail sent")
	}

	body := `{"token":"` + token + `","password":"brandnew"}`
	if rec := env.do(t, http.MethodPost, "/api/auth/reset/confirm", "", body); rec.Code != http.StatusNoContent {
		t.Fatalf("confirm = %d %s", rec.Code, rec.Body)
	}
	if rec := env.do(t, http.MethodPost, "/api/auth/reset/confirm", "", body); rec.Code != http.StatusBadRequest {
		t.Errorf("reused token = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/auth/signin", "", `{"email":"ada@example.com","password":"brandnew"}`); rec.Code != http.StatusOK {
		t.Errorf("sign in with new password = %d", rec.Code)
	}
}

func TestProviderSignIn_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/auth/google", "", `{"credential":"x"}`)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTransactionsAndDashboard(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.signUp(t, "ada@example.com")

	submit := []string{
		`{"title":"Salary","amount":3000,"type":"income","category":"Salary","method":"online"}`,
		`{"title":"Groceries","amount":"42.50","type":"expense","category":"food & dining","method":"cash"}`,
	}
	for _, body := range submit {
		if rec := env.do(t, http.MethodPost, "/api/transactions", token, body); rec.Code != http.StatusAccepted {
			t.Fatalf("submit = %d %s", rec.Code, rec.Body)
		}
	}
	if rec := env.do(t, http.MethodPost, "/api/quick/fuel", token, ""); rec.Code != http.StatusAccepted {
		t.Fatalf("quick log = %d %s", rec.Code, rec.Body)
	}

	var view dashboard.View
	eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/dashboard", token, "")
		view = decode[dashboard.View](t, rec)
		return view.Totals.Income.Cents == 3000_00 && view.Totals.Expense.Cents == 42_50+1000_00
	})
	if view.Balance.Cents != 3000_00-42_50-1000_00 {
		t.Errorf("balance = %d", view.Balance.Cents)
	}
	if !view.Goal.Default || view.Goal.Name != "MacBook Pro M4" {
		t.Errorf("goal = %+v", view.Goal)
	}

	rec := env.do(t, http.MethodGet, "/api/transactions?search=groc", token, "")
	type listed struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Category string `json:"category"`
	}
	list := decode[[]listed](t, rec)
	if len(list) != 1 || list[0].Title != "Groceries" || list[0].Category != "Food & Dining" {
		t.Fatalf("filtered list = %+v", list)
	}

	id := list[0].ID
	if rec := env.do(t, http.MethodPatch, "/api/transactions/"+id, token, `{"amount":50}`); rec.Code != http.StatusAccepted {
		t.Fatalf("edit = %d %s", rec.Code, rec.Body)
	}
	eventually(t, func() bool {
		v := decode[dashboard.View](t, env.do(t, http.MethodGet, "/api/dashboard", token, ""))
		return v.Totals.Expense.Cents == 50_00+1000_00
	})

	if rec := env.do(t, http.MethodDelete, "/api/transactions/"+id, token, ""); rec.Code != http.StatusAccepted {
		t.Fatalf("delete = %d", rec.Code)
	}
	eventually(t, func() bool {
		return len(decode[[]listed](t, env.do(t, http.MethodGet, "/api/transactions", token, ""))) == 2
	})
}

func TestTransactionRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.signUp(t, "ada@example.com")

	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		wantCode  int
		wantField string
	}{
		{"negative amount", http.MethodPost, "/api/transactions", `{"title":"x","amount":-1,"type":"expense"}`, 422, "amount"},
		{"amount not a number", http.MethodPost, "/api/transactions", `{"title":"x","amount":"abc","type":"expense"}`, 422, "amount"},
		{"empty title", http.MethodPost, "/api/transactions", `{"title":"  ","amount":1,"type":"expense"}`, 422, "title"},
		{"bad type", http.MethodPost, "/api/transactions", `{"title":"x","amount":1,"type":"gift"}`, 422, "type"},
		{"unknown quick action", http.MethodPost, "/api/quick/yacht", ``, 422, "action"},
		{"empty patch", http.MethodPatch, "/api/transactions/abc", `{}`, 422, "patch"},
		{"missing record", http.MethodDelete, "/api/transactions/nope", ``, 404, ""},
		{"goal without target", http.MethodPut, "/api/goal", `{"goalName":"Bike","goalAmount":0}`, 422, "goalAmount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, token, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
			}
			if tt.wantField != "" {
				if got := decode[errorBody](t, rec).Field; got != tt.wantField {
					t.Errorf("field = %q, want %q", got, tt.wantField)
				}
			}
		})
	}
}

func TestOwnerIsolation(t *testing.T) {
	env := newTestEnv(t, nil)
	alice, _ := env.signUp(t, "alice@example.com")
	bob, _ := env.signUp(t, "bob@example.com")

	if rec := env.do(t, http.MethodPost, "/api/transactions", alice, `{"title":"Rent","amount":900,"type":"expense","category":"Rent"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("submit = %d", rec.Code)
	}

	type listed struct {
		ID string `json:"id"`
	}
	var ids []listed
	eventually(t, func() bool {
		ids = decode[[]listed](t, env.do(t, http.MethodGet, "/api/transactions", alice, ""))
		return len(ids) == 1
	})

	if rec := env.do(t, http.MethodDelete, "/api/transactions/"+ids[0].ID, bob, ""); rec.Code != http.StatusNotFound {
		t.Errorf("bob deleting alice's record = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPatch, "/api/transactions/"+ids[0].ID, bob, `{"title":"mine"}`); rec.Code != http.StatusNotFound {
		t.Errorf("bob editing alice's record = %d", rec.Code)
	}
	if got := decode[[]listed](t, env.do(t, http.MethodGet, "/api/transactions", bob, "")); len(got) != 0 {
		t.Errorf("bob sees %d records", len(got))
	}
}

func TestGoalLimitsAndPreferences(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.signUp(t, "ada@example.com")

	if rec := env.do(t, http.MethodPut, "/api/goal", token, `{"goalName":"Bike","goalAmount":1200}`); rec.Code != http.StatusAccepted {
		t.Fatalf("save goal = %d %s", rec.Code, rec.Body)
	}
	eventually(t, func() bool {
		g := decode[dashboard.GoalView](t, env.do(t, http.MethodGet, "/api/goal", token, ""))
		return g.Name == "Bike" && !g.Default && g.Target.Cents == 1200_00
	})

	if rec := env.do(t, http.MethodPut, "/api/limits", token, `{"daily":0,"monthly":100}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("zero daily limit = %d", rec.Code)
	}
	rec := env.do(t, http.MethodPut, "/api/limits", token, `{"daily":20,"monthly":600}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("limits = %d %s", rec.Code, rec.Body)
	}
	if st := decode[dashboard.State](t, rec); st.Limits.Daily.Cents != 20_00 {
		t.Errorf("daily limit = %d", st.Limits.Daily.Cents)
	}

	rec = env.do(t, http.MethodPatch, "/api/preferences", token, `{"theme":"light","tab":"nowhere"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad tab = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPatch, "/api/preferences", token, `{"tab":"analytics","filter":{"search":" bus ","category":"transport"}}`)
	st := decode[dashboard.State](t, rec)
	if st.Theme != dashboard.ThemeDark {
		t.Errorf("rejected request changed theme to %s", st.Theme)
	}
	if st.Tab != dashboard.TabAnalytics || st.Filter.Search != "bus" || st.Filter.Category != "Transport" {
		t.Errorf("state = %+v", st)
	}

	rec = env.do(t, http.MethodPost, "/api/preferences/theme/toggle", token, "")
	if decode[dashboard.State](t, rec).Theme != dashboard.ThemeLight {
		t.Errorf("toggle = %s", rec.Body)
	}
}

func TestCatalogue(t *testing.T) {
	env := newTestEnv(t, nil)
	cats := decode[categoryList](t, env.do(t, http.MethodGet, "/api/categories", "", ""))
	if len(cats.Income) == 0 || len(cats.Expense) == 0 {
		t.Errorf("categories = %+v", cats)
	}
	actions := decode[[]quickActionBody](t, env.do(t, http.MethodGet, "/api/quick-actions", "", ""))
	if len(actions) != 4 || actions[0].Label != "Food" {
		t.Errorf("quick actions = %+v", actions)
	}
}

func TestRateLimitOnWrites(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.RateLimit = ratelimit.Config{RequestsPerMinute: 1, Burst: 1}
	})
	body := `{"email":"ada@example.com","password":"secret1"}`
	env.do(t, http.MethodPost, "/api/auth/signin", "", body)
	rec := env.do(t, http.MethodPost, "/api/auth/signin", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second write = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Errorf("reads should not be limited, got %d", rec.Code)
	}
}

func TestStream(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.signUp(t, "ada@example.com")

	ts := httptest.NewServer(env.srv.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream?access_token="+token, nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("stream status = %d type = %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	events := make(chan dashboard.View, 16)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for sc.Scan() {
			data, ok := strings.CutPrefix(sc.Text(), "data: ")
			if !ok {
				continue
			}
			var v dashboard.View
			if json.Unmarshal([]byte(data), &v) == nil {
				events <- v
			}
		}
	}()

	if rec := env.do(t, http.MethodPost, "/api/transactions", token, `{"title":"Gift","amount":25,"type":"income","category":"Gift"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("submit = %d", rec.Code)
	}
	for {
		select {
		case v, ok := <-events:
			if !ok {
				t.Fatal("stream ended early")
			}
			if v.Balance.Cents == 25_00 {
				return
			}
		case <-ctx.Done():
			t.Fatal("no view with the new record arrived")
		}
	}
}
