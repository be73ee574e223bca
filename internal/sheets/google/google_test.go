package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"finpulse/internal/core"
	"finpulse/internal/log"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const oauthClientJSON = `{"installed":{"client_id":"test","client_secret":"test","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`

// fakeSheets serves the handful of Sheets API calls the client makes.
type fakeSheets struct {
	mu       sync.Mutex
	titles   []string
	added    []string
	headers  map[string][]any
	appended map[string][][]any
	gets     int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/sheet-id"):
		f.gets++
		sheets := make([]map[string]any, 0, len(f.titles))
		for _, title := range f.titles {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": title}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		title := req.Requests[0].AddSheet.Properties.Title
		f.titles = append(f.titles, title)
		f.added = append(f.added, title)
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-id"})

	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		var vr gsheet.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.headers[sheetOf(path)] = vr.Values[0]
		_ = json.NewEncoder(w).Encode(map[string]any{"updatedRows": 1})

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		if r.URL.Query().Get("valueInputOption") != "USER_ENTERED" {
			http.Error(w, "bad valueInputOption", http.StatusBadRequest)
			return
		}
		var vr gsheet.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		sheet := sheetOf(strings.TrimSuffix(path, ":append"))
		f.appended[sheet] = append(f.appended[sheet], vr.Values...)
		row := len(f.appended[sheet]) + 1
		_ = json.NewEncoder(w).Encode(map[string]any{
			"updates": map[string]any{"updatedRange": fmt.Sprintf("%s!A%d:H%d", sheet, row, row)},
		})

	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

// sheetOf extracts the quoted sheet name from ".../values/'name'!A:H".
func sheetOf(path string) string {
	rng := path[strings.Index(path, "/values/")+len("/values/"):]
	return rng[:strings.Index(rng, "!")]
}

func newTestClient(t *testing.T, f *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	c := newClient(svc, Config{SpreadsheetID: "sheet-id", Location: time.UTC}, log.Discard())
	c.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestClient_AppendTransaction(t *testing.T) {
	f := &fakeSheets{
		titles:   []string{"2025 Transactions"},
		headers:  map[string][]any{},
		appended: map[string][][]any{},
	}
	c := newTestClient(t, f)
	ctx := context.Background()

	at := time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)
	tx := core.Transaction{
		ID: "01J", Owner: "alice", Title: "Groceries", Amount: core.Money{Cents: 4250},
		Kind: core.Expense, Category: core.FoodDining, Method: core.Cash, CreatedAt: &at,
	}

	ref, err := c.AppendTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("AppendTransaction() error = %v", err)
	}
	if ref != "'2026 Transactions'!A2:H2" {
		t.Errorf("ref = %q", ref)
	}
	if len(f.added) != 1 || f.added[0] != "2026 Transactions" {
		t.Errorf("added sheets = %v", f.added)
	}
	if got := f.headers["'2026 Transactions'"]; len(got) != 8 || got[0] != "Date" {
		t.Errorf("header = %v", got)
	}
	row := f.appended["'2026 Transactions'"][0]
	if row[0] != "2026-03-15" || row[1] != "Groceries" || row[5] != 42.5 || row[6] != "01J" {
		t.Errorf("row = %v", row)
	}

	// the sheet is remembered; no second lookup
	if _, err := c.AppendTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}
	if f.gets != 1 || len(f.added) != 1 {
		t.Errorf("gets = %d, added = %v", f.gets, f.added)
	}

	// earlier years go to their existing sheet
	old := time.Date(2025, 12, 31, 10, 0, 0, 0, time.UTC)
	tx.ID, tx.CreatedAt = "old", &old
	if ref, err := c.AppendTransaction(ctx, tx); err != nil || !strings.HasPrefix(ref, "'2025 Transactions'") {
		t.Errorf("AppendTransaction() = %q, %v", ref, err)
	}
	if len(f.added) != 1 {
		t.Errorf("existing sheet should not be re-created: %v", f.added)
	}
}

func TestClient_AppendTransactionWithoutTimestamp(t *testing.T) {
	f := &fakeSheets{titles: []string{"2026 Transactions"}, headers: map[string][]any{}, appended: map[string][][]any{}}
	c := newTestClient(t, f)

	if _, err := c.AppendTransaction(context.Background(), core.Transaction{ID: "p", Title: "Pending"}); err != nil {
		t.Fatal(err)
	}
	if row := f.appended["'2026 Transactions'"][0]; row[0] != "" {
		t.Errorf("pending record should have an empty date, got %v", row[0])
	}

	if _, err := c.AppendTransaction(context.Background(), core.Transaction{Title: "no id"}); err == nil {
		t.Error("transaction without id should be rejected")
	}
}

func TestClientOptions(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token.json")
	if err := os.WriteFile(tokenFile, []byte(`{"access_token":"a","refresh_token":"r"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		creds    Credentials
		wantMode string
		wantErr  string
	}{
		{name: "service account inline", creds: Credentials{ServiceAccountJSON: `{"type":"service_account"}`}, wantMode: "service_account"},
		{name: "oauth token from file", creds: Credentials{OAuthClientJSON: oauthClientJSON, OAuthTokenFile: tokenFile}, wantMode: "oauth"},
		{name: "nothing", wantErr: "missing credentials"},
		{name: "oauth without token", creds: Credentials{OAuthClientJSON: oauthClientJSON}, wantErr: "missing credentials"},
		{name: "bad client json", creds: Credentials{OAuthClientJSON: "invalid-json", OAuthTokenJSON: `{"access_token":"a"}`}, wantErr: "oauth config"},
		{name: "empty token", creds: Credentials{OAuthClientJSON: oauthClientJSON, OAuthTokenJSON: `{}`}, wantErr: "no access or refresh token"},
		{name: "missing service account file", creds: Credentials{ServiceAccountFile: filepath.Join(dir, "nope.json")}, wantErr: "read service account file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, mode, err := clientOptions(context.Background(), tt.creds)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("clientOptions() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("clientOptions() error = %v", err)
			}
			if mode != tt.wantMode || len(opts) == 0 {
				t.Errorf("mode = %q, %d options", mode, len(opts))
			}
		})
	}
}

func TestNew(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); err == nil || !strings.Contains(err.Error(), "spreadsheet id") {
		t.Errorf("expected missing spreadsheet id, got %v", err)
	}

	c, err := New(context.Background(), Config{
		SpreadsheetID: "sheet-id",
		Credentials:   Credentials{OAuthClientJSON: oauthClientJSON, OAuthTokenJSON: `{"access_token":"a"}`},
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.sheetBase != "Transactions" || c.loc != time.UTC {
		t.Errorf("defaults not applied: %q %v", c.sheetBase, c.loc)
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"Transactions", "2026 Transactions"},
		{"  Transactions ", "2026 Transactions"},
		{"2024 Transactions", "2024 Transactions"},
		{"", ""},
		{"1234", "2026 1234"},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, 2026); got != tt.want {
			t.Errorf("yearPrefixedName(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestA1(t *testing.T) {
	if got := a1("Bob's 2026", "A:H"); got != "'Bob''s 2026'!A:H" {
		t.Errorf("a1() = %q", got)
	}
}
