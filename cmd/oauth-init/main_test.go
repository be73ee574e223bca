package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"finpulse/internal/config"

	"golang.org/x/oauth2"
)

func TestCallbackHandler(t *testing.T) {
	codes := make(chan string, 1)
	h := callbackHandler("s1", codes)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{name: "provider error", query: "?error=access_denied&state=s1", status: http.StatusBadRequest},
		{name: "wrong state", query: "?code=abc&state=other", status: http.StatusBadRequest},
		{name: "missing code", query: "?state=s1", status: http.StatusBadRequest},
		{name: "accepted", query: "?code=abc&state=s1", status: http.StatusOK},
		{name: "second code", query: "?code=def&state=s1", status: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback"+tt.query, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
	if got := <-codes; got != "abc" {
		t.Errorf("code = %q", got)
	}
}

func TestSaveToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := saveToken(path, &oauth2.Token{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}
	b, _ := os.ReadFile(path)
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil || tok.RefreshToken != "r" {
		t.Errorf("token = %+v, %v", tok, err)
	}
}

func TestReadClient(t *testing.T) {
	if _, err := readClient(&config.Config{}); err == nil {
		t.Error("expected error without client settings")
	}
	b, err := readClient(&config.Config{GoogleOAuthClientJSON: `{"installed":{}}`})
	if err != nil || string(b) != `{"installed":{}}` {
		t.Errorf("readClient() = %s, %v", b, err)
	}
}
