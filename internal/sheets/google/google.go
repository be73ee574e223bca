// Package google appends mirrored transactions to a Google spreadsheet,
// one sheet per year ("2026 Transactions").
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"finpulse/internal/core"
	"finpulse/internal/log"
	ports "finpulse/internal/sheets"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

var _ ports.TransactionAppender = (*Client)(nil)

// Credentials selects how the client authenticates. A service account wins
// when both kinds are set.
type Credentials struct {
	ServiceAccountJSON string
	ServiceAccountFile string

	// OAuth client secrets plus a token saved by cmd/oauth-init.
	OAuthClientJSON string
	OAuthClientFile string
	OAuthTokenJSON  string
	OAuthTokenFile  string
}

type Config struct {
	SpreadsheetID string
	// SheetName is the base name; the year is prefixed automatically.
	SheetName string
	// Location is used for the date column and the yearly sheet choice.
	Location    *time.Location
	Credentials Credentials
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	loc           *time.Location
	now           func() time.Time
	logger        *log.Logger

	mu     sync.Mutex
	sheets map[string]bool
}

// New authenticates and returns a client for the configured spreadsheet.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	opts, mode, err := clientOptions(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created", "auth", mode, "spreadsheet_id", cfg.SpreadsheetID)
	return newClient(svc, cfg, logger), nil
}

func newClient(svc *gsheet.Service, cfg Config, logger *log.Logger) *Client {
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Transactions"
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetBase:     base,
		loc:           loc,
		now:           time.Now,
		logger:        logger,
		sheets:        make(map[string]bool),
	}
}

// clientOptions turns credentials into API client options. The returned
// mode names the kind of credentials for logging.
func clientOptions(ctx context.Context, creds Credentials) ([]goption.ClientOption, string, error) {
	saJSON, err := inlineOrFile(creds.ServiceAccountJSON, creds.ServiceAccountFile)
	if err != nil {
		return nil, "", fmt.Errorf("read service account file: %w", err)
	}
	if saJSON != nil {
		return []goption.ClientOption{
			goption.WithCredentialsJSON(saJSON),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}, "service_account", nil
	}

	clientJSON, err := inlineOrFile(creds.OAuthClientJSON, creds.OAuthClientFile)
	if err != nil {
		return nil, "", fmt.Errorf("read oauth client file: %w", err)
	}
	tokenJSON, err := inlineOrFile(creds.OAuthTokenJSON, creds.OAuthTokenFile)
	if err != nil {
		return nil, "", fmt.Errorf("read oauth token file: %w", err)
	}
	if clientJSON == nil || tokenJSON == nil {
		return nil, "", errors.New("missing credentials: set a service account or an OAuth client and token")
	}

	oauthCfg, err := oauthgoogle.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, "", fmt.Errorf("oauth config: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokenJSON, &tok); err != nil {
		return nil, "", fmt.Errorf("oauth token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, "", errors.New("oauth token: no access or refresh token")
	}

	// Token refreshes outlive the start-up context.
	base := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, newHTTPClientWithPooling())
	return []goption.ClientOption{goption.WithHTTPClient(oauthCfg.Client(base, &tok))}, "oauth", nil
}

func inlineOrFile(inline, path string) ([]byte, error) {
	if s := strings.TrimSpace(inline); s != "" {
		return []byte(s), nil
	}
	if path = strings.TrimSpace(path); path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API
// with connection pooling and keep-alive.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// AppendTransaction appends tx to the sheet for its year, creating the
// sheet with a header row when needed. It returns the updated A1 range.
func (c *Client) AppendTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if strings.TrimSpace(tx.ID) == "" {
		return "", errors.New("transaction has no id")
	}

	year := c.now().In(c.loc).Year()
	if tx.CreatedAt != nil {
		year = tx.CreatedAt.In(c.loc).Year()
	}
	name := yearPrefixedName(c.sheetBase, year)
	if err := c.ensureSheet(ctx, name); err != nil {
		return "", err
	}

	vr := &gsheet.ValueRange{Values: [][]any{ports.Row(tx, c.loc)}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, a1(name, "A:H"), vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", name, err)
	}
	if resp.Updates == nil || resp.Updates.UpdatedRange == "" {
		return a1(name, "A:H"), nil
	}
	return resp.Updates.UpdatedRange, nil
}

// ensureSheet creates the named sheet with a header row unless the
// spreadsheet already has it. Known sheets are remembered per client.
func (c *Client) ensureSheet(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sheets[name] {
		return nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			c.sheets[sh.Properties.Title] = true
		}
	}
	if c.sheets[name] {
		return nil
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: name}},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", name, err)
	}
	header := &gsheet.ValueRange{Values: [][]any{ports.Header}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, a1(name, "A1:H1"), header).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header to %s: %w", name, err)
	}
	c.sheets[name] = true
	c.logger.InfoContext(ctx, "Created yearly sheet", "sheet", name)
	return nil
}

// a1 quotes the sheet name for A1 notation.
func a1(sheet, cells string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cells
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
