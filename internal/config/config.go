package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"finpulse/internal/core"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

type Config struct {
	// HTTP Server
	Port           string
	LogLevel       string
	Timezone       string
	TrustedProxies []string

	// Backend selection
	DataBackend  string
	SQLiteDBPath string

	// AMQP change notifications; disabled when AMQPURL is empty
	AMQPURL         string
	AMQPExchange    string
	AMQPMirrorQueue string

	// Sessions
	JWTSecret       string
	TokenTTL        time.Duration
	MaxSessions     int
	SessionIdleTTL  time.Duration
	RateLimitPerMin int
	RateLimitBurst  int

	// Accounts
	GoogleClientID   string
	MailgunDomain    string
	MailgunAPIKey    string
	MailSender       string
	PasswordResetURL string
	ResetTokenTTL    time.Duration

	// Dashboard defaults, in major units
	DefaultDailyLimit   string
	DefaultMonthlyLimit string
	DefaultGoalName     string
	DefaultGoalTarget   string

	// Google Sheets mirror
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientFile    string
	GoogleOAuthClientJSON    string
	GoogleOAuthTokenFile     string
	GoogleOAuthTokenJSON     string

	// Mirror worker
	MirrorBatchSize int
	MirrorInterval  time.Duration
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Timezone:       getEnv("TIMEZONE", "Local"),
		TrustedProxies: getEnvList("TRUSTED_PROXIES"),

		DataBackend:  getEnv("DATA_BACKEND", BackendMemory),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/finpulse.db"),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "finpulse"),
		AMQPMirrorQueue: getEnv("AMQP_MIRROR_QUEUE", "finpulse_mirror"),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		TokenTTL:        getEnvDuration("TOKEN_TTL", 24*time.Hour),
		MaxSessions:     getEnvInt("MAX_SESSIONS", 1000),
		SessionIdleTTL:  getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 10),

		GoogleClientID:   getEnv("GOOGLE_OAUTH_CLIENT_ID", ""),
		MailgunDomain:    getEnv("MAILGUN_DOMAIN", ""),
		MailgunAPIKey:    getEnv("MAILGUN_API_KEY", ""),
		MailSender:       getEnv("MAIL_SENDER", ""),
		PasswordResetURL: getEnv("PASSWORD_RESET_URL", ""),
		ResetTokenTTL:    getEnvDuration("RESET_TOKEN_TTL", time.Hour),

		DefaultDailyLimit:   getEnv("DEFAULT_DAILY_LIMIT", "50000"),
		DefaultMonthlyLimit: getEnv("DEFAULT_MONTHLY_LIMIT", "150000"),
		DefaultGoalName:     getEnv("DEFAULT_GOAL_NAME", "MacBook Pro M4"),
		DefaultGoalTarget:   getEnv("DEFAULT_GOAL_TARGET", "250000"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Transactions"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleOAuthClientFile:    getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthClientJSON:    getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		GoogleOAuthTokenFile:     getEnv("GOOGLE_OAUTH_TOKEN_FILE", ""),
		GoogleOAuthTokenJSON:     getEnv("GOOGLE_OAUTH_TOKEN_JSON", ""),

		MirrorBatchSize: getEnvInt("MIRROR_BATCH_SIZE", 25),
		MirrorInterval:  getEnvDuration("MIRROR_INTERVAL", time.Minute),
	}
}

// Validate checks the settings the API server needs and returns every
// problem at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	validBackends := []string{BackendMemory, BackendSQLite}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == BackendSQLite {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	errors = append(errors, c.validateAMQP()...)

	if len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET must be at least 32 characters")
	}
	if c.TokenTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid token TTL %v: must be at least 1 minute", c.TokenTTL))
	}
	if c.MaxSessions < 1 {
		errors = append(errors, fmt.Sprintf("invalid max sessions %d: must be at least 1", c.MaxSessions))
	}
	if c.SessionIdleTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session idle TTL %v: must be at least 1 minute", c.SessionIdleTTL))
	}
	if c.RateLimitPerMin < 1 || c.RateLimitBurst < 1 {
		errors = append(errors, "rate limit per minute and burst must be at least 1")
	}

	mailgun := []string{c.MailgunDomain, c.MailgunAPIKey, c.MailSender}
	if slices.ContainsFunc(mailgun, isSet) && !allSet(mailgun) {
		errors = append(errors, "MAILGUN_DOMAIN, MAILGUN_API_KEY and MAIL_SENDER must be set together")
	}
	if c.PasswordResetURL != "" {
		if u, err := url.Parse(c.PasswordResetURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid password reset URL '%s'", c.PasswordResetURL))
		}
	}
	if c.ResetTokenTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid reset token TTL %v: must be at least 1 minute", c.ResetTokenTTL))
	}

	errors = append(errors, c.validateDefaults()...)

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ValidateMirror checks the settings the sheets mirror worker needs.
func (c *Config) ValidateMirror() error {
	var errors []string

	if c.DataBackend != BackendSQLite {
		errors = append(errors, "the mirror worker requires DATA_BACKEND=sqlite")
	}
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	}
	errors = append(errors, c.validateAMQP()...)

	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "Google Spreadsheet ID is required for the mirror")
	}
	if c.GoogleSheetName == "" {
		errors = append(errors, "Google Sheet name is required for the mirror")
	}

	hasServiceAccount := c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != ""
	hasClient := c.GoogleOAuthClientJSON != "" || c.GoogleOAuthClientFile != ""
	hasToken := c.GoogleOAuthTokenJSON != "" || c.GoogleOAuthTokenFile != ""
	switch {
	case hasServiceAccount:
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	case hasClient && hasToken:
		for _, f := range []string{c.GoogleOAuthClientFile, c.GoogleOAuthTokenFile} {
			if f == "" {
				continue
			}
			if _, err := os.Stat(f); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google OAuth file does not exist: %s", f))
			}
		}
	default:
		errors = append(errors, "set GOOGLE_SERVICE_ACCOUNT_JSON/FILE, or both an OAuth client (GOOGLE_OAUTH_CLIENT_JSON/FILE) and token (GOOGLE_OAUTH_TOKEN_JSON/FILE)")
	}

	if c.MirrorBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid mirror batch size %d: must be at least 1", c.MirrorBatchSize))
	} else if c.MirrorBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid mirror batch size %d: must be at most 1000", c.MirrorBatchSize))
	}
	if c.MirrorInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid mirror interval %v: must be at least 1 second", c.MirrorInterval))
	} else if c.MirrorInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid mirror interval %v: must be at most 24 hours", c.MirrorInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func (c *Config) validateAMQP() []string {
	if c.AMQPURL == "" {
		return nil
	}
	var errors []string
	if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid AMQP URL: %v", err))
	} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
		errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
	}
	if c.AMQPExchange == "" {
		errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
	}
	if c.AMQPMirrorQueue == "" {
		errors = append(errors, "AMQP mirror queue name cannot be empty when AMQP URL is provided")
	}
	return errors
}

func (c *Config) validateDefaults() []string {
	var errors []string
	for _, v := range []struct{ key, raw string }{
		{"DEFAULT_DAILY_LIMIT", c.DefaultDailyLimit},
		{"DEFAULT_MONTHLY_LIMIT", c.DefaultMonthlyLimit},
		{"DEFAULT_GOAL_TARGET", c.DefaultGoalTarget},
	} {
		cents, err := core.ParseDecimalToCents(v.raw)
		if err != nil || cents <= 0 {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': must be a positive amount", v.key, v.raw))
		}
	}
	if strings.TrimSpace(c.DefaultGoalName) == "" {
		errors = append(errors, "DEFAULT_GOAL_NAME cannot be empty")
	}
	return errors
}

// Location resolves Timezone. "Local" and "" mean the process time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// DefaultAmounts returns the configured default limits and goal target in
// cents. Call Validate first.
func (c *Config) DefaultAmounts() (daily, monthly, goal core.Money) {
	parse := func(s string) core.Money {
		cents, _ := core.ParseDecimalToCents(s)
		return core.Money{Cents: cents}
	}
	return parse(c.DefaultDailyLimit), parse(c.DefaultMonthlyLimit), parse(c.DefaultGoalTarget)
}

func isSet(s string) bool { return s != "" }

func allSet(vals []string) bool {
	return !slices.ContainsFunc(vals, func(s string) bool { return s == "" })
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
