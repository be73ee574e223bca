package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"finpulse/internal/core"
	"finpulse/internal/log"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost        = 12
	MinPasswordLength = 6
	DefaultResetTTL   = time.Hour
)

var (
	// ErrInvalidCredentials is the only answer to a failed sign-in, whatever
	// the reason.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidResetToken  = errors.New("reset link is invalid or expired")
	ErrProviderDisabled   = errors.New("provider sign-in is not configured")
)

var emailValidator = validator.New()

// Local authenticates against a Directory with bcrypt password hashes and
// optionally a third-party identity provider.
type Local struct {
	dir      Directory
	mailer   Mailer
	provider ProviderVerifier
	resets   *cache.Cache
	resetURL string
	cost     int
	now      func() time.Time
	logger   *log.Logger
}

type LocalOption func(*Local)

func WithMailer(m Mailer) LocalOption {
	return func(l *Local) { l.mailer = m }
}

func WithProvider(p ProviderVerifier) LocalOption {
	return func(l *Local) { l.provider = p }
}

// WithResetLink sets the page reset links point to and how long they live.
func WithResetLink(baseURL string, ttl time.Duration) LocalOption {
	return func(l *Local) {
		l.resetURL = baseURL
		if ttl > 0 {
			l.resets = cache.New(ttl, 2*ttl)
		}
	}
}

func WithLocalLogger(logger *log.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

// WithBcryptCost lowers the hashing cost, for tests.
func WithBcryptCost(cost int) LocalOption {
	return func(l *Local) { l.cost = cost }
}

func NewLocal(dir Directory, opts ...LocalOption) *Local {
	l := &Local{
		dir:    dir,
		mailer: LogMailer{},
		cost:   bcryptCost,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.resets == nil {
		l.resets = cache.New(DefaultResetTTL, 2*DefaultResetTTL)
	}
	if l.logger == nil {
		l.logger = log.Discard()
	}
	l.logger = l.logger.WithComponent(log.ComponentAuth)
	return l
}

// SignUp registers a password account and returns its identity.
func (l *Local) SignUp(ctx context.Context, email, password, displayName string) (Identity, error) {
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return Identity{}, err
	}
	if err := validatePassword(password); err != nil {
		return Identity{}, err
	}
	displayName = core.SanitizeTitle(displayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.cost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Provider:     ProviderPassword,
		CreatedAt:    l.now().UTC(),
	}
	if err := l.dir.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return Identity{}, core.NewValidationError("email", ErrEmailTaken.Error())
		}
		return Identity{}, core.NewUpstreamError("create user", err)
	}
	l.logger.InfoContext(ctx, "User signed up", log.FieldOwner, u.ID)
	return u.Identity(), nil
}

// Authenticate checks an email and password. Unknown emails, provider-only
// accounts and wrong passwords all yield ErrInvalidCredentials.
func (l *Local) Authenticate(ctx context.Context, email, password string) (Identity, error) {
	u, err := l.dir.UserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, core.NewUpstreamError("load user", err)
	}
	if u.PasswordHash == "" {
		return Identity{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		l.logger.InfoContext(ctx, "Sign-in denied", log.FieldOwner, u.ID, log.FieldErrorType, log.ErrorTypeAuth)
		return Identity{}, ErrInvalidCredentials
	}
	return u.Identity(), nil
}

// AuthenticateWithProvider verifies a provider credential and returns the
// matching account, creating it on first use.
func (l *Local) AuthenticateWithProvider(ctx context.Context, credential string) (Identity, error) {
	if l.provider == nil {
		return Identity{}, ErrProviderDisabled
	}
	claims, err := l.provider.Verify(ctx, credential)
	if err != nil {
		l.logger.InfoContext(ctx, "Provider credential rejected", log.FieldError, err)
		return Identity{}, ErrInvalidCredentials
	}

	u, err := l.dir.UserByEmail(ctx, claims.Email)
	if err == nil {
		return u.Identity(), nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return Identity{}, core.NewUpstreamError("load user", err)
	}

	name := claims.Name
	if name == "" {
		name = strings.SplitN(claims.Email, "@", 2)[0]
	}
	u = User{
		ID:          uuid.NewString(),
		Email:       NormalizeEmail(claims.Email),
		DisplayName: name,
		Provider:    ProviderGoogle,
		CreatedAt:   l.now().UTC(),
	}
	if err := l.dir.CreateUser(ctx, u); err != nil {
		return Identity{}, core.NewUpstreamError("create user", err)
	}
	l.logger.InfoContext(ctx, "Provider account created", log.FieldOwner, u.ID)
	return u.Identity(), nil
}

// Lookup resolves an account id, for restoring sessions from tokens.
func (l *Local) Lookup(ctx context.Context, id string) (Identity, error) {
	u, err := l.dir.UserByID(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	return u.Identity(), nil
}

// SendPasswordReset mails a reset link when the address belongs to a
// password account. It reports success either way so that callers cannot
// tell which addresses are registered.
func (l *Local) SendPasswordReset(ctx context.Context, email string) error {
	u, err := l.dir.UserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			l.logger.ErrorContext(ctx, "Password reset lookup failed", log.FieldError, err)
		}
		return nil
	}
	if u.Provider != ProviderPassword {
		return nil
	}

	// failures past this point are only logged so that every address gets
	// the same answer
	token, err := randomToken()
	if err != nil {
		l.logger.ErrorContext(ctx, "Password reset token failed", log.FieldOwner, u.ID, log.FieldError, err)
		return nil
	}
	l.resets.SetDefault(token, u.ID)

	if err := l.mailer.SendPasswordReset(ctx, u.Email, u.DisplayName, l.resetLink(token)); err != nil {
		l.resets.Delete(token)
		l.logger.ErrorContext(ctx, "Password reset mail failed", log.FieldOwner, u.ID, log.FieldError, err)
		return nil
	}
	l.logger.InfoContext(ctx, "Password reset requested", log.FieldOwner, u.ID)
	return nil
}

// ConfirmReset sets a new password with a token from a reset link. Tokens
// are single use.
func (l *Local) ConfirmReset(ctx context.Context, token, password string) error {
	v, ok := l.resets.Get(token)
	if !ok {
		return ErrInvalidResetToken
	}
	if err := validatePassword(password); err != nil {
		return err
	}
	l.resets.Delete(token)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := l.dir.UpdatePassword(ctx, v.(string), string(hash)); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidResetToken
		}
		return core.NewUpstreamError("update password", err)
	}
	return nil
}

func (l *Local) resetLink(token string) string {
	if l.resetURL == "" {
		return token
	}
	sep := "?"
	if strings.Contains(l.resetURL, "?") {
		sep = "&"
	}
	return l.resetURL + sep + "token=" + url.QueryEscape(token)
}

func validateEmail(email string) error {
	if err := emailValidator.Var(email, "required,email"); err != nil {
		return core.NewValidationError("email", "must be a valid address")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return core.NewValidationError("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
