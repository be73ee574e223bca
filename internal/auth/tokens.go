package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const DefaultTokenTTL = 24 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by an API session token.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 session tokens. Revoked token ids are
// remembered in memory until the token would have expired anyway.
type Tokens struct {
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
	revoked *cache.Cache
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
		revoked: cache.New(ttl, ttl),
	}
}

// Issue returns a signed token for id and its expiry.
func (t *Tokens) Issue(id Identity) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{
		Email: id.Email,
		Name:  id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies a token and returns the identity it was issued for.
func (t *Tokens) Parse(token string) (Identity, error) {
	claims, err := t.parse(token)
	if err != nil {
		return Identity{}, err
	}
	if _, gone := t.revoked.Get(claims.ID); gone {
		return Identity{}, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}
	return Identity{ID: claims.Subject, Email: claims.Email, DisplayName: claims.Name}, nil
}

// Revoke makes a valid token unusable for the rest of its lifetime.
func (t *Tokens) Revoke(token string) error {
	claims, err := t.parse(token)
	if err != nil {
		return err
	}
	left := claims.ExpiresAt.Sub(t.now())
	if left <= 0 {
		return nil
	}
	t.revoked.Set(claims.ID, struct{}{}, left)
	return nil
}

func (t *Tokens) parse(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrInvalidToken)
	}
	return &claims, nil
}
