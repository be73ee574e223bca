package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

// User is an account known to the local authenticator.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Provider     string
	CreatedAt    time.Time
}

// Identity is the public view of an authenticated user.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (u User) Identity() Identity {
	return Identity{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}

// Directory stores accounts.
type Directory interface {
	CreateUser(ctx context.Context, u User) error
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	UpdatePassword(ctx context.Context, id, hash string) error
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryDirectory is a Directory kept in process memory.
type MemoryDirectory struct {
	mu      sync.Mutex
	byID    map[string]User
	byEmail map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{byID: make(map[string]User), byEmail: make(map[string]string)}
}

func (d *MemoryDirectory) CreateUser(_ context.Context, u User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := NormalizeEmail(u.Email)
	if _, ok := d.byEmail[key]; ok {
		return ErrEmailTaken
	}
	d.byID[u.ID] = u
	d.byEmail[key] = u.ID
	return nil
}

func (d *MemoryDirectory) UserByEmail(_ context.Context, email string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return d.byID[id], nil
}

func (d *MemoryDirectory) UserByID(_ context.Context, id string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (d *MemoryDirectory) UpdatePassword(_ context.Context, id, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	d.byID[id] = u
	return nil
}
