package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"finpulse/internal/auth"
)

// Users is the account table, implementing auth.Directory.
type Users struct {
	repo *Repository
}

func (r *Repository) Users() *Users {
	return &Users{repo: r}
}

func (u *Users) CreateUser(ctx context.Context, user auth.User) error {
	_, err := u.repo.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, provider, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, auth.NormalizeEmail(user.Email), user.DisplayName, user.PasswordHash, user.Provider,
		user.CreatedAt.UnixMicro())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return auth.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (u *Users) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	return u.one(ctx, `WHERE email = ?`, auth.NormalizeEmail(email))
}

func (u *Users) UserByID(ctx context.Context, id string) (auth.User, error) {
	return u.one(ctx, `WHERE id = ?`, id)
}

func (u *Users) UpdatePassword(ctx context.Context, id, hash string) error {
	res, err := u.repo.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (u *Users) one(ctx context.Context, where string, arg any) (auth.User, error) {
	var (
		user    auth.User
		created int64
	)
	err := u.repo.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, password_hash, provider, created_at FROM users `+where, arg).
		Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Provider, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = time.UnixMicro(created).UTC()
	return user, nil
}
