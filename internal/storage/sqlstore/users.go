package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/louisbranch/parley/internal/services/auth/storage"
	"github.com/louisbranch/parley/internal/services/auth/user"
)

const userColumns = `id, handle, email, password_hash, display_name, email_verified_at, created_at, updated_at`

type userRow struct {
	ID              string        `db:"id"`
	Handle          string        `db:"handle"`
	Email           string        `db:"email"`
	PasswordHash    string        `db:"password_hash"`
	DisplayName     string        `db:"display_name"`
	EmailVerifiedAt sql.NullInt64 `db:"email_verified_at"`
	CreatedAt       int64         `db:"created_at"`
	UpdatedAt       int64         `db:"updated_at"`
}

func (r userRow) toDomain() user.User {
	return user.User{
		ID:              r.ID,
		Handle:          r.Handle,
		Email:           r.Email,
		PasswordHash:    r.PasswordHash,
		DisplayName:     r.DisplayName,
		EmailVerifiedAt: fromNullMillis(r.EmailVerifiedAt),
		CreatedAt:       fromMillis(r.CreatedAt),
		UpdatedAt:       fromMillis(r.UpdatedAt),
	}
}

// PutUser inserts a user. A duplicate handle or email is reported as a
// *storage.ConflictError naming the column.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
INSERT INTO users (`+userColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`),
		u.ID,
		u.Handle,
		u.Email,
		u.PasswordHash,
		u.DisplayName,
		nullMillis(u.EmailVerifiedAt),
		toMillis(u.CreatedAt),
		toMillis(u.UpdatedAt),
	)
	if err != nil {
		if field, ok := uniqueViolation(err); ok {
			if field == "" {
				return storage.ErrConflict
			}
			return &storage.ConflictError{Field: field}
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	return s.getUserBy(ctx, "id", userID)
}

// GetUserByEmail fetches a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return s.getUserBy(ctx, "email", email)
}

// GetUserByHandle fetches a user by normalized handle.
func (s *Store) GetUserByHandle(ctx context.Context, handle string) (user.User, error) {
	return s.getUserBy(ctx, "handle", handle)
}

// getUserBy looks a user up by exactly one unique column.
func (s *Store) getUserBy(ctx context.Context, column, value string) (user.User, error) {
	if err := s.ready(ctx); err != nil {
		return user.User{}, err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return user.User{}, storage.ErrNotFound
	}

	var row userRow
	query := s.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = ?`)
	if err := s.db.GetContext(ctx, &row, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("get user by %s: %w", column, err)
	}
	return row.toDomain(), nil
}

// UpdateUserProfile sets the display name.
func (s *Store) UpdateUserProfile(ctx context.Context, userID string, displayName string, updatedAt time.Time) error {
	return s.updateUser(ctx, "update user profile", `UPDATE users SET display_name = ?, updated_at = ? WHERE id = ?`,
		displayName, toMillis(updatedAt), strings.TrimSpace(userID))
}

// UpdateUserPassword replaces the stored password hash.
func (s *Store) UpdateUserPassword(ctx context.Context, userID string, passwordHash string, updatedAt time.Time) error {
	return s.updateUser(ctx, "update user password", `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, toMillis(updatedAt), strings.TrimSpace(userID))
}

// MarkUserEmailVerified records the verification time.
func (s *Store) MarkUserEmailVerified(ctx context.Context, userID string, verifiedAt time.Time) error {
	return s.updateUser(ctx, "mark email verified", `UPDATE users SET email_verified_at = ?, updated_at = ? WHERE id = ?`,
		toMillis(verifiedAt), toMillis(verifiedAt), strings.TrimSpace(userID))
}

func (s *Store) updateUser(ctx context.Context, action, query string, args ...any) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	affected, err := rowsAffected(result, action)
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UsersExist reports whether every id names a stored user.
func (s *Store) UsersExist(ctx context.Context, userIDs []string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	unique := make([]string, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, userID := range userIDs {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			return false, nil
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		unique = append(unique, userID)
	}
	if len(unique) == 0 {
		return true, nil
	}

	query, args, err := sqlx.In(`SELECT COUNT(*) FROM users WHERE id IN (?)`, unique)
	if err != nil {
		return false, fmt.Errorf("build users exist query: %w", err)
	}
	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(query), args...); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count == len(unique), nil
}
