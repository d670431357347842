package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adeilh/rakh-auth/auth"
)

const userColumns = `id, email, roles, password_hash, enabled, created_at, updated_at`

// UserRepository persists auth.User records inside PostgreSQL.
type UserRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ auth.UserRepository = (*UserRepository)(nil)

// NewUserRepository wraps an existing *sql.DB connection.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *UserRepository) CreateUser(ctx context.Context, user auth.User) error {
	const query = `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	hashJSON, err := json.Marshal(user.PasswordHash)
	if err != nil {
		return fmt.Errorf("postgres: encode password hash: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		pq.Array(auth.RoleStrings(user.Roles)),
		hashJSON,
		user.Enabled,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return translateUserError(err)
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) SetEnabled(ctx context.Context, email string, enabled bool) (auth.User, error) {
	const query = `UPDATE users SET enabled = $2, updated_at = $3 WHERE email = $1 RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, email, enabled, r.now()))
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, email string, hash auth.PasswordHash) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE email = $1`
	hashJSON, err := json.Marshal(hash)
	if err != nil {
		return fmt.Errorf("postgres: encode password hash: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, email, hashJSON, r.now())
	if err != nil {
		return translateUserError(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, translateUserError(err)
	}
	return n, nil
}

func scanUser(row *sql.Row) (auth.User, error) {
	var (
		user     auth.User
		roles    []string
		hashJSON []byte
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		pq.Array(&roles),
		&hashJSON,
		&user.Enabled,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrUserNotFound
		}
		return auth.User{}, translateUserError(err)
	}
	if err := json.Unmarshal(hashJSON, &user.PasswordHash); err != nil {
		return auth.User{}, fmt.Errorf("postgres: decode password hash: %w", err)
	}
	if user.Roles, err = auth.ParseRoles(roles); err != nil {
		return auth.User{}, fmt.Errorf("postgres: user %s: %w", user.Email, err)
	}
	return user, nil
}

func translateUserError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return auth.ErrUserEmailInUse
		case "22P02":
			return fmt.Errorf("%w: %s", auth.ErrUserInvalidInput, pqErr.Message)
		}
	}
	return err
}
