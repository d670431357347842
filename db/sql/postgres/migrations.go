package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var ErrNilDB = errors.New("postgres: db is nil")

// ApplyMigrations executes statements in order inside a single transaction.
// Blank statements are skipped.
func ApplyMigrations(ctx context.Context, db *sql.DB, statements ...string) error {
	if db == nil {
		return ErrNilDB
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: migrate: begin: %w", err)
	}
	for i, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("postgres: migrate: statement %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: migrate: commit: %w", err)
	}
	return nil
}

// Migrate creates the tables used by UserRepository.
func Migrate(ctx context.Context, db *sql.DB) error {
	return ApplyMigrations(ctx, db, Schema()...)
}
