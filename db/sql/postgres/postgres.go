// Package postgres stores accounts for the auth service in PostgreSQL via
// lib/pq.
package postgres

// UsersTable is the schema UserRepository reads and writes. Emails are
// stored already normalised, so a plain TEXT uniqueness constraint is enough.
const UsersTable = `CREATE TABLE IF NOT EXISTS users (
    id            UUID PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    roles         TEXT[] NOT NULL DEFAULT '{USER}',
    password_hash JSONB NOT NULL,
    enabled       BOOLEAN NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
)`

// UsersEnabledIndex speeds up CountUsers-style scans over active accounts.
const UsersEnabledIndex = `CREATE INDEX IF NOT EXISTS users_enabled_idx ON users (enabled)`

// Schema lists every statement needed by this package, in order.
func Schema() []string {
	return []string{UsersTable, UsersEnabledIndex}
}
