package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrations returns the schema statements in apply order. Every statement
// is idempotent.
func Migrations() []string {
	return []string{
		`CREATE SCHEMA IF NOT EXISTS taskos`,
		`CREATE TABLE IF NOT EXISTS taskos.tasks (
			id          UUID PRIMARY KEY,
			title       TEXT NOT NULL,
			jira_id     TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			price       BIGINT NOT NULL CHECK (price >= 0),
			reward      BIGINT NOT NULL DEFAULT 0,
			state       TEXT NOT NULL CHECK (state IN ('new', 'assigned', 'completed')),
			assignee    TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS tasks_state_idx ON taskos.tasks (state, created_at)`,
		`CREATE TABLE IF NOT EXISTS taskos.ledger_entries (
			id          BIGSERIAL PRIMARY KEY,
			user_id     TEXT NOT NULL,
			debit_book  TEXT NOT NULL,
			credit_book TEXT NOT NULL,
			amount      BIGINT NOT NULL CHECK (amount >= 0),
			metadata    JSONB,
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ledger_entries_user_idx ON taskos.ledger_entries (user_id, id)`,
		`CREATE INDEX IF NOT EXISTS ledger_entries_created_idx ON taskos.ledger_entries (created_at)`,
		`CREATE TABLE IF NOT EXISTS taskos.ledger_books (
			user_id  TEXT NOT NULL,
			book     TEXT NOT NULL,
			increase BIGINT NOT NULL DEFAULT 0,
			decrease BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, book)
		)`,
		`CREATE TABLE IF NOT EXISTS taskos.users (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL DEFAULT '',
			role       TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range Migrations() {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
