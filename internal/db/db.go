// Package db manages the PostgreSQL connection and schema bootstrap.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Open connects to PostgreSQL, verifies the connection and returns the
// pool. The gateway refuses to start without a working store, so the
// caller treats an error here as fatal.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
	}

	pool.SetMaxOpenConns(10)
	pool.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the chat tables if they don't exist yet. The
// neighbor table is owned by the CRUD backend; the definition here is
// the subset the gateway touches so the binary can also run standalone
// against an empty database.
func EnsureSchema(ctx context.Context, pool *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS neighbor (
			id bigserial PRIMARY KEY,
			userid text UNIQUE,
			chat_last_seen timestamptz
		)`,
		`CREATE TABLE IF NOT EXISTS chat (
			id bigserial PRIMARY KEY,
			started_by bigint NOT NULL REFERENCES neighbor(id),
			started_ts timestamptz NOT NULL DEFAULT now(),
			pair_key text NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS chat_neighbor (
			chat_id bigint NOT NULL REFERENCES chat(id),
			neighbor_id bigint NOT NULL REFERENCES neighbor(id),
			PRIMARY KEY (chat_id, neighbor_id)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_message (
			id bigserial PRIMARY KEY,
			chat_id bigint NOT NULL REFERENCES chat(id),
			from_neighbor bigint NOT NULL REFERENCES neighbor(id),
			message text NOT NULL,
			send_ts timestamptz NOT NULL DEFAULT now(),
			read_by bigint[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS chat_message_chat_send_ts_idx
			ON chat_message (chat_id, send_ts DESC)`,
		`CREATE TABLE IF NOT EXISTS chat_connection (
			instance text NOT NULL,
			conn_id text NOT NULL,
			neighbor_id bigint NOT NULL,
			PRIMARY KEY (instance, conn_id)
		)`,
		`CREATE INDEX IF NOT EXISTS chat_connection_neighbor_idx
			ON chat_connection (neighbor_id)`,
	}

	for _, stmt := range stmts {
		if _, err := pool.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
