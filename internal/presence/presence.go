// Package presence mirrors the connection↔neighbor registry into the
// shared store so it survives the gateway process. Rows are scoped by
// gateway instance: a restarted instance purges its own leftovers
// before accepting connections, and instances never touch each other's
// rows.
package presence

import (
	"context"
	"database/sql"
)

// Store persists registry entries for one gateway instance.
type Store struct {
	pool     *sql.DB
	instance string
}

// New returns a Store writing rows under the given instance name.
func New(pool *sql.DB, instance string) *Store {
	return &Store{pool: pool, instance: instance}
}

// Add records connID as a live connection of neighborID. Re-adding the
// same connection under a different neighbor overwrites the row, which
// matches re-identification on the hub side. Single-row upsert; no
// read-modify-write.
func (s *Store) Add(ctx context.Context, connID string, neighborID int64) error {
	_, err := s.pool.ExecContext(ctx, `
		INSERT INTO chat_connection (instance, conn_id, neighbor_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (instance, conn_id) DO UPDATE SET neighbor_id = excluded.neighbor_id`,
		s.instance, connID, neighborID)
	return err
}

// Remove deletes the row for connID. Safe to call for connections that
// never identified.
func (s *Store) Remove(ctx context.Context, connID string) error {
	_, err := s.pool.ExecContext(ctx, `
		DELETE FROM chat_connection WHERE instance = $1 AND conn_id = $2`,
		s.instance, connID)
	return err
}

// Purge clears every row this instance wrote in a previous life. Called
// on startup before the listening socket opens; the connection ids in
// those rows belong to a dead process and will never be valid again.
func (s *Store) Purge(ctx context.Context) error {
	_, err := s.pool.ExecContext(ctx, `
		DELETE FROM chat_connection WHERE instance = $1`, s.instance)
	return err
}

// Connections lists the live connection ids recorded for a neighbor
// across all instances. The gateway itself fans out from its in-process
// hub; this query exists for presence checks by other services.
func (s *Store) Connections(ctx context.Context, neighborID int64) ([]string, error) {
	rows, err := s.pool.QueryContext(ctx, `
		SELECT conn_id FROM chat_connection WHERE neighbor_id = $1`, neighborID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
