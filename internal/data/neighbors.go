package data

import (
	"context"
	"database/sql"
	"time"
)

// NeighborsStore reads and updates the gateway's slice of the neighbor
// table: the chat_last_seen timestamp. The rest of the neighbor record
// belongs to the CRUD backend.
type NeighborsStore struct {
	pool *sql.DB
}

// NewNeighborsStore returns a NeighborsStore using the provided pool.
func NewNeighborsStore(pool *sql.DB) *NeighborsStore {
	return &NeighborsStore{pool: pool}
}

// LastSeen returns when the neighbor last disconnected, or nil if they
// never have. Read-only; identify reports this back to the client
// without touching it.
func (s *NeighborsStore) LastSeen(ctx context.Context, neighborID int64) (*time.Time, error) {
	var lastSeen sql.NullTime
	err := s.pool.QueryRowContext(ctx, `
		SELECT chat_last_seen FROM neighbor WHERE id = $1`, neighborID).Scan(&lastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !lastSeen.Valid {
		return nil, nil
	}
	return &lastSeen.Time, nil
}

// TouchLastSeen stamps the neighbor's last-seen time with now. Called
// when an identified connection closes.
func (s *NeighborsStore) TouchLastSeen(ctx context.Context, neighborID int64) error {
	_, err := s.pool.ExecContext(ctx, `
		UPDATE neighbor SET chat_last_seen = now() WHERE id = $1`, neighborID)
	return err
}
