// Package data provides the PostgreSQL stores for chats, messages and
// neighbor bookkeeping.
package data

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// ChatsStore performs chat queries.
type ChatsStore struct {
	pool *sql.DB
}

// NewChatsStore returns a ChatsStore using the provided pool.
func NewChatsStore(pool *sql.DB) *ChatsStore {
	return &ChatsStore{pool: pool}
}

// chatSummarySelect aggregates a chat with its latest activity and a
// per-viewer read flag: every message either read by the viewer or sent
// by the viewer counts as read. Chats without messages don't appear,
// since there is nothing to show or mark read.
const chatSummarySelect = `
	SELECT
		c.id,
		c.started_ts,
		max(cm.send_ts) AS latest_message_ts,
		array_agg(DISTINCT cn.neighbor_id) FILTER (WHERE cn.neighbor_id <> $1) AS other_members,
		bool_and($1 = any(cm.read_by) OR $1 = cm.from_neighbor) AS read
	FROM
		chat c
		INNER JOIN chat_neighbor cn ON c.id = cn.chat_id
		INNER JOIN chat_message cm ON c.id = cm.chat_id`

// ListChats returns every chat the viewer participates in, oldest
// started first.
func (s *ChatsStore) ListChats(ctx context.Context, me int64) ([]*ChatSummary, error) {
	rows, err := s.pool.QueryContext(ctx, chatSummarySelect+`
		GROUP BY c.id
		HAVING bool_or(cn.neighbor_id = $1)
		ORDER BY c.started_ts`, me)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*ChatSummary
	for rows.Next() {
		chat, err := scanChatSummary(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat summary. Chats the viewer does not
// participate in are indistinguishable from missing ones: both return
// ErrNotFound, so a caller can't probe other people's chats.
func (s *ChatsStore) GetChat(ctx context.Context, me, chatID int64) (*ChatSummary, error) {
	rows, err := s.pool.QueryContext(ctx, chatSummarySelect+`
		WHERE c.id = $2
		GROUP BY c.id
		HAVING bool_or(cn.neighbor_id = $1)`, me, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanChatSummary(rows)
}

func scanChatSummary(rows *sql.Rows) (*ChatSummary, error) {
	var chat ChatSummary
	var others pq.Int64Array
	if err := rows.Scan(&chat.ID, &chat.StartedTS, &chat.LatestMessageTS, &others, &chat.Read); err != nil {
		return nil, err
	}
	chat.OtherMembers = []int64(others)
	return &chat, nil
}

// IsParticipant reports whether the neighbor is a member of the chat.
func (s *ChatsStore) IsParticipant(ctx context.Context, me, chatID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat_neighbor WHERE chat_id = $1 AND neighbor_id = $2
		)`, chatID, me).Scan(&ok)
	return ok, err
}
