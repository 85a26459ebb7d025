package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/neighborly-app/chat-gateway/internal/bus"
)

// ChangeChannel is the bus channel message-creation events go out on.
// Shared with the CRUD backend, which publishes the same payload when a
// message is inserted through the REST API.
const ChangeChannel = "new_chat_message"

// MessagesStore performs message database operations.
type MessagesStore struct {
	pool *sql.DB
}

// NewMessagesStore returns a MessagesStore using the provided pool.
func NewMessagesStore(pool *sql.DB) *MessagesStore {
	return &MessagesStore{pool: pool}
}

// pairKey is the canonical identity of a two-party chat: both
// participant ids, smaller first. A unique constraint on this column is
// what makes find-or-create race-free.
func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// SaveMessage finds or creates the chat between from and to, inserts
// the message, and raises the change notification — all in one
// transaction, so the notification fires only on commit and the
// find-or-create race is settled by the pair_key constraint rather than
// a prior read.
func (s *MessagesStore) SaveMessage(ctx context.Context, from, to int64, body string) (chatID, messageID int64, err error) {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	key := pairKey(from, to)

	// Claim the chat. On conflict another transaction created it first;
	// no row comes back and the follow-up select finds theirs.
	var created bool
	err = tx.QueryRowContext(ctx, `
		INSERT INTO chat (started_by, pair_key)
		VALUES ($1, $2)
		ON CONFLICT (pair_key) DO NOTHING
		RETURNING id`, from, key).Scan(&chatID)
	switch err {
	case nil:
		created = true
	case sql.ErrNoRows:
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM chat WHERE pair_key = $1`, key).Scan(&chatID)
		if err != nil {
			return 0, 0, err
		}
	default:
		return 0, 0, err
	}

	if created {
		for _, member := range []int64{from, to} {
			if _, err = tx.ExecContext(ctx, `
				INSERT INTO chat_neighbor (chat_id, neighbor_id)
				VALUES ($1, $2)`, chatID, member); err != nil {
				return 0, 0, err
			}
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO chat_message (chat_id, from_neighbor, message)
		VALUES ($1, $2, $3)
		RETURNING id`, chatID, from, body).Scan(&messageID)
	if err != nil {
		return 0, 0, err
	}

	// Notify every participant. pg_notify inside the transaction is
	// delivered on commit, never for a rolled-back insert.
	payload, err := bus.NewChangeEvent(messageID, []int64{from, to}).Encode()
	if err != nil {
		return 0, 0, err
	}
	if _, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, payload); err != nil {
		return 0, 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, err
	}
	return chatID, messageID, nil
}

// GetMessages returns all messages in a chat, newest first, annotated
// for the viewer. Non-participants get ErrNotParticipant without
// learning whether the chat exists.
func (s *MessagesStore) GetMessages(ctx context.Context, me, chatID int64) ([]*MessageView, error) {
	var member bool
	err := s.pool.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat_neighbor WHERE chat_id = $1 AND neighbor_id = $2
		)`, chatID, me).Scan(&member)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotParticipant
	}

	rows, err := s.pool.QueryContext(ctx, `
		SELECT id, from_neighbor, send_ts, message,
			$1 = any(read_by) OR $1 = from_neighbor AS read
		FROM chat_message
		WHERE chat_id = $2
		ORDER BY send_ts DESC`, me, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*MessageView
	for rows.Next() {
		var m MessageView
		if err := rows.Scan(&m.ID, &m.FromNeighbor, &m.SendTS, &m.Body, &m.Read); err != nil {
			return nil, err
		}
		m.SentByMe = m.FromNeighbor == me
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// MessageFor fetches one message annotated for the given viewer. Used
// by the change-event fanout, where every affected neighbor sees their
// own read/sent_by_me flags.
func (s *MessagesStore) MessageFor(ctx context.Context, viewer, messageID int64) (*MessageView, error) {
	var m MessageView
	err := s.pool.QueryRowContext(ctx, `
		SELECT id, chat_id, from_neighbor, send_ts, message,
			$1 = any(read_by) OR $1 = from_neighbor AS read
		FROM chat_message
		WHERE id = $2`, viewer, messageID).Scan(
		&m.ID, &m.ChatID, &m.FromNeighbor, &m.SendTS, &m.Body, &m.Read)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.SentByMe = m.FromNeighbor == viewer
	return &m, nil
}

// MarkRead appends the viewer to the message's read set. The
// containment guard makes a second call match zero rows, so marking
// twice is a no-op, not an error.
func (s *MessagesStore) MarkRead(ctx context.Context, me, messageID int64) error {
	_, err := s.pool.ExecContext(ctx, `
		UPDATE chat_message
		SET read_by = array_append(read_by, $1)
		WHERE id = $2
		AND NOT read_by @> ARRAY[$1]::bigint[]`, me, messageID)
	return err
}

// ReadBy returns the message's read set. Test helper for the
// idempotency guarantee; not used by the gateway itself.
func (s *MessagesStore) ReadBy(ctx context.Context, messageID int64) ([]int64, error) {
	var readBy pq.Int64Array
	err := s.pool.QueryRowContext(ctx, `
		SELECT read_by FROM chat_message WHERE id = $1`, messageID).Scan(&readBy)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []int64(readBy), nil
}
