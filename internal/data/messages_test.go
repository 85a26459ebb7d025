package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/neighborly-app/chat-gateway/internal/db"
)

// Integration tests; they require a running PostgreSQL instance and
// DATABASE_URL set externally.

// openTestDB connects, ensures the schema and wipes the chat tables.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("db.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	for _, stmt := range []string{
		`DELETE FROM chat_message`,
		`DELETE FROM chat_neighbor`,
		`DELETE FROM chat`,
		`DELETE FROM chat_connection`,
		`DELETE FROM neighbor`,
	} {
		if _, err := pool.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("cleanup %q failed: %v", stmt, err)
		}
	}
	return pool
}

// createNeighbor inserts a neighbor row the way the CRUD backend would.
func createNeighbor(t *testing.T, pool *sql.DB, userid string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(`
		INSERT INTO neighbor (userid) VALUES ($1) RETURNING id`,
		fmt.Sprintf("%s-%d", userid, time.Now().UnixNano())).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create neighbor: %v", err)
	}
	return id
}

func TestSaveMessage_ReusesChatForPair(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	msgs := NewMessagesStore(pool)

	alice := createNeighbor(t, pool, "alice")
	bob := createNeighbor(t, pool, "bob")

	chat1, m1, err := msgs.SaveMessage(ctx, alice, bob, "hi bob")
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	if chat1 == 0 || m1 == 0 {
		t.Fatalf("expected ids, got chat=%d message=%d", chat1, m1)
	}

	// The reply goes to the same chat even though the pair is reversed.
	chat2, m2, err := msgs.SaveMessage(ctx, bob, alice, "hello alice")
	if err != nil {
		t.Fatalf("SaveMessage reply failed: %v", err)
	}
	if chat2 != chat1 {
		t.Fatalf("expected reply to reuse chat %d, got %d", chat1, chat2)
	}
	if m2 == m1 {
		t.Fatalf("expected a new message id")
	}
}

func TestGetMessages_ViewerAnnotations(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	msgs := NewMessagesStore(pool)

	alice := createNeighbor(t, pool, "alice")
	bob := createNeighbor(t, pool, "bob")

	chatID, msgID, err := msgs.SaveMessage(ctx, alice, bob, "hi bob")
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	// The sender sees their own message as read without marking it.
	fromAlice, err := msgs.GetMessages(ctx, alice, chatID)
	if err != nil {
		t.Fatalf("GetMessages as sender failed: %v", err)
	}
	if len(fromAlice) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fromAlice))
	}
	if !fromAlice[0].SentByMe || !fromAlice[0].Read {
		t.Fatalf("sender view wrong: %+v", fromAlice[0])
	}

	// The recipient sees it unread and not theirs.
	fromBob, err := msgs.GetMessages(ctx, bob, chatID)
	if err != nil {
		t.Fatalf("GetMessages as recipient failed: %v", err)
	}
	if fromBob[0].SentByMe || fromBob[0].Read {
		t.Fatalf("recipient view wrong: %+v", fromBob[0])
	}

	if err := msgs.MarkRead(ctx, bob, msgID); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	fromBob, err = msgs.GetMessages(ctx, bob, chatID)
	if err != nil {
		t.Fatalf("GetMessages after mark failed: %v", err)
	}
	if !fromBob[0].Read {
		t.Fatalf("expected message read after MarkRead: %+v", fromBob[0])
	}
}

func TestGetMessages_NewestFirst(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	msgs := NewMessagesStore(pool)

	alice := createNeighbor(t, pool, "alice")
	bob := createNeighbor(t, pool, "bob")

	chatID, first, err := msgs.SaveMessage(ctx, alice, bob, "one")
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	// Separate send_ts values so the ordering is deterministic.
	time.Sleep(10 * time.Millisecond)
	_, second, err := msgs.SaveMessage(ctx, alice, bob, "two")
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	got, err := msgs.GetMessages(ctx, alice, chatID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != second || got[1].ID != first {
		t.Fatalf("expected newest first [%d %d], got %+v", second, first, got)
	}
}

func TestGetMessages_NonParticipant(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	msgs := NewMessagesStore(pool)

	alice := createNeighbor(t, pool, "alice")
	bob := createNeighbor(t, pool, "bob")
	eve := createNeighbor(t, pool, "eve")

	chatID, _, err := msgs.SaveMessage(ctx, alice, bob, "secret")
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	if _, err := msgs.GetMessages(ctx, eve, chatID); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	msgs := NewMessagesStore(pool)

	alice := createNeighbor(t, pool, "alice")
	bob := createNeighbor(t, pool, "bob")

	_, msgID, err := msgs.SaveMessage(ctx, alice, bob, "hi")
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	if err := msgs.MarkRead(ctx, bob, msgID); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if err := msgs.MarkRead(ctx, bob, msgID); err != nil {
		t.Fatalf("second MarkRead failed: %v", err)
	}

	readBy, err := msgs.ReadBy(ctx, msgID)
	if err != nil {
		t.Fatalf("ReadBy failed: %v", err)
	}
	count := 0
	for _, id := range readBy {
		if id == bob {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected bob exactly once in read_by, got %v", readBy)
	}
}

func TestMessageFor_PerViewer(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	msgs := NewMessagesStore(pool)

	alice := createNeighbor(t, pool, "alice")
	bob := createNeighbor(t, pool, "bob")

	chatID, msgID, err := msgs.SaveMessage(ctx, alice, bob, "hi")
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	forAlice, err := msgs.MessageFor(ctx, alice, msgID)
	if err != nil {
		t.Fatalf("MessageFor(alice) failed: %v", err)
	}
	if !forAlice.SentByMe || !forAlice.Read || forAlice.ChatID != chatID {
		t.Fatalf("sender annotation wrong: %+v", forAlice)
	}

	forBob, err := msgs.MessageFor(ctx, bob, msgID)
	if err != nil {
		t.Fatalf("MessageFor(bob) failed: %v", err)
	}
	if forBob.SentByMe || forBob.Read {
		t.Fatalf("recipient annotation wrong: %+v", forBob)
	}

	if _, err := msgs.MessageFor(ctx, bob, msgID+100); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for missing message, got %v", err)
	}
}
