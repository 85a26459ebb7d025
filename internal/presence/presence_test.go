package presence

import (
	"context"
	"os"
	"testing"

	"github.com/neighborly-app/chat-gateway/internal/db"
)

// Integration tests; require DATABASE_URL pointing at PostgreSQL.

func TestStore_AddRemovePurge(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("db.Open failed: %v", err)
	}
	defer func() { _ = pool.Close() }()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	s := New(pool, "presence-test")
	if err := s.Purge(ctx); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	if err := s.Add(ctx, "c1", 10); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Add(ctx, "c2", 10); err != nil {
		t.Fatalf("Add c2 failed: %v", err)
	}

	conns, err := s.Connections(ctx, 10)
	if err != nil {
		t.Fatalf("Connections failed: %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(conns))
	}

	// Re-identifying a connection under another neighbor overwrites.
	if err := s.Add(ctx, "c1", 11); err != nil {
		t.Fatalf("Add reassign failed: %v", err)
	}
	conns, err = s.Connections(ctx, 10)
	if err != nil {
		t.Fatalf("Connections failed: %v", err)
	}
	if len(conns) != 1 || conns[0] != "c2" {
		t.Fatalf("expected only c2 for neighbor 10, got %v", conns)
	}

	if err := s.Remove(ctx, "c2"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	// Removing an unknown connection is a no-op.
	if err := s.Remove(ctx, "never-registered"); err != nil {
		t.Fatalf("Remove of unknown conn failed: %v", err)
	}

	if err := s.Purge(ctx); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	conns, err = s.Connections(ctx, 11)
	if err != nil {
		t.Fatalf("Connections failed: %v", err)
	}
	if len(conns) != 0 {
		t.Fatalf("expected purge to clear rows, got %v", conns)
	}
}
