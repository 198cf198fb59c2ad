package opqueue

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func skipWithoutDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	_, err = pool.Exec(context.Background(), `
		CREATE TABLE IF NOT EXISTS opqueue_kv (
			key   text PRIMARY KEY,
			value bytea NOT NULL
		)
	`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return pool
}

func TestIntegration_PostgresRoundTrip(t *testing.T) {
	pool := skipWithoutDB(t)
	s := NewPostgresStorage(pool)
	ctx := context.Background()

	key := "queue:int-test-" + time.Now().Format("150405.000")
	t.Cleanup(func() { _ = s.Remove(context.Background(), key) })

	if err := s.Set(ctx, key, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte(`{"a":1}`)) {
		t.Errorf("expected payload round-trip, got %s", got)
	}

	// Upsert replaces the value.
	if err := s.Set(ctx, key, []byte(`{"a":2}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = s.Get(ctx, key)
	if !bytes.Equal(got, []byte(`{"a":2}`)) {
		t.Errorf("expected upserted value, got %s", got)
	}

	keys, err := s.Keys(ctx, "queue:int-test-")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	found := false
	for _, k := range keys {
		if k == key {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in prefix scan, got %v", key, keys)
	}

	if err := s.Remove(ctx, key); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, key); err != nil {
		t.Fatalf("repeat remove: %v", err)
	}
	got, err = s.Get(ctx, key)
	if err != nil || got != nil {
		t.Errorf("expected (nil, nil) after remove, got (%v, %v)", got, err)
	}
}

func TestIntegration_PostgresBackedEngine(t *testing.T) {
	pool := skipWithoutDB(t)
	e, _ := newTestEngine(NewPostgresStorage(pool), false)
	ctx := context.Background()

	id, err := e.Enqueue(ctx, TypeEventLog, []byte(`{"msg":"integration"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	t.Cleanup(func() { _ = e.RemoveOperation(context.Background(), id) })

	ops, err := e.QueuedOperations(ctx)
	if err != nil {
		t.Fatalf("queued operations: %v", err)
	}
	found := false
	for _, op := range ops {
		if op.ID == id {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in queue, got %d records", id, len(ops))
	}
}
