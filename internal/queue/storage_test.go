package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStorage(t *testing.T) *BoltStorage {
	t.Helper()

	s, err := NewBoltStorage(filepath.Join(t.TempDir(), "spool.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMessage(id string, createdAt time.Time) *Message {
	return &Message{
		ID:        id,
		From:      "gateway@example.com",
		To:        []string{"rcpt@example.org"},
		Data:      []byte("From: gateway@example.com\r\n\r\nbody"),
		MessageID: id + "@example.com",
		AuditIDs:  []string{"audit-" + id},
		Status:    StatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestEnqueueDequeue(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	msg := testMessage("m1", time.Now())
	if err := s.Enqueue(ctx, msg); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	got, err := s.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got == nil {
		t.Fatal("Dequeue returned nil, want message")
	}
	if got.ID != "m1" {
		t.Errorf("id = %q, want m1", got.ID)
	}
	if got.Status != StatusSending {
		t.Errorf("status = %q, want sending", got.Status)
	}
	if len(got.AuditIDs) != 1 || got.AuditIDs[0] != "audit-m1" {
		t.Errorf("audit ids = %v, want [audit-m1]", got.AuditIDs)
	}

	// A dequeued message is no longer pending
	again, err := s.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Errorf("second Dequeue = %v, want nil", again)
	}
}

func TestDequeueOldestFirst(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	base := time.Now()
	// Enqueue out of creation order
	for _, m := range []*Message{
		testMessage("newer", base.Add(2*time.Second)),
		testMessage("oldest", base),
		testMessage("middle", base.Add(time.Second)),
	} {
		if err := s.Enqueue(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	for _, want := range []string{"oldest", "middle", "newer"} {
		got, err := s.Dequeue(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || got.ID != want {
			t.Fatalf("dequeued %v, want %s", got, want)
		}
	}
}

func TestDequeueEmptySpool(t *testing.T) {
	s := setupTestStorage(t)

	msg, err := s.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if msg != nil {
		t.Errorf("Dequeue = %v, want nil on empty spool", msg)
	}
}

func TestUpdateAndGet(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	msg := testMessage("m1", time.Now())
	if err := s.Enqueue(ctx, msg); err != nil {
		t.Fatal(err)
	}

	dequeued, _ := s.Dequeue(ctx)
	dequeued.Status = StatusFailed
	dequeued.LastError = "connection refused"
	if err := s.Update(ctx, dequeued); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.LastError != "connection refused" {
		t.Errorf("last error = %q", got.LastError)
	}

	missing, err := s.Get(ctx, "no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("Get unknown id = %v, want nil", missing)
	}
}

func TestStats(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if err := s.Enqueue(ctx, testMessage(id, time.Now().Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	// a -> delivered, b -> failed, c stays pending
	a, _ := s.Dequeue(ctx)
	a.Status = StatusDelivered
	s.Update(ctx, a)

	b, _ := s.Dequeue(ctx)
	b.Status = StatusFailed
	s.Update(ctx, b)

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.Pending != 1 || stats.Delivered != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 pending / 1 delivered / 1 failed", stats)
	}
}

func TestSpoolSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.db")
	ctx := context.Background()

	s, err := NewBoltStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(ctx, testMessage("durable", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBoltStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	msg, err := reopened.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil || msg.ID != "durable" {
		t.Fatalf("dequeued %v after reopen, want durable", msg)
	}
}
