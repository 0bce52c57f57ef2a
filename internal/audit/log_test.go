package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mailgate/mailgate/internal/db"
)

func setupTestLog(t *testing.T) (*Log, string) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	keyID := uuid.New().String()
	_, err = database.Exec(`
		INSERT INTO api_keys (id, name, key_hash, key_prefix, active, created_at)
		VALUES (?, 'audit-test', 'hash', ?, 1, ?)`,
		keyID, keyID[:11], time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("failed to insert test key: %v", err)
	}

	return NewLog(database.DB), keyID
}

func TestCreateStartsUnresolved(t *testing.T) {
	log, keyID := setupTestLog(t)
	ctx := context.Background()

	id, err := log.Create(ctx, keyID, "user@example.com")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rec, err := log.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec == nil {
		t.Fatal("record not found")
	}
	if rec.Recipient != "user@example.com" {
		t.Errorf("recipient = %q, want user@example.com", rec.Recipient)
	}
	if rec.MessageID != "" {
		t.Errorf("message id = %q, want unset", rec.MessageID)
	}
}

func TestSetMessageID(t *testing.T) {
	log, keyID := setupTestLog(t)
	ctx := context.Background()

	t.Run("success resolves once", func(t *testing.T) {
		id, err := log.Create(ctx, keyID, "a@example.com")
		if err != nil {
			t.Fatal(err)
		}

		if err := log.SetMessageID(ctx, id, "abc123@mail.example.com"); err != nil {
			t.Fatalf("SetMessageID failed: %v", err)
		}

		rec, _ := log.Get(ctx, id)
		if rec.MessageID != "abc123@mail.example.com" {
			t.Errorf("message id = %q, want abc123@mail.example.com", rec.MessageID)
		}
	})

	t.Run("empty marks failed delivery", func(t *testing.T) {
		id, err := log.Create(ctx, keyID, "b@example.com")
		if err != nil {
			t.Fatal(err)
		}

		if err := log.SetMessageID(ctx, id, ""); err != nil {
			t.Fatalf("SetMessageID failed: %v", err)
		}

		rec, _ := log.Get(ctx, id)
		if rec.MessageID != "" {
			t.Errorf("message id = %q, want empty", rec.MessageID)
		}
	})

	t.Run("unknown row errors", func(t *testing.T) {
		if err := log.SetMessageID(ctx, "no-such-row", "x@y"); err == nil {
			t.Error("expected error for unknown row")
		}
	})
}

func TestListByKeyAndTotal(t *testing.T) {
	log, keyID := setupTestLog(t)
	ctx := context.Background()

	recipients := []string{"one@example.com", "two@example.com", "three@example.com"}
	for _, r := range recipients {
		if _, err := log.Create(ctx, keyID, r); err != nil {
			t.Fatal(err)
		}
	}

	records, err := log.ListByKey(ctx, keyID, 2)
	if err != nil {
		t.Fatalf("ListByKey failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2 (limit)", len(records))
	}

	total, err := log.TotalSent(ctx, keyID)
	if err != nil {
		t.Fatalf("TotalSent failed: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}

	if total, _ := log.TotalSent(ctx, "other-key"); total != 0 {
		t.Errorf("total for unknown key = %d, want 0", total)
	}
}
