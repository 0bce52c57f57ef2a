package keys

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mailgate/mailgate/internal/db"
	"github.com/mailgate/mailgate/internal/models"
)

func setupTestRepo(t *testing.T) (*Repository, *sql.DB) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "keys.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return NewRepository(database.DB), database.DB
}

func TestCreateReturnsPlainKeyOnce(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	result, err := repo.Create(ctx, CreateOptions{Name: "ci-bot"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if !strings.HasPrefix(result.Key, "mg_") {
		t.Errorf("key = %q, want mg_ prefix", result.Key)
	}
	if result.KeyPrefix != result.Key[:keyPrefixLen] {
		t.Errorf("stored prefix %q does not match key", result.KeyPrefix)
	}
	if !result.Active {
		t.Error("new key is not active")
	}

	// The stored record never contains the plain key
	stored, err := repo.GetByID(ctx, result.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.KeyHash == result.Key {
		t.Error("plain key stored in key_hash")
	}
	if strings.Contains(stored.KeyHash, result.Key) {
		t.Error("plain key leaked into stored hash")
	}
}

func TestResolve(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, CreateOptions{Name: "resolver", DailyLimit: 5})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("correct secret", func(t *testing.T) {
		key, err := repo.Resolve(ctx, created.Key)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if key.ID != created.ID {
			t.Errorf("resolved id = %q, want %q", key.ID, created.ID)
		}
		if key.DailyLimit != 5 {
			t.Errorf("daily limit = %d, want 5", key.DailyLimit)
		}
	})

	t.Run("unknown secret", func(t *testing.T) {
		_, err := repo.Resolve(ctx, "mg_0000000000000000000000000000000000000000000000000000000000000000")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("matching prefix wrong secret", func(t *testing.T) {
		tampered := created.Key[:len(created.Key)-4] + "ffff"
		if tampered == created.Key {
			t.Skip("tampering produced the same key")
		}
		_, err := repo.Resolve(ctx, tampered)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("too short", func(t *testing.T) {
		_, err := repo.Resolve(ctx, "mg_12")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("deactivated key still resolves", func(t *testing.T) {
		if err := repo.Deactivate(ctx, created.ID); err != nil {
			t.Fatal(err)
		}
		key, err := repo.Resolve(ctx, created.Key)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if key.Active {
			t.Error("deactivated key reported active")
		}
	})
}

func TestAllowedRecipientsRoundTrip(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, CreateOptions{
		Name:              "restricted",
		AllowedRecipients: []string{"ops@example.com", "alerts@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}

	key, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}

	if len(key.AllowedRecipients) != 2 {
		t.Fatalf("allowed recipients = %v, want 2 entries", key.AllowedRecipients)
	}
	if !key.AllowsRecipient("OPS@example.com") {
		t.Error("case-insensitive match failed")
	}
	if key.AllowsRecipient("other@example.com") {
		t.Error("unlisted recipient allowed")
	}
}

func TestActivateDeactivate(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, CreateOptions{Name: "toggle"})
	if err != nil {
		t.Fatal(err)
	}

	if err := repo.Deactivate(ctx, created.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	key, _ := repo.GetByID(ctx, created.ID)
	if key.Active {
		t.Error("key still active after Deactivate")
	}

	if err := repo.Activate(ctx, created.ID); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	key, _ = repo.GetByID(ctx, created.ID)
	if !key.Active {
		t.Error("key not active after Activate")
	}

	if err := repo.Deactivate(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deactivate unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestListWithStats(t *testing.T) {
	repo, dbc := setupTestRepo(t)
	ctx := context.Background()

	a, err := repo.Create(ctx, CreateOptions{Name: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Create(ctx, CreateOptions{Name: "beta"}); err != nil {
		t.Fatal(err)
	}

	// Give alpha two audit rows
	for i, recipient := range []string{"x@example.com", "y@example.com"} {
		_, err := dbc.Exec(
			"INSERT INTO send_logs (id, api_key_id, recipient, created_at) VALUES (?, ?, ?, datetime('now'))",
			a.ID+"-"+string(rune('0'+i)), a.ID, recipient,
		)
		if err != nil {
			t.Fatal(err)
		}
	}

	list, err := repo.List(ctx, models.APIKeyFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list len = %d, want 2", len(list))
	}

	byName := map[string]int{}
	for _, k := range list {
		byName[k.Name] = k.TotalSent
	}
	if byName["alpha"] != 2 {
		t.Errorf("alpha total sent = %d, want 2", byName["alpha"])
	}
	if byName["beta"] != 0 {
		t.Errorf("beta total sent = %d, want 0", byName["beta"])
	}

	filtered, err := repo.List(ctx, models.APIKeyFilter{Search: "alp"})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].Name != "alpha" {
		t.Errorf("filtered list = %v, want only alpha", filtered)
	}
}
