package quota

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mailgate/mailgate/internal/db"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "quota.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return database.DB
}

// insertTestKey creates an api_keys row directly; daily_usage has a
// foreign key on it.
func insertTestKey(t *testing.T, dbc *sql.DB, dailyLimit int) string {
	t.Helper()

	id := uuid.New().String()
	var limit sql.NullInt64
	if dailyLimit > 0 {
		limit = sql.NullInt64{Int64: int64(dailyLimit), Valid: true}
	}

	_, err := dbc.Exec(`
		INSERT INTO api_keys (id, name, key_hash, key_prefix, daily_limit, allowed_recipients, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		id, "test-"+id[:8], "hash", id[:11], limit, "[]", time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("failed to insert test key: %v", err)
	}
	return id
}

func countUsageRows(t *testing.T, dbc *sql.DB, keyID string) int {
	t.Helper()

	var n int
	err := dbc.QueryRow("SELECT COUNT(*) FROM daily_usage WHERE api_key_id = ?", keyID).Scan(&n)
	if err != nil {
		t.Fatalf("failed to count usage rows: %v", err)
	}
	return n
}

func TestIncrementCreatesRowWithRequestedCount(t *testing.T) {
	dbc := setupTestDB(t)
	ledger := NewLedger(dbc)
	keyID := insertTestKey(t, dbc, 0)
	ctx := context.Background()

	tx, err := ledger.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}

	count, err := ledger.Increment(ctx, tx, keyID, "2025-06-01", 5)
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if count != 5 {
		t.Errorf("first increment returned %d, want 5", count)
	}

	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if got := countUsageRows(t, dbc, keyID); got != 1 {
		t.Errorf("usage rows = %d, want 1", got)
	}
}

func TestIncrementAccumulates(t *testing.T) {
	dbc := setupTestDB(t)
	ledger := NewLedger(dbc)
	keyID := insertTestKey(t, dbc, 0)
	ctx := context.Background()

	for i, want := range []int{2, 4, 6} {
		tx, err := ledger.Begin(ctx)
		if err != nil {
			t.Fatal(err)
		}
		count, err := ledger.Increment(ctx, tx, keyID, "2025-06-01", 2)
		if err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
		if count != want {
			t.Errorf("increment %d returned %d, want %d", i, count, want)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
	}

	// Still a single row despite three increments
	if got := countUsageRows(t, dbc, keyID); got != 1 {
		t.Errorf("usage rows = %d, want 1", got)
	}
}

func TestIncrementRollbackDiscardsArithmetic(t *testing.T) {
	dbc := setupTestDB(t)
	ledger := NewLedger(dbc)
	keyID := insertTestKey(t, dbc, 0)
	ctx := context.Background()

	tx, err := ledger.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Increment(ctx, tx, keyID, "2025-06-01", 3); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	count, err := ledger.Read(ctx, keyID, "2025-06-01")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count after rollback = %d, want 0", count)
	}
	if got := countUsageRows(t, dbc, keyID); got != 0 {
		t.Errorf("usage rows after rollback = %d, want 0", got)
	}
}

func TestReadMissingRowIsZero(t *testing.T) {
	dbc := setupTestDB(t)
	ledger := NewLedger(dbc)
	keyID := insertTestKey(t, dbc, 0)

	count, err := ledger.Read(context.Background(), keyID, "2025-06-01")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Read = %d, want 0", count)
	}
}

func TestDayIsUTC(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{
			name: "utc midnight",
			in:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			want: "2025-06-01",
		},
		{
			name: "positive offset before local midnight",
			in:   time.Date(2025, 6, 1, 1, 30, 0, 0, time.FixedZone("UTC+3", 3*3600)),
			want: "2025-05-31",
		},
		{
			name: "negative offset after local midnight",
			in:   time.Date(2025, 5, 31, 22, 0, 0, 0, time.FixedZone("UTC-5", -5*3600)),
			want: "2025-06-01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Day(tt.in); got != tt.want {
				t.Errorf("Day(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
