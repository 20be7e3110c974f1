package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/skobkin/xaescope/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestActionRepoInsertAndListRecent(t *testing.T) {
	ctx := context.Background()
	repo := NewActionRepo(openTestDB(t))
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	for i, cmd := range []string{"trigmode 1", "timebase 2", "noop"} {
		rec := domain.ActionRecord{
			SessionID:  "s1",
			Command:    cmd,
			Kind:       "capture",
			Ops:        2,
			Outcome:    "ok",
			CaptureLen: 10 + i,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
		}
		if i == 1 {
			rec.Error = "device read(0) timeout"
			rec.Outcome = "failed"
		}
		if _, err := repo.Insert(ctx, rec); err != nil {
			t.Fatalf("insert %q: %v", cmd, err)
		}
	}

	records, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Command != "noop" || records[1].Command != "timebase 2" {
		t.Fatalf("expected newest first, got %q, %q", records[0].Command, records[1].Command)
	}
	if records[1].Error != "device read(0) timeout" || records[1].Outcome != "failed" {
		t.Fatalf("expected error to roundtrip, got %+v", records[1])
	}
	if records[0].Error != "" {
		t.Fatalf("expected empty error, got %q", records[0].Error)
	}
	if !records[0].StartedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("expected started_at to roundtrip, got %s", records[0].StartedAt)
	}
	if records[0].ID == 0 {
		t.Fatalf("expected id to be set")
	}
}

func TestActionRepoListRecentNonPositiveLimit(t *testing.T) {
	records, err := NewActionRepo(openTestDB(t)).ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestActionRepoPruneOlderThan(t *testing.T) {
	ctx := context.Background()
	repo := NewActionRepo(openTestDB(t))
	now := time.Now()

	old := domain.ActionRecord{SessionID: "s", Command: "noop", Kind: "capture", Ops: 2, Outcome: "ok", StartedAt: now.Add(-48 * time.Hour), FinishedAt: now.Add(-48 * time.Hour)}
	fresh := old
	fresh.StartedAt, fresh.FinishedAt = now, now
	for _, rec := range []domain.ActionRecord{old, fresh} {
		if _, err := repo.Insert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	n, err := repo.PruneOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}
	records, _ := repo.ListRecent(ctx, 10)
	if len(records) != 1 {
		t.Fatalf("expected 1 remaining record, got %d", len(records))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	for i := 0; i < 2; i++ {
		db, err := Open(ctx, path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		var version int
		if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
			t.Fatalf("read version: %v", err)
		}
		if version != len(migrations) {
			t.Fatalf("expected schema version %d, got %d", len(migrations), version)
		}
		_ = db.Close()
	}
}

func TestOpenAppliesPragmas(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var mode string
	if err := db.QueryRowContext(ctx, `PRAGMA journal_mode;`).Scan(&mode); err != nil {
		t.Fatalf("read journal mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal mode, got %q", mode)
	}

	var timeout int
	if err := db.QueryRowContext(ctx, `PRAGMA busy_timeout;`).Scan(&timeout); err != nil {
		t.Fatalf("read busy timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("expected busy timeout 5000, got %d", timeout)
	}
}
