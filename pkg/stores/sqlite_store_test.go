package stores

import (
	"context"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"runs", "snapshots", "events"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	run := NewRun(RunKindSnapshot)
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Kind != RunKindSnapshot || got.Status != RunStatusRunning {
		t.Errorf("got kind=%s status=%s, want snapshot/running", got.Kind, got.Status)
	}

	msg := "capture failed"
	if err := store.FinishRun(ctx, run.ID, RunStatusFailed, &msg); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get finished run: %v", err)
	}
	if got.Status != RunStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error == nil || *got.Error != msg {
		t.Errorf("error = %v, want %q", got.Error, msg)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for _, kind := range []RunKind{RunKindPrepare, RunKindDeploy, RunKindCollect} {
		if err := store.CreateRun(ctx, NewRun(kind)); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("got %d runs, want 3", len(runs))
	}

	runs, err = store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list runs with limit: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d runs with limit 2, want 2", len(runs))
	}
}

func TestSnapshotOverwriteByName(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	first := &Snapshot{Name: "baseline", TakenAt: time.Now().Add(-time.Hour)}
	if err := store.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	second := &Snapshot{Name: "baseline", TakenAt: time.Now(), Restored: true}
	if err := store.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("failed to overwrite snapshot: %v", err)
	}

	snaps, err := store.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("failed to list snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1 after overwrite", len(snaps))
	}

	got, err := store.GetSnapshot(ctx, "baseline")
	if err != nil {
		t.Fatalf("failed to get snapshot: %v", err)
	}
	if !got.Restored {
		t.Error("overwrite did not update the restored flag")
	}
	if !got.TakenAt.After(first.TakenAt) {
		t.Error("overwrite did not update taken_at")
	}
}

func TestDeleteSnapshot(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.SaveSnapshot(ctx, &Snapshot{Name: "gone", TakenAt: time.Now()}); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}
	if err := store.DeleteSnapshot(ctx, "gone"); err != nil {
		t.Fatalf("failed to delete snapshot: %v", err)
	}
	if _, err := store.GetSnapshot(ctx, "gone"); err == nil {
		t.Error("expected error getting deleted snapshot")
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	run := NewRun(RunKindDeploy)
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	events := []*Event{
		{RunID: &run.ID, Level: EventLevelInfo, Message: "deploy started", Timestamp: time.Now()},
		{RunID: &run.ID, Level: EventLevelError, Message: "host0 unreachable", Timestamp: time.Now()},
		{Level: EventLevelInfo, Message: "unrelated", Timestamp: time.Now()},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	got, err := store.ListEvents(ctx, &run.ID, 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d events for run, want 2", len(got))
	}

	all, err := store.ListEvents(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list all events: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d events total, want 3", len(all))
	}
}
