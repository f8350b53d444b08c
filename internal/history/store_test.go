package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/hive/internal/task"
)

// testStore creates an in-memory archive for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestArchiveAndRecentTasks(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rec := Record{
		ID:          "task-1",
		Description: "summarize research notes",
		Priority:    "high",
		Status:      "completed",
		AssignedTo:  "writer",
		Requires:    []string{"writing", "summarization"},
		DependsOn:   []string{"dep-1", "dep-2"},
		Result:      "three paragraph summary",
		CreatedAt:   now.Add(-time.Minute),
		StartedAt:   now.Add(-30 * time.Second),
		FinishedAt:  now,
	}

	if err := store.ArchiveTask(ctx, rec); err != nil {
		t.Fatalf("failed to archive task: %v", err)
	}

	records, err := store.RecentTasks(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list recent tasks: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	got := records[0]
	if got.ID != rec.ID {
		t.Errorf("ID mismatch: got %s, want %s", got.ID, rec.ID)
	}
	if got.Description != rec.Description {
		t.Errorf("Description mismatch: got %s, want %s", got.Description, rec.Description)
	}
	if got.Status != "completed" || got.Priority != "high" {
		t.Errorf("Status/Priority = %s/%s", got.Status, got.Priority)
	}
	if got.Result != rec.Result {
		t.Errorf("Result mismatch: got %q, want %q", got.Result, rec.Result)
	}
	if len(got.Requires) != 2 {
		t.Errorf("Requires = %v, want two capabilities", got.Requires)
	}
	if len(got.DependsOn) != 2 {
		t.Errorf("DependsOn = %v, want two dependencies", got.DependsOn)
	}
	if got.ArchivedAt.IsZero() {
		t.Error("ArchivedAt not stamped")
	}
}

func TestArchiveTaskIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rec := Record{ID: "task-1", Description: "first pass", Priority: "medium", Status: "failed", FailureReason: "timeout"}
	if err := store.ArchiveTask(ctx, rec); err != nil {
		t.Fatalf("first archive: %v", err)
	}

	// Re-archiving the same id replaces the row rather than duplicating it.
	rec.Status = "completed"
	rec.FailureReason = ""
	rec.Result = "recovered"
	if err := store.ArchiveTask(ctx, rec); err != nil {
		t.Fatalf("second archive: %v", err)
	}

	records, err := store.RecentTasks(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTasks: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records after re-archive, want 1", len(records))
	}
	if records[0].Status != "completed" || records[0].Result != "recovered" {
		t.Errorf("record = %s/%q, want updated row", records[0].Status, records[0].Result)
	}
}

func TestRecentTasksHonorsLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := Record{
			ID:          fmt.Sprintf("task-%d", i),
			Description: fmt.Sprintf("job %d", i),
			Priority:    "medium",
			Status:      "completed",
		}
		if err := store.ArchiveTask(ctx, rec); err != nil {
			t.Fatalf("archive %d: %v", i, err)
		}
	}

	records, err := store.RecentTasks(ctx, 3)
	if err != nil {
		t.Fatalf("RecentTasks: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	// Most recently archived first.
	if records[0].ID != "task-4" {
		t.Errorf("first record = %s, want task-4", records[0].ID)
	}
}

func TestCountByStatus(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i, status := range []string{"completed", "completed", "failed", "cancelled"} {
		rec := Record{ID: fmt.Sprintf("task-%d", i), Description: "x", Priority: "low", Status: status}
		if err := store.ArchiveTask(ctx, rec); err != nil {
			t.Fatalf("archive %d: %v", i, err)
		}
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts["completed"] != 2 || counts["failed"] != 1 || counts["cancelled"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestNeverStartedTaskArchivesWithNullTimes(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	tk := task.New("cancelled before start")
	tk.Status = task.StatusCancelled
	rec := FromTask(tk)

	if err := store.ArchiveTask(ctx, rec); err != nil {
		t.Fatalf("archive: %v", err)
	}

	records, err := store.RecentTasks(ctx, 1)
	if err != nil {
		t.Fatalf("RecentTasks: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if !records[0].StartedAt.IsZero() || !records[0].FinishedAt.IsZero() {
		t.Errorf("timing = %v/%v, want zero values for a never-started task", records[0].StartedAt, records[0].FinishedAt)
	}
	if records[0].Status != "cancelled" {
		t.Errorf("status = %s, want cancelled", records[0].Status)
	}
}

func TestSQLiteStoreOnDisk(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/nested/history.db"

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	if err := store.ArchiveTask(ctx, Record{ID: "task-1", Description: "persists", Priority: "low", Status: "completed"}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	records, err := store.RecentTasks(ctx, 1)
	if err != nil {
		t.Fatalf("RecentTasks: %v", err)
	}
	if len(records) != 1 || records[0].ID != "task-1" {
		t.Errorf("records = %v", records)
	}
}
