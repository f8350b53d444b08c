// Package history archives terminal task snapshots to SQLite. The
// archive is an observability surface, not system of record: the
// in-memory registry stays authoritative while the process lives, and
// nothing is replayed from disk on startup.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aristath/hive/internal/task"
)

// Record is one archived task row.
type Record struct {
	ID            string
	Description   string
	Priority      string
	Status        string
	AssignedTo    string
	Requires      []string
	DependsOn     []string
	Result        string
	FailureReason string
	CreatedAt     time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
	ArchivedAt    time.Time
}

// FromTask converts a task snapshot into its archive row.
func FromTask(t *task.Task) Record {
	return Record{
		ID:            t.ID,
		Description:   t.Description,
		Priority:      t.Priority.String(),
		Status:        t.Status.String(),
		AssignedTo:    t.AssignedTo,
		Requires:      t.Requires,
		DependsOn:     t.DependsOn,
		Result:        t.Result,
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		StartedAt:     t.StartedAt,
		FinishedAt:    t.FinishedAt,
	}
}

// Store defines the archive interface.
type Store interface {
	// ArchiveTask records a terminal task snapshot. Idempotent per id.
	ArchiveTask(ctx context.Context, rec Record) error

	// RecentTasks returns up to limit records, most recently archived
	// first.
	RecentTasks(ctx context.Context, limit int) ([]Record, error)

	// CountByStatus returns archived task counts per lifecycle state.
	CountByStatus(ctx context.Context) (map[string]int, error)

	// Close releases the underlying database.
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed archive at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys,
// and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// Note: modernc.org/sqlite doesn't support _foreign_keys in the
	// connection string, so that pragma is applied separately.
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return prepare(ctx, db)
}

// NewMemoryStore creates an in-memory archive for testing. Uses a
// shared cache so multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	return prepare(ctx, db)
}

func prepare(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// One connection for primary queries, one for the per-row
	// dependency lookups in RecentTasks.
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
