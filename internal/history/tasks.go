package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ArchiveTask saves or updates an archived task and its dependencies.
// Uses ON CONFLICT to make archiving idempotent.
func (s *SQLiteStore) ArchiveTask(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	requires := strings.Join(rec.Requires, ",")

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, description, priority, status, assigned_to, requires, result, failure_reason, created_at, started_at, finished_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			priority = excluded.priority,
			status = excluded.status,
			assigned_to = excluded.assigned_to,
			requires = excluded.requires,
			result = excluded.result,
			failure_reason = excluded.failure_reason,
			created_at = excluded.created_at,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			archived_at = CURRENT_TIMESTAMP
	`, rec.ID, rec.Description, rec.Priority, rec.Status, rec.AssignedTo, requires,
		rec.Result, rec.FailureReason, nullableTime(rec.CreatedAt), nullableTime(rec.StartedAt), nullableTime(rec.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}
	for _, depID := range rec.DependsOn {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id)
			VALUES (?, ?)
		`, rec.ID, depID)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", rec.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecentTasks returns up to limit archived tasks, most recent first.
func (s *SQLiteStore) RecentTasks(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, priority, status, assigned_to, requires, result, failure_reason, created_at, started_at, finished_at, archived_at
		FROM tasks
		ORDER BY archived_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var requires string
		var createdAt, startedAt, finishedAt, archivedAt sql.NullTime

		err := rows.Scan(&rec.ID, &rec.Description, &rec.Priority, &rec.Status, &rec.AssignedTo,
			&requires, &rec.Result, &rec.FailureReason, &createdAt, &startedAt, &finishedAt, &archivedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		if requires != "" {
			rec.Requires = strings.Split(requires, ",")
		}
		rec.CreatedAt = createdAt.Time
		rec.StartedAt = startedAt.Time
		rec.FinishedAt = finishedAt.Time
		rec.ArchivedAt = archivedAt.Time

		deps, err := s.dependencies(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.DependsOn = deps

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return records, nil
}

// dependencies loads the dependency ids for one archived task.
func (s *SQLiteStore) dependencies(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id
		FROM task_dependencies
		WHERE task_id = ?
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var deps []string
	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

// CountByStatus returns archived task counts per lifecycle state.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM tasks
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

// nullableTime maps the zero time to NULL so never-started tasks
// archive cleanly.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
