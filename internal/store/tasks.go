package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yaroslav/stackform/models"
)

const taskColumns = `id, action, object_kind, object_id, upgrade_id, config, attr, hostcomponentmap, lock_id, status, created_at, finished_at`

// CreateTask stores a job task.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	config, err := marshalJSON(t.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal task config: %w", err)
	}
	attr, err := marshalJSON(t.Attr)
	if err != nil {
		return fmt.Errorf("failed to marshal task attr: %w", err)
	}
	hcMap, err := marshalJSON(t.HostComponentMap)
	if err != nil {
		return fmt.Errorf("failed to marshal task host component map: %w", err)
	}

	_, err = s.exec(ctx, "create_task", `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, t.ID, t.Action, string(t.Object.Kind), t.Object.ID, nullString(t.UpgradeID),
		config, attr, hcMap, nullString(t.LockID), string(t.Status), t.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.queryRow(ctx, "get_task", `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTaskNotFound
	}
	return t, err
}

// ListTasks returns the tasks run against an entity, newest first.
func (s *Store) ListTasks(ctx context.Context, objectID string) ([]*models.Task, error) {
	rows, err := s.query(ctx, "list_tasks", `
		SELECT `+taskColumns+` FROM tasks WHERE object_id = ? ORDER BY created_at DESC, id
	`, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus saves the status, lock and completion time of a task.
func (s *Store) UpdateTaskStatus(ctx context.Context, t *models.Task) error {
	var finishedAt sql.NullInt64
	if t.FinishedAt != nil {
		finishedAt = sql.NullInt64{Int64: t.FinishedAt.Unix(), Valid: true}
	}

	result, err := s.exec(ctx, "update_task", `
		UPDATE tasks SET status = ?, lock_id = ?, finished_at = ? WHERE id = ?
	`, string(t.Status), nullString(t.LockID), finishedAt, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		t                   models.Task
		kind, status        string
		upgradeID, lockID   sql.NullString
		config, attr, hcMap sql.NullString
		createdAt           int64
		finishedAt          sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.Action, &kind, &t.Object.ID, &upgradeID, &config, &attr, &hcMap,
		&lockID, &status, &createdAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	t.Object.Kind = models.Kind(kind)
	t.UpgradeID = upgradeID.String
	t.LockID = lockID.String
	t.Status = models.TaskStatus(status)
	t.CreatedAt = time.Unix(createdAt, 0)
	if finishedAt.Valid {
		ts := time.Unix(finishedAt.Int64, 0)
		t.FinishedAt = &ts
	}
	if err := unmarshalJSON(config, &t.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task config: %w", err)
	}
	if err := unmarshalJSON(attr, &t.Attr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task attr: %w", err)
	}
	if err := unmarshalJSON(hcMap, &t.HostComponentMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task host component map: %w", err)
	}
	return &t, nil
}
