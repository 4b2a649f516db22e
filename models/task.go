package models

import "time"

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

const (
	// TaskCreated means the task was recorded and its object locked.
	TaskCreated TaskStatus = "created"

	// TaskRunning means the job runner accepted the task.
	TaskRunning TaskStatus = "running"

	// TaskSuccess means the job runner reported success.
	TaskSuccess TaskStatus = "success"

	// TaskFailed means the job runner reported failure.
	TaskFailed TaskStatus = "failed"
)

// Finished reports whether the status is terminal.
func (s TaskStatus) Finished() bool {
	return s == TaskSuccess || s == TaskFailed
}

// Task is an action-backed job handed to the external job runner.
type Task struct {
	// ID is the unique identifier for this task (UUID v4 format)
	ID string `json:"id" db:"id"`

	// Action is the action name
	Action string `json:"action" db:"action"`

	// Object is the entity the task runs against
	Object Ref `json:"object" db:"object"`

	// UpgradeID is the UUID of the upgrade that started the task (optional)
	UpgradeID string `json:"upgrade_id,omitempty" db:"upgrade_id"`

	// Config is the action configuration passed to the job runner
	Config map[string]any `json:"config,omitempty" db:"config"`

	// Attr holds configuration attributes passed to the job runner
	Attr map[string]any `json:"attr,omitempty" db:"attr"`

	// HostComponentMap is the requested deployment map passed to the job runner
	HostComponentMap []HostComponent `json:"hostcomponentmap,omitempty" db:"hostcomponentmap"`

	// LockID is the UUID of the lock concern held while the task runs
	LockID string `json:"lock_id,omitempty" db:"lock_id"`

	// Status is the task status
	Status TaskStatus `json:"status" db:"status"`

	// CreatedAt is the timestamp when this task was created
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// FinishedAt is the timestamp when the job runner reported completion
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}
