// Package job hands action-backed tasks to the external job runner and
// records their outcome.
//
// Starting a task locks the all-affected set of its object. The lock is
// released when the runner reports completion through Finish.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/concern"
	"github.com/yaroslav/stackform/internal/logging"
	"github.com/yaroslav/stackform/internal/metrics"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
)

// Executor submits a task to the job runner. Submit must not wait for the
// job to complete; the runner reports back through Service.Finish.
type Executor interface {
	Submit(ctx context.Context, task *models.Task) error
}

// LogExecutor accepts every task and only logs it. It stands in for a runner
// that polls the task list.
type LogExecutor struct {
	Logger *zap.Logger
}

// Submit logs the task.
func (e *LogExecutor) Submit(ctx context.Context, task *models.Task) error {
	e.Logger.Info("task submitted",
		append(logging.ObjectFields(task.Object),
			zap.String(logging.FieldTaskID, task.ID),
			zap.String("action", task.Action),
		)...,
	)
	return nil
}

// FinishHook runs inside the Finish transaction after the task status is saved.
type FinishHook func(ctx context.Context, tx *store.Store, task *models.Task) error

// StartRequest describes a task to start.
type StartRequest struct {
	Action           *models.Action
	Object           models.Ref
	UpgradeID        string
	Config           map[string]any
	Attr             map[string]any
	HostComponentMap []models.HostComponent
}

// Service starts and finishes tasks.
type Service struct {
	store    *store.Store
	concerns *concern.Engine
	executor Executor
	hooks    []FinishHook
	logger   *zap.Logger
}

// NewService creates a new job service.
func NewService(st *store.Store, executor Executor, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		concerns: concern.NewEngine(st, logger),
		executor: executor,
		logger:   logger,
	}
}

// OnFinish registers a hook run when a task finishes.
func (s *Service) OnFinish(hook FinishHook) {
	s.hooks = append(s.hooks, hook)
}

// Start records a task, locks its object's all-affected set and submits it.
//
// Returns models.ErrLocked if the object is already locked. If submission
// fails the task is marked failed and its lock released.
func (s *Service) Start(ctx context.Context, req StartRequest) (*models.Task, error) {
	if req.Action == nil {
		return nil, fmt.Errorf("%w: task has no action", models.ErrInvalidRequest)
	}

	locked, err := s.concerns.IsLocked(ctx, req.Object)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, fmt.Errorf("%w: %s", models.ErrLocked, req.Object)
	}

	task := &models.Task{
		ID:               uuid.New().String(),
		Action:           req.Action.Name,
		Object:           req.Object,
		UpgradeID:        req.UpgradeID,
		Config:           req.Config,
		Attr:             req.Attr,
		HostComponentMap: req.HostComponentMap,
		Status:           models.TaskCreated,
		CreatedAt:        time.Now(),
	}

	err = s.store.InTx(ctx, func(tx *store.Store) error {
		lock, err := s.concerns.Tx(tx).Lock(ctx, req.Object, models.CauseJob, fmt.Sprintf("task %s: %s", task.ID, req.Action.Name))
		if err != nil {
			return err
		}
		task.LockID = lock.ID
		return tx.CreateTask(ctx, task)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start task: %w", err)
	}

	logger := s.logger.With(zap.String(logging.FieldTaskID, task.ID))
	logger.Info("task created", append(logging.ObjectFields(task.Object), zap.String("action", task.Action))...)
	metrics.TaskCount.WithLabelValues(string(models.TaskCreated)).Inc()

	if err := s.executor.Submit(ctx, task); err != nil {
		logger.Error("task submission failed", zap.Error(err))
		if _, ferr := s.Finish(ctx, task.ID, models.TaskFailed); ferr != nil {
			logger.Error("failed to release task lock", zap.Error(ferr))
		}
		return nil, fmt.Errorf("failed to submit task: %w", err)
	}

	task.Status = models.TaskRunning
	if err := s.store.UpdateTaskStatus(ctx, task); err != nil {
		return nil, err
	}
	metrics.TaskCount.WithLabelValues(string(models.TaskRunning)).Inc()
	return task, nil
}

// Finish records the outcome reported by the job runner, releases the task
// lock and runs the finish hooks, all in one transaction.
//
// Returns models.ErrTaskFinished if the task already finished.
func (s *Service) Finish(ctx context.Context, taskID string, status models.TaskStatus) (*models.Task, error) {
	if !status.Finished() {
		return nil, fmt.Errorf("%w: %q is not a final status", models.ErrInvalidRequest, status)
	}

	var task *models.Task
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		task, err = tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status.Finished() {
			return fmt.Errorf("%w: task %s is %s", models.ErrTaskFinished, task.ID, task.Status)
		}

		if task.LockID != "" {
			lock, err := tx.GetConcern(ctx, task.LockID)
			if err != nil && !errors.Is(err, models.ErrConcernNotFound) {
				return err
			}
			if err := s.concerns.Tx(tx).Delete(ctx, lock); err != nil {
				return err
			}
		}

		now := time.Now()
		task.Status = status
		task.LockID = ""
		task.FinishedAt = &now
		if err := tx.UpdateTaskStatus(ctx, task); err != nil {
			return err
		}

		for _, hook := range s.hooks {
			if err := hook(ctx, tx, task); err != nil {
				return fmt.Errorf("finish hook failed: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TaskCount.WithLabelValues(string(status)).Inc()
	s.logger.Info("task finished",
		append(logging.ObjectFields(task.Object),
			zap.String(logging.FieldTaskID, task.ID),
			zap.String("status", string(status)),
		)...,
	)
	return task, nil
}

// Get returns a task by id.
func (s *Service) Get(ctx context.Context, taskID string) (*models.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

// List returns the tasks of an object.
func (s *Service) List(ctx context.Context, objectID string) ([]*models.Task, error) {
	return s.store.ListTasks(ctx, objectID)
}
