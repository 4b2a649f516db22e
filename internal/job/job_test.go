package job

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/concern"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/internal/store/storetest"
	"github.com/yaroslav/stackform/models"
)

type recordingExecutor struct {
	mu    sync.Mutex
	tasks []*models.Task
	err   error
}

func (e *recordingExecutor) Submit(ctx context.Context, task *models.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.tasks = append(e.tasks, task)
	return nil
}

type jobFixture struct {
	*storetest.Fixture
	service  *Service
	executor *recordingExecutor
	engine   *concern.Engine
	cluster  *models.Entity
	hdfs     *models.Entity
}

func setupJob(t *testing.T) *jobFixture {
	t.Helper()
	f := storetest.NewFixture(t)
	b := f.Bundle("hadoop", "1.0", "community")
	hdfsPt := f.Prototype(b, models.TypeService, "hdfs", nil)
	cluster := f.Entity(f.Prototype(b, models.TypeCluster, "hadoop", nil), "prod")
	hdfs := f.Service(cluster, hdfsPt)

	exec := &recordingExecutor{}
	return &jobFixture{
		Fixture:  f,
		service:  NewService(f.Store, exec, zap.NewNop()),
		executor: exec,
		engine:   concern.NewEngine(f.Store, zap.NewNop()),
		cluster:  cluster,
		hdfs:     hdfs,
	}
}

func (jf *jobFixture) locked(t *testing.T, e *models.Entity) bool {
	t.Helper()
	locked, err := jf.engine.IsLocked(context.Background(), e.Ref())
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	return locked
}

func TestService_StartAndFinish(t *testing.T) {
	jf := setupJob(t)
	ctx := context.Background()

	var hooked *models.Task
	jf.service.OnFinish(func(ctx context.Context, tx *store.Store, task *models.Task) error {
		hooked = task
		return nil
	})

	task, err := jf.service.Start(ctx, StartRequest{
		Action: &models.Action{Name: "install"},
		Object: jf.hdfs.Ref(),
		Config: map[string]any{"retries": float64(3)},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if task.Status != models.TaskRunning {
		t.Errorf("Expected running task, got %s", task.Status)
	}
	if len(jf.executor.tasks) != 1 || jf.executor.tasks[0].ID != task.ID {
		t.Fatalf("Expected task to be submitted, got %v", jf.executor.tasks)
	}

	if !jf.locked(t, jf.cluster) || !jf.locked(t, jf.hdfs) {
		t.Fatal("Expected task object's affected set to be locked")
	}

	_, err = jf.service.Start(ctx, StartRequest{Action: &models.Action{Name: "restart"}, Object: jf.cluster.Ref()})
	if !errors.Is(err, models.ErrLocked) {
		t.Fatalf("Expected ErrLocked for a second task, got %v", err)
	}

	finished, err := jf.service.Finish(ctx, task.ID, models.TaskSuccess)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if finished.Status != models.TaskSuccess || finished.FinishedAt == nil {
		t.Errorf("Expected finished success task, got %+v", finished)
	}
	if hooked == nil || hooked.ID != task.ID {
		t.Error("Expected finish hook to run")
	}
	if jf.locked(t, jf.cluster) || jf.locked(t, jf.hdfs) {
		t.Error("Expected lock to be released")
	}

	got, err := jf.service.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.TaskSuccess || got.Config["retries"] != float64(3) {
		t.Errorf("Unexpected stored task %+v", got)
	}

	_, err = jf.service.Finish(ctx, task.ID, models.TaskFailed)
	if !errors.Is(err, models.ErrTaskFinished) {
		t.Errorf("Expected ErrTaskFinished, got %v", err)
	}
}

func TestService_FinishRejectsNonFinalStatus(t *testing.T) {
	jf := setupJob(t)

	_, err := jf.service.Finish(context.Background(), "any", models.TaskRunning)
	if !errors.Is(err, models.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
}

func TestService_HookFailureKeepsTaskRunning(t *testing.T) {
	jf := setupJob(t)
	ctx := context.Background()

	jf.service.OnFinish(func(ctx context.Context, tx *store.Store, task *models.Task) error {
		return errors.New("boom")
	})

	task, err := jf.service.Start(ctx, StartRequest{Action: &models.Action{Name: "install"}, Object: jf.cluster.Ref()})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := jf.service.Finish(ctx, task.ID, models.TaskSuccess); err == nil {
		t.Fatal("Expected hook error")
	}

	got, err := jf.service.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.TaskRunning {
		t.Errorf("Expected rolled back status running, got %s", got.Status)
	}
	if !jf.locked(t, jf.cluster) {
		t.Error("Expected lock to survive the rolled back finish")
	}
}

func TestService_SubmitFailureReleasesLock(t *testing.T) {
	jf := setupJob(t)
	jf.executor.err = errors.New("runner unavailable")

	_, err := jf.service.Start(context.Background(), StartRequest{Action: &models.Action{Name: "install"}, Object: jf.cluster.Ref()})
	if err == nil {
		t.Fatal("Expected submit error")
	}
	if jf.locked(t, jf.cluster) {
		t.Error("Expected lock to be released after a failed submit")
	}

	tasks, err := jf.service.List(context.Background(), jf.cluster.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != models.TaskFailed {
		t.Errorf("Expected one failed task, got %+v", tasks)
	}
}
