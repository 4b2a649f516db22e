// Package upgrade moves clusters and providers between bundle versions.
//
// An upgrade runs as a state machine:
//
//	pending -> validating -> snapshotting -> switching -> reconciling -> committed
//
// Validation failures end in rejected without writing anything. The
// snapshot is committed before the switch so a revert is always possible.
// The switch is one transaction. Reconciliation runs in a second one and
// its failure is reported as a warning since the switch already took effect.
// Upgrades with a bound action stop in awaiting_job and hand off to the job
// runner, which calls ApplySwitch and later reports the task outcome.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/concern"
	"github.com/yaroslav/stackform/internal/issue"
	"github.com/yaroslav/stackform/internal/job"
	"github.com/yaroslav/stackform/internal/logging"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
	"github.com/yaroslav/stackform/pkg/version"
)

// Orchestrator runs upgrades and reverts.
type Orchestrator struct {
	store    *store.Store
	concerns *concern.Engine
	issues   *issue.Updater
	jobs     *job.Service
	logger   *zap.Logger
}

// New creates an orchestrator and registers its task finish hook with jobs.
func New(st *store.Store, jobs *job.Service, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		concerns: concern.NewEngine(st, logger),
		issues:   issue.NewUpdater(st, logger),
		jobs:     jobs,
		logger:   logger,
	}
	jobs.OnFinish(o.finishTask)
	return o
}

// Request carries the inputs passed to an upgrade action.
type Request struct {
	Config           map[string]any
	Attr             map[string]any
	HostComponentMap []models.HostComponent
}

// Result is the outcome of Do, ApplySwitch or Revert.
type Result struct {
	// Object is the upgraded object
	Object models.Ref `json:"object"`

	// Phase is the phase the run ended in
	Phase Phase `json:"phase"`

	// Committed is true when the new prototypes took effect
	Committed bool `json:"committed"`

	// TaskID is set when the upgrade was handed to the job runner
	TaskID string `json:"task_id,omitempty"`

	// Upgradable reports whether further upgrades are available
	Upgradable bool `json:"upgradable"`

	// Warning wraps models.ErrUpgradeReconcileWarning when reconciliation failed
	Warning error `json:"-"`
}

// Available is an upgrade offered to an object.
type Available struct {
	*models.Upgrade

	// Bundle is the target bundle
	Bundle *models.Bundle `json:"bundle"`

	// Upgradable is false when the object state or locks forbid the upgrade now
	Upgradable bool `json:"upgradable"`

	// Reason explains why the upgrade is not upgradable
	Reason string `json:"reason,omitempty"`
}

func (o *Orchestrator) runLogger(ref models.Ref, upgradeID string) *zap.Logger {
	fields := logging.ObjectFields(ref)
	if upgradeID != "" {
		fields = append(fields, zap.String(logging.FieldUpgradeID, upgradeID))
	}
	return o.logger.With(fields...)
}

// Check reports whether the upgrade may run on the object now.
//
// Returns *models.UpgradeError with a reason naming the failed rule.
func (o *Orchestrator) Check(ctx context.Context, ref models.Ref, upgradeID string) error {
	p, err := load(ctx, o.store, ref, upgradeID)
	if err != nil {
		return err
	}
	return o.validate(ctx, o.store, p)
}

// Do validates and runs an upgrade.
//
// Without a bound action the switch and reconciliation run inline and the
// result is committed. With an action, a task is started and the result
// carries its id.
func (o *Orchestrator) Do(ctx context.Context, ref models.Ref, upgradeID string, req Request) (*Result, error) {
	logger := o.runLogger(ref, upgradeID)
	m := newMachine(logger)
	res := &Result{Object: ref}

	if err := m.advance(PhaseValidating); err != nil {
		return nil, err
	}
	p, err := load(ctx, o.store, ref, upgradeID)
	if err == nil {
		err = o.validate(ctx, o.store, p)
	}
	if err != nil {
		if aerr := m.advance(PhaseRejected); aerr != nil {
			return nil, aerr
		}
		res.Phase = m.phase
		logger.Info("upgrade rejected", zap.Error(err))
		return res, err
	}
	logger.Info("upgrade started",
		zap.String("from_version", p.oldProto.Version),
		zap.String("to_version", p.newProto.Version),
	)

	if err := m.advance(PhaseSnapshotting); err != nil {
		return nil, err
	}
	// Transactions are serialized, so a lock taken since validation is visible here.
	err = o.store.InTx(ctx, func(tx *store.Store) error {
		if err := checkLocked(ctx, o, tx, p); err != nil {
			return err
		}
		return snapshot(ctx, tx, p)
	})
	if err != nil {
		_ = m.advance(PhaseFailed)
		res.Phase = m.phase
		return res, fmt.Errorf("failed to snapshot %s: %w", ref, err)
	}

	if p.upgrade.Action != nil {
		task, err := o.jobs.Start(ctx, job.StartRequest{
			Action:           p.upgrade.Action,
			Object:           ref,
			UpgradeID:        p.upgrade.ID,
			Config:           req.Config,
			Attr:             req.Attr,
			HostComponentMap: req.HostComponentMap,
		})
		if err != nil {
			_ = m.advance(PhaseFailed)
			res.Phase = m.phase
			return res, err
		}
		if err := m.advance(PhaseAwaitingJob); err != nil {
			return nil, err
		}
		res.Phase = m.phase
		res.TaskID = task.ID
		logger.Info("upgrade handed to job runner", zap.String(logging.FieldTaskID, task.ID))
		return res, nil
	}

	if err := m.advance(PhaseSwitching); err != nil {
		return nil, err
	}
	return o.switchAndCommit(ctx, m, p, res, logger)
}

// ApplySwitch performs the switch of an action-backed upgrade. The job runner
// calls it while the task still holds its lock, so validation is not repeated
// except for the bindings, which may have changed since.
func (o *Orchestrator) ApplySwitch(ctx context.Context, taskID string) (*Result, error) {
	task, err := o.jobs.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UpgradeID == "" {
		return nil, fmt.Errorf("%w: task %s is not an upgrade", models.ErrInvalidRequest, task.ID)
	}
	if task.Status.Finished() {
		return nil, fmt.Errorf("%w: task %s is %s", models.ErrTaskFinished, task.ID, task.Status)
	}

	logger := o.runLogger(task.Object, task.UpgradeID).With(zap.String(logging.FieldTaskID, task.ID))
	m := newMachine(logger)
	res := &Result{Object: task.Object, TaskID: task.ID}

	p, err := load(ctx, o.store, task.Object, task.UpgradeID)
	if err != nil {
		return nil, err
	}
	if p.object.BeforeUpgrade == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrNoUpgradeSnapshot, task.Object)
	}
	if p.prune, err = importPlan(ctx, o.store, p); err != nil {
		return nil, err
	}
	if err := exportError(ctx, o.store, p); err != nil {
		return nil, err
	}

	if err := m.advance(PhaseSwitching); err != nil {
		return nil, err
	}
	res, err = o.switchAndCommit(ctx, m, p, res, logger)
	if err != nil {
		return res, err
	}

	if task.LockID != "" {
		lock, err := o.store.GetConcern(ctx, task.LockID)
		if err == nil {
			err = o.concerns.Relink(ctx, lock)
		}
		if err != nil && !errors.Is(err, models.ErrConcernNotFound) {
			logger.Warn("failed to extend task lock after switch", zap.Error(err))
		}
	}
	return res, nil
}

// switchAndCommit runs the switching, reconciling and committed phases.
func (o *Orchestrator) switchAndCommit(ctx context.Context, m *machine, p *plan, res *Result, logger *zap.Logger) (*Result, error) {
	err := o.store.InTx(ctx, func(tx *store.Store) error {
		return o.applySwitch(ctx, tx, p, logger)
	})
	if err != nil {
		_ = m.advance(PhaseFailed)
		res.Phase = m.phase
		logger.Error("upgrade switch failed", zap.Error(err))
		if p.previous != nil {
			rerr := o.store.InTx(ctx, func(tx *store.Store) error {
				return restoreSnapshots(ctx, tx, p)
			})
			if rerr != nil {
				logger.Warn("failed to restore previous snapshots", zap.Error(rerr))
			}
		}
		return res, fmt.Errorf("%w: %w", models.ErrUpgradeSwitchFailed, err)
	}

	if err := m.advance(PhaseReconciling); err != nil {
		return nil, err
	}
	err = o.store.InTx(ctx, func(tx *store.Store) error {
		return o.reconcile(ctx, tx, p, logger)
	})
	if err != nil {
		res.Warning = fmt.Errorf("%w: %w", models.ErrUpgradeReconcileWarning, err)
		logger.Warn("upgrade reconcile incomplete", zap.Error(err))
	}

	if p.upgrade.Action == nil && p.upgrade.StateOnSuccess != "" {
		if err := o.setState(ctx, o.store, p.object.Ref(), p.upgrade.StateOnSuccess); err != nil {
			res.Warning = errors.Join(res.Warning, fmt.Errorf("%w: %w", models.ErrUpgradeReconcileWarning, err))
		}
	}

	if err := m.advance(PhaseCommitted); err != nil {
		return nil, err
	}
	res.Phase = m.phase
	res.Committed = true
	res.Upgradable = o.upgradable(ctx, p.object.Ref())

	logger.Info("upgrade committed", zap.String("version", p.newProto.Version))
	return res, nil
}

func (o *Orchestrator) setState(ctx context.Context, st *store.Store, ref models.Ref, state string) error {
	obj, err := st.GetEntity(ctx, ref)
	if err != nil {
		return err
	}
	obj.State = state
	return st.UpdateEntity(ctx, obj)
}

// Revert restores an upgraded object from its snapshot in one transaction.
//
// Returns models.ErrNoUpgradeSnapshot when the object was never upgraded
// and an error wrapping models.ErrUpgradeRevertFailed when the snapshot
// cannot be applied. A failed revert changes nothing.
func (o *Orchestrator) Revert(ctx context.Context, ref models.Ref) (*Result, error) {
	if ref.Kind != models.KindCluster && ref.Kind != models.KindProvider {
		return nil, models.NewUpgradeError(models.ErrUpgradeTargetType,
			fmt.Sprintf("can revert only cluster or provider, not %s", ref.Kind))
	}

	obj, err := o.store.GetEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	if obj.BeforeUpgrade == nil || obj.BeforeUpgrade.BundleID == "" {
		return nil, fmt.Errorf("%w: %s", models.ErrNoUpgradeSnapshot, ref)
	}
	ok, err := switched(ctx, o.store, obj)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s was never switched", models.ErrNoUpgradeSnapshot, ref)
	}
	names, err := o.concerns.BlockingNames(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		return nil, models.NewUpgradeError(models.ErrUpgradeLocked,
			fmt.Sprintf("%s %q has blocking concerns to address: %v", obj.Kind, obj.Name, names))
	}

	logger := o.runLogger(ref, "")
	m := newMachine(logger)
	res := &Result{Object: ref}
	if err := m.advance(PhaseReverting); err != nil {
		return nil, err
	}

	err = o.store.InTx(ctx, func(tx *store.Store) error {
		return o.revert(ctx, tx, obj, logger)
	})
	if err != nil {
		_ = m.advance(PhaseFailed)
		res.Phase = m.phase
		logger.Error("upgrade revert failed", zap.Error(err))
		return res, fmt.Errorf("%w: %w", models.ErrUpgradeRevertFailed, err)
	}

	if err := o.issues.UpdateHierarchy(ctx, ref); err != nil {
		logger.Warn("failed to update issues after revert", zap.Error(err))
	}
	if err := m.advance(PhaseReverted); err != nil {
		return nil, err
	}
	res.Phase = m.phase
	res.Upgradable = o.upgradable(ctx, ref)
	logger.Info("upgrade reverted")
	return res, nil
}

// List returns the upgrades of the object's bundle lineage whose version and
// edition rules accept the object, ordered by target bundle version.
func (o *Orchestrator) List(ctx context.Context, ref models.Ref) ([]*Available, error) {
	if ref.Kind != models.KindCluster && ref.Kind != models.KindProvider {
		return nil, models.NewUpgradeError(models.ErrUpgradeTargetType,
			fmt.Sprintf("can upgrade only cluster or provider, not %s", ref.Kind))
	}
	obj, err := o.store.GetEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	proto, err := o.store.GetPrototype(ctx, obj.PrototypeID)
	if err != nil {
		return nil, err
	}
	bundle, err := o.store.GetBundle(ctx, proto.BundleID)
	if err != nil {
		return nil, err
	}
	upgrades, err := o.store.ListUpgradesByBundleName(ctx, bundle.Name)
	if err != nil {
		return nil, err
	}
	locked, err := o.concerns.BlockingNames(ctx, ref)
	if err != nil {
		return nil, err
	}

	var out []*Available
	for _, up := range upgrades {
		if versionError(proto, up) != nil || editionError(bundle, up) != nil {
			continue
		}
		target, err := o.store.GetBundle(ctx, up.BundleID)
		if err != nil {
			return nil, err
		}

		a := &Available{Upgrade: up, Bundle: target, Upgradable: true}
		switch {
		case len(locked) > 0:
			a.Upgradable, a.Reason = false, fmt.Sprintf("blocking concerns: %v", locked)
		case !up.Allowed(obj.State):
			a.Upgradable, a.Reason = false, fmt.Sprintf("state %q is not in available states %v", obj.State, up.StateAvailable)
		}
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return version.Compare(out[i].Bundle.Version, out[j].Bundle.Version) < 0
	})
	return out, nil
}

func (o *Orchestrator) upgradable(ctx context.Context, ref models.Ref) bool {
	list, err := o.List(ctx, ref)
	if err != nil {
		return false
	}
	for _, a := range list {
		if a.Upgradable {
			return true
		}
	}
	return false
}

// finishTask applies the upgrade's state_on_success when its task succeeds.
// A failed task keeps the snapshot only when the switch already happened.
func (o *Orchestrator) finishTask(ctx context.Context, tx *store.Store, task *models.Task) error {
	if task.UpgradeID == "" {
		return nil
	}
	logger := o.runLogger(task.Object, task.UpgradeID).With(zap.String(logging.FieldTaskID, task.ID))

	if task.Status != models.TaskSuccess {
		return o.failTask(ctx, tx, task.Object, logger)
	}
	up, err := tx.GetUpgrade(ctx, task.UpgradeID)
	if err != nil {
		return err
	}
	if up.StateOnSuccess == "" {
		return nil
	}
	if err := o.setState(ctx, tx, task.Object, up.StateOnSuccess); err != nil {
		return err
	}
	logger.Info("upgrade task succeeded", zap.String("state", up.StateOnSuccess))
	return nil
}

func (o *Orchestrator) failTask(ctx context.Context, tx *store.Store, ref models.Ref, logger *zap.Logger) error {
	obj, err := tx.GetEntity(ctx, ref)
	if err != nil {
		return err
	}
	if obj.BeforeUpgrade == nil {
		return nil
	}
	ok, err := switched(ctx, tx, obj)
	if err != nil {
		return err
	}
	if ok {
		logger.Warn("upgrade task failed after the switch, object keeps its snapshot for revert")
		return nil
	}
	if err := discardSnapshot(ctx, tx, obj); err != nil {
		return err
	}
	logger.Warn("upgrade task failed before the switch, snapshot discarded")
	return nil
}
