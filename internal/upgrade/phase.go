package upgrade

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/logging"
	"github.com/yaroslav/stackform/internal/metrics"
)

// Phase is a state of the upgrade state machine.
type Phase string

const (
	PhasePending      Phase = "pending"
	PhaseValidating   Phase = "validating"
	PhaseRejected     Phase = "rejected"
	PhaseSnapshotting Phase = "snapshotting"
	PhaseAwaitingJob  Phase = "awaiting_job"
	PhaseSwitching    Phase = "switching"
	PhaseReconciling  Phase = "reconciling"
	PhaseCommitted    Phase = "committed"
	PhaseReverting    Phase = "reverting"
	PhaseReverted     Phase = "reverted"
	PhaseFailed       Phase = "failed"
)

// transitions lists the phases reachable from each phase. Do starts at
// pending and validates; the job runner's switch callback starts at pending
// and switches directly; Revert starts at pending and reverts.
var transitions = map[Phase][]Phase{
	PhasePending:      {PhaseValidating, PhaseSwitching, PhaseReverting},
	PhaseValidating:   {PhaseRejected, PhaseSnapshotting},
	PhaseSnapshotting: {PhaseSwitching, PhaseAwaitingJob, PhaseFailed},
	PhaseSwitching:    {PhaseReconciling, PhaseFailed},
	PhaseReconciling:  {PhaseCommitted},
	PhaseReverting:    {PhaseReverted, PhaseFailed},
}

// Terminal reports whether no transition leaves the phase.
func (p Phase) Terminal() bool {
	return len(transitions[p]) == 0
}

// CanTransition reports whether the state machine may move from p to next.
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// machine tracks the phase of one orchestrator run.
type machine struct {
	phase  Phase
	start  time.Time
	logger *zap.Logger
}

func newMachine(logger *zap.Logger) *machine {
	return &machine{phase: PhasePending, start: time.Now(), logger: logger}
}

// advance moves the machine to next. An illegal transition is a programming
// error and is reported instead of applied.
func (m *machine) advance(next Phase) error {
	if !m.phase.CanTransition(next) {
		return fmt.Errorf("illegal upgrade transition %s -> %s", m.phase, next)
	}

	m.logger.Debug("upgrade phase", logging.Phase(string(next)), zap.String("from", string(m.phase)))
	m.phase = next
	metrics.UpgradePhases.WithLabelValues(string(next)).Inc()
	if next.Terminal() {
		metrics.UpgradeDuration.WithLabelValues(string(next)).Observe(time.Since(m.start).Seconds())
	}
	return nil
}
