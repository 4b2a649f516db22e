// Package concern attaches lock and issue records to entities and answers
// whether an entity may be mutated.
package concern

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/hierarchy"
	"github.com/yaroslav/stackform/internal/logging"
	"github.com/yaroslav/stackform/internal/metrics"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
)

// Engine manages concerns and their links to entities.
//
// A concern fans out to the all-affected set of its owner. Links live in
// the store, so deleting a concern removes it from every entity at once.
type Engine struct {
	store  *store.Store
	logger *zap.Logger
}

// NewEngine creates a new concern engine.
func NewEngine(st *store.Store, logger *zap.Logger) *Engine {
	return &Engine{store: st, logger: logger}
}

// Tx returns an engine bound to a transaction store. Use it inside
// store.InTx callbacks.
func (e *Engine) Tx(tx *store.Store) *Engine {
	return &Engine{store: tx, logger: e.logger}
}

// Attach links a concern to an entity. A nil or unsaved concern is ignored.
func (e *Engine) Attach(ctx context.Context, ref models.Ref, c *models.Concern) error {
	if !c.Saved() {
		return nil
	}
	if err := e.store.LinkConcern(ctx, c.ID, ref.ID); err != nil {
		return err
	}
	metrics.ConcernOperations.WithLabelValues(string(c.Kind), "attach").Inc()
	return nil
}

// Detach unlinks a concern from an entity. A nil or unsaved concern is ignored.
func (e *Engine) Detach(ctx context.Context, ref models.Ref, c *models.Concern) error {
	if !c.Saved() {
		return nil
	}
	if err := e.store.UnlinkConcern(ctx, c.ID, ref.ID); err != nil {
		return err
	}
	metrics.ConcernOperations.WithLabelValues(string(c.Kind), "detach").Inc()
	return nil
}

// IsLocked reports whether at least one lock concern is attached to the entity.
func (e *Engine) IsLocked(ctx context.Context, ref models.Ref) (bool, error) {
	n, err := e.store.CountAttachedConcerns(ctx, ref.ID, models.ConcernLock)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Attached returns every concern attached to the entity, owned or inherited.
func (e *Engine) Attached(ctx context.Context, ref models.Ref) ([]*models.Concern, error) {
	return e.store.ListAttachedConcerns(ctx, ref.ID)
}

// BlockingNames returns the names of the lock concerns attached to the entity.
func (e *Engine) BlockingNames(ctx context.Context, ref models.Ref) ([]string, error) {
	attached, err := e.store.ListAttachedConcerns(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, c := range attached {
		if c.Kind == models.ConcernLock {
			names = append(names, c.Name)
		}
	}
	return names, nil
}

// OwnIssue returns the issue with the given cause owned by the entity itself.
// Issues inherited from another owner are not returned even when attached.
//
// Returns nil and no error when the entity owns no such issue.
func (e *Engine) OwnIssue(ctx context.Context, ref models.Ref, cause models.ConcernCause) (*models.Concern, error) {
	attached, err := e.store.ListAttachedConcerns(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range attached {
		if c.Kind == models.ConcernIssue && c.Cause == cause && c.Owner == ref {
			return c, nil
		}
	}
	return nil, nil
}

// Create stores a new concern owned by an entity. It is attached to nothing yet.
func (e *Engine) Create(ctx context.Context, kind models.ConcernKind, cause models.ConcernCause, name string, owner models.Ref) (*models.Concern, error) {
	c := &models.Concern{
		ID:        uuid.New().String(),
		Kind:      kind,
		Cause:     cause,
		Name:      name,
		Owner:     owner,
		CreatedAt: time.Now(),
	}
	if err := e.store.CreateConcern(ctx, c); err != nil {
		return nil, err
	}

	metrics.ConcernOperations.WithLabelValues(string(kind), "create").Inc()
	if kind == models.ConcernLock {
		metrics.LocksActive.Inc()
	}
	e.logger.Debug("concern created",
		append(logging.ObjectFields(owner),
			zap.String(logging.FieldConcernID, c.ID),
			zap.String("kind", string(kind)),
			zap.String("cause", string(cause)),
		)...,
	)
	return c, nil
}

// Delete removes a concern from the store and from every entity it was
// attached to. A nil or unsaved concern is ignored.
func (e *Engine) Delete(ctx context.Context, c *models.Concern) error {
	if !c.Saved() {
		return nil
	}
	err := e.store.DeleteConcern(ctx, c.ID)
	if errors.Is(err, models.ErrConcernNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	metrics.ConcernOperations.WithLabelValues(string(c.Kind), "delete").Inc()
	if c.Kind == models.ConcernLock {
		metrics.LocksActive.Dec()
	}
	e.logger.Debug("concern deleted",
		append(logging.ObjectFields(c.Owner), zap.String(logging.FieldConcernID, c.ID))...,
	)
	return nil
}

// Relink attaches a concern to exactly the current all-affected set of its owner.
func (e *Engine) Relink(ctx context.Context, c *models.Concern) error {
	if !c.Saved() {
		return nil
	}
	affected, err := hierarchy.Affected(ctx, e.store, c.Owner)
	if err != nil {
		return fmt.Errorf("failed to compute affected set: %w", err)
	}
	return e.store.ReplaceConcernLinks(ctx, c.ID, hierarchy.IDs(affected))
}

// Spread attaches a concern to exactly the given nodes of a built graph.
func (e *Engine) Spread(ctx context.Context, c *models.Concern, nodes []*hierarchy.Node) error {
	if !c.Saved() {
		return nil
	}
	return e.store.ReplaceConcernLinks(ctx, c.ID, hierarchy.IDs(nodes))
}

// Raise creates a concern owned by an entity and attaches it to the owner's
// all-affected set.
func (e *Engine) Raise(ctx context.Context, kind models.ConcernKind, cause models.ConcernCause, name string, owner models.Ref) (*models.Concern, error) {
	affected, err := hierarchy.Affected(ctx, e.store, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to compute affected set: %w", err)
	}

	c, err := e.Create(ctx, kind, cause, name, owner)
	if err != nil {
		return nil, err
	}
	if err := e.store.LinkConcern(ctx, c.ID, hierarchy.IDs(affected)...); err != nil {
		return nil, err
	}

	e.logger.Info("concern raised",
		append(logging.ObjectFields(owner),
			zap.String(logging.FieldConcernID, c.ID),
			zap.String("kind", string(kind)),
			zap.Int("affected", len(affected)),
		)...,
	)
	return c, nil
}

// Lock raises a lock concern over the all-affected set of the owner.
func (e *Engine) Lock(ctx context.Context, owner models.Ref, cause models.ConcernCause, name string) (*models.Concern, error) {
	return e.Raise(ctx, models.ConcernLock, cause, name, owner)
}
