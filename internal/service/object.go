package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/hierarchy"
	"github.com/yaroslav/stackform/internal/inventory"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
)

// ObjectService provides the operations every entity kind shares:
// lookup, configuration, state, affected sets and concerns.
type ObjectService struct {
	topology
}

// NewObjectService creates a new object service.
func NewObjectService(st *store.Store, logger *zap.Logger) *ObjectService {
	return &ObjectService{topology: newTopology(st, logger)}
}

// Get returns an entity.
func (s *ObjectService) Get(ctx context.Context, ref models.Ref) (*models.Entity, error) {
	if !ref.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", models.ErrInvalidRequest, ref.Kind)
	}
	return s.store.GetEntity(ctx, ref)
}

// List returns the entities of one kind.
func (s *ObjectService) List(ctx context.Context, kind models.Kind) ([]*models.Entity, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", models.ErrInvalidRequest, kind)
	}
	return s.store.ListEntities(ctx, store.EntityFilter{Kind: kind})
}

// Config returns the current configuration of an entity, or nil when it has none.
func (s *ObjectService) Config(ctx context.Context, ref models.Ref) (*models.ConfigLog, error) {
	e, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if e.ConfigID == 0 {
		return nil, nil
	}
	return s.store.GetConfig(ctx, e.ConfigID)
}

// UpdateConfig saves a new configuration of an entity and makes it current.
//
// The given keys are merged over the current values and are limited to
// those of the prototype defaults. Previous
// configurations stay in the history so upgrade snapshots can refer to them.
//
// Returns:
//   - The saved configuration
//   - models.ErrLocked if the entity is locked
//   - models.ErrInvalidRequest for keys the prototype does not declare
func (s *ObjectService) UpdateConfig(ctx context.Context, ref models.Ref, config, attr map[string]any) (*models.ConfigLog, error) {
	var cl *models.ConfigLog
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		e, err := tx.GetEntity(ctx, ref)
		if err != nil {
			return err
		}
		if err := s.checkUnlocked(ctx, tx, e); err != nil {
			return err
		}
		proto, err := tx.GetPrototype(ctx, e.PrototypeID)
		if err != nil {
			return err
		}
		for key := range config {
			if _, ok := proto.Config[key]; !ok {
				return fmt.Errorf("%w: %s %q has no config key %q", models.ErrInvalidRequest, e.Kind, e.Name, key)
			}
		}

		merged := make(map[string]any, len(proto.Config))
		if e.ConfigID != 0 {
			current, err := tx.GetConfig(ctx, e.ConfigID)
			if err != nil {
				return err
			}
			for k, v := range current.Config {
				merged[k] = v
			}
		}
		for k, v := range config {
			merged[k] = v
		}

		if err := inventory.SaveConfig(ctx, tx, e, merged, attr, "update"); err != nil {
			return err
		}
		if err := tx.UpdateEntity(ctx, e); err != nil {
			return err
		}
		cl, err = tx.GetConfig(ctx, e.ConfigID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log(ref).Info("config updated", zap.Int64("config_id", cl.ID))
	return cl, nil
}

// SetState sets the state of an entity.
func (s *ObjectService) SetState(ctx context.Context, ref models.Ref, state string) (*models.Entity, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: state is required", models.ErrInvalidRequest)
	}
	var e *models.Entity
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		if e, err = tx.GetEntity(ctx, ref); err != nil {
			return err
		}
		e.State = state
		return tx.UpdateEntity(ctx, e)
	})
	if err != nil {
		return nil, err
	}

	s.log(ref).Info("state changed", zap.String("state", state))
	return e, nil
}

// Affected returns the directly or all affected set of an entity, computed
// on the hierarchy of its cluster or provider.
func (s *ObjectService) Affected(ctx context.Context, ref models.Ref, all bool) ([]models.Ref, error) {
	e, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	tree, err := hierarchy.Build(ctx, s.store, hierarchy.RootOf(e))
	if err != nil {
		return nil, err
	}
	n, err := tree.Node(ref)
	if err != nil {
		return nil, err
	}
	if all {
		return hierarchy.Refs(tree.AllAffected(n)), nil
	}
	return hierarchy.Refs(tree.DirectlyAffected(n)), nil
}

// Concerns returns the concerns attached to an entity.
func (s *ObjectService) Concerns(ctx context.Context, ref models.Ref) ([]*models.Concern, error) {
	if _, err := s.Get(ctx, ref); err != nil {
		return nil, err
	}
	return s.concerns.Attached(ctx, ref)
}

// Locked reports whether a lock concern covers the entity.
func (s *ObjectService) Locked(ctx context.Context, ref models.Ref) (bool, error) {
	if _, err := s.Get(ctx, ref); err != nil {
		return false, err
	}
	return s.concerns.IsLocked(ctx, ref)
}
