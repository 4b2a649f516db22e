// Package service implements the mutations callers perform on the topology:
// creating and deleting entities, installing services, mapping components
// to hosts, binding imports and saving configuration. Every mutation runs in
// one transaction that also recomputes the issues of the affected hierarchy.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/concern"
	"github.com/yaroslav/stackform/internal/issue"
	"github.com/yaroslav/stackform/internal/logging"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
)

// topology holds what every mutation service needs.
type topology struct {
	store    *store.Store
	concerns *concern.Engine
	issues   *issue.Updater
	logger   *zap.Logger
}

func newTopology(st *store.Store, logger *zap.Logger) topology {
	return topology{
		store:    st,
		concerns: concern.NewEngine(st, logger),
		issues:   issue.NewUpdater(st, logger),
		logger:   logger,
	}
}

// checkUnlocked returns models.ErrLocked if a lock concern covers the entity.
func (t topology) checkUnlocked(ctx context.Context, tx *store.Store, e *models.Entity) error {
	locked, err := t.concerns.Tx(tx).IsLocked(ctx, e.Ref())
	if err != nil {
		return err
	}
	if locked {
		return fmt.Errorf("%w: %s %q", models.ErrLocked, e.Kind, e.Name)
	}
	return nil
}

// mutate runs fn in a transaction and, before committing, recomputes the
// issues of the hierarchy around the entity fn returns. A zero ref skips it.
func (t topology) mutate(ctx context.Context, fn func(tx *store.Store) (models.Ref, error)) error {
	return t.store.InTx(ctx, func(tx *store.Store) error {
		ref, err := fn(tx)
		if err != nil {
			return err
		}
		if ref.ID == "" {
			return nil
		}
		if err := t.issues.Tx(tx).UpdateHierarchy(ctx, ref); err != nil {
			return fmt.Errorf("failed to update issues of %s: %w", ref, err)
		}
		return nil
	})
}

func (t topology) log(ref models.Ref) *zap.Logger {
	return t.logger.With(logging.ObjectFields(ref)...)
}

// prototypeOf loads a prototype and checks its type.
func prototypeOf(ctx context.Context, st *store.Store, id string, typ models.PrototypeType) (*models.Prototype, error) {
	proto, err := st.GetPrototype(ctx, id)
	if err != nil {
		return nil, err
	}
	if proto.Type != typ {
		return nil, fmt.Errorf("%w: prototype %s is a %s, not a %s", models.ErrInvalidRequest, proto.Name, proto.Type, typ)
	}
	return proto, nil
}

// rootPrototype returns the cluster or provider prototype of a bundle.
func rootPrototype(ctx context.Context, st *store.Store, bundleID string, typ models.PrototypeType) (*models.Prototype, error) {
	if _, err := st.GetBundle(ctx, bundleID); err != nil {
		return nil, err
	}
	protos, err := st.ListPrototypes(ctx, bundleID, typ)
	if err != nil {
		return nil, err
	}
	if len(protos) == 0 {
		return nil, fmt.Errorf("%w: bundle %s has no %s prototype", models.ErrInvalidRequest, bundleID, typ)
	}
	return protos[0], nil
}
