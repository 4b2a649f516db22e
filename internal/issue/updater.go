// Package issue keeps issue concerns in line with the topology after a mutation.
package issue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/concern"
	"github.com/yaroslav/stackform/internal/hierarchy"
	"github.com/yaroslav/stackform/internal/logging"
	"github.com/yaroslav/stackform/internal/requires"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
)

// Updater recomputes requires and import issues for every entity of a graph.
type Updater struct {
	store    *store.Store
	concerns *concern.Engine
	logger   *zap.Logger
}

// NewUpdater creates a new issue updater.
func NewUpdater(st *store.Store, logger *zap.Logger) *Updater {
	return &Updater{
		store:    st,
		concerns: concern.NewEngine(st, logger),
		logger:   logger,
	}
}

// Tx returns an updater bound to a transaction store.
func (u *Updater) Tx(tx *store.Store) *Updater {
	return &Updater{store: tx, concerns: u.concerns.Tx(tx), logger: u.logger}
}

// UpdateHierarchy rebuilds the graph around an entity and, for every
// cluster, service and component in it, raises, relinks or removes the
// entity's own requires and import issues.
func (u *Updater) UpdateHierarchy(ctx context.Context, ref models.Ref) error {
	e, err := u.store.GetEntity(ctx, ref)
	if err != nil {
		return err
	}
	tree, err := hierarchy.Build(ctx, u.store, hierarchy.RootOf(e))
	if err != nil {
		return err
	}

	installed := make(map[string]requires.Installed)
	validator := requires.NewValidator(u.store)

	for _, n := range tree.Nodes() {
		obj := n.Entity
		if obj.Kind != models.KindCluster && obj.Kind != models.KindService && obj.Kind != models.KindComponent {
			continue
		}

		proto, err := u.store.GetPrototype(ctx, obj.PrototypeID)
		if err != nil {
			return err
		}

		clusterID := obj.ClusterID
		if obj.Kind == models.KindCluster {
			clusterID = obj.ID
		}
		in, ok := installed[clusterID]
		if !ok {
			if in, err = validator.Installed(ctx, clusterID); err != nil {
				return err
			}
			installed[clusterID] = in
		}

		var problem string
		if obj.Kind != models.KindCluster {
			if err := in.Check(proto.Requires, describe(obj)); err != nil {
				problem = err.Error()
			}
		}
		if err := u.sync(ctx, tree, n, models.CauseRequires, problem); err != nil {
			return err
		}

		problem = ""
		if obj.Kind != models.KindComponent {
			if problem, err = u.missingImport(ctx, obj, proto); err != nil {
				return err
			}
		}
		if err := u.sync(ctx, tree, n, models.CauseImport, problem); err != nil {
			return err
		}
	}
	return nil
}

// sync makes the entity own exactly one issue of the cause when problem is
// set, attached to its all-affected set, and none otherwise.
func (u *Updater) sync(ctx context.Context, tree *hierarchy.Tree, n *hierarchy.Node, cause models.ConcernCause, problem string) error {
	ref := n.Ref()
	own, err := u.concerns.OwnIssue(ctx, ref, cause)
	if err != nil {
		return err
	}

	if problem == "" {
		if own == nil {
			return nil
		}
		u.logger.Info("issue resolved",
			append(logging.ObjectFields(ref), zap.String(logging.FieldConcernID, own.ID), zap.String("cause", string(cause)))...)
		return u.concerns.Delete(ctx, own)
	}

	if own != nil && own.Name != problem {
		if err := u.concerns.Delete(ctx, own); err != nil {
			return err
		}
		own = nil
	}
	if own == nil {
		if own, err = u.concerns.Create(ctx, models.ConcernIssue, cause, problem, ref); err != nil {
			return err
		}
		u.logger.Info("issue raised",
			append(logging.ObjectFields(ref), zap.String(logging.FieldConcernID, own.ID), zap.String("cause", string(cause)))...)
	}
	return u.concerns.Spread(ctx, own, tree.AllAffected(n))
}

// missingImport describes the first required import of a cluster or service
// that has no binding.
func (u *Updater) missingImport(ctx context.Context, obj *models.Entity, proto *models.Prototype) (string, error) {
	var required []models.PrototypeImport
	for _, imp := range proto.Imports {
		if imp.Required {
			required = append(required, imp)
		}
	}
	if len(required) == 0 {
		return "", nil
	}

	clusterID, serviceID := obj.ID, ""
	if obj.Kind == models.KindService {
		clusterID, serviceID = obj.ClusterID, obj.ID
	}
	binds, err := u.store.ListBindsByImporter(ctx, clusterID)
	if err != nil {
		return "", err
	}

	bound := make(map[string]bool)
	for _, b := range binds {
		if b.ServiceID != serviceID {
			continue
		}
		exporter, err := u.store.GetEntity(ctx, b.Exporter())
		if err != nil {
			return "", err
		}
		exporterProto, err := u.store.GetPrototype(ctx, exporter.PrototypeID)
		if err != nil {
			return "", err
		}
		bound[exporterProto.Name] = true
	}

	for _, imp := range required {
		if !bound[imp.Name] {
			return fmt.Sprintf("%s has no bind for required import %q", describe(obj), imp.Name), nil
		}
	}
	return "", nil
}

func describe(e *models.Entity) string {
	return fmt.Sprintf("%s %q", e.Kind, e.Name)
}
