package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
	"github.com/yaroslav/stackform/pkg/version"
)

// BindImport binds an importing cluster or service to an exporter in
// another cluster.
//
// The importer prototype must declare an import of the exporter prototype
// and the exporter version must fall in the declared range.
//
// Returns:
//   - The created binding
//   - models.ErrInvalidRequest if the pair is not importable
//   - models.ErrConflict if the binding exists
func (s *ClusterService) BindImport(ctx context.Context, importer, exporter models.Ref) (*models.ClusterBind, error) {
	for _, ref := range []models.Ref{importer, exporter} {
		if ref.Kind != models.KindCluster && ref.Kind != models.KindService {
			return nil, fmt.Errorf("%w: only clusters and services take part in imports, not %s", models.ErrInvalidRequest, ref.Kind)
		}
	}

	var bind *models.ClusterBind
	err := s.mutate(ctx, func(tx *store.Store) (models.Ref, error) {
		imp, impProto, err := loadWithPrototype(ctx, tx, importer)
		if err != nil {
			return models.Ref{}, err
		}
		exp, expProto, err := loadWithPrototype(ctx, tx, exporter)
		if err != nil {
			return models.Ref{}, err
		}

		bind = &models.ClusterBind{
			ID:              uuid.New().String(),
			ClusterID:       clusterOf(imp),
			SourceClusterID: clusterOf(exp),
		}
		if imp.Kind == models.KindService {
			bind.ServiceID = imp.ID
		}
		if exp.Kind == models.KindService {
			bind.SourceServiceID = exp.ID
		}

		if bind.ClusterID == bind.SourceClusterID {
			return models.Ref{}, fmt.Errorf("%w: %s %q cannot import from its own cluster", models.ErrInvalidRequest, imp.Kind, imp.Name)
		}
		if len(expProto.Exports) == 0 {
			return models.Ref{}, fmt.Errorf("%w: %s %q exports nothing", models.ErrInvalidRequest, exp.Kind, exp.Name)
		}
		if err := importable(impProto, expProto); err != nil {
			return models.Ref{}, err
		}

		cluster, err := tx.GetEntity(ctx, models.Ref{Kind: models.KindCluster, ID: bind.ClusterID})
		if err != nil {
			return models.Ref{}, err
		}
		if err := s.checkUnlocked(ctx, tx, cluster); err != nil {
			return models.Ref{}, err
		}
		if err := tx.CreateBind(ctx, bind); err != nil {
			return models.Ref{}, err
		}
		return cluster.Ref(), nil
	})
	if err != nil {
		return nil, err
	}

	s.log(importer).Info("import bound",
		zap.String("bind_id", bind.ID),
		zap.String("exporter", exporter.String()),
	)
	return bind, nil
}

// importable checks the importer's declaration for the exporter prototype.
func importable(importer, exporter *models.Prototype) error {
	for _, imp := range importer.Imports {
		if imp.Name != exporter.Name {
			continue
		}
		r := version.Range{Min: imp.MinVersion, Max: imp.MaxVersion, MinStrict: imp.MinStrict, MaxStrict: imp.MaxStrict}
		if !r.Contains(exporter.Version) {
			return fmt.Errorf("%w: import %q versions (%s, %s) do not match export version %s",
				models.ErrInvalidRequest, imp.Name, imp.MinVersion, imp.MaxVersion, exporter.Version)
		}
		return nil
	}
	return fmt.Errorf("%w: %s %q does not import %q", models.ErrInvalidRequest, importer.Type, importer.Name, exporter.Name)
}

// UnbindImport removes an import binding of a cluster.
func (s *ClusterService) UnbindImport(ctx context.Context, clusterID, bindID string) error {
	err := s.mutate(ctx, func(tx *store.Store) (models.Ref, error) {
		cluster, err := tx.GetEntity(ctx, models.Ref{Kind: models.KindCluster, ID: clusterID})
		if err != nil {
			return models.Ref{}, err
		}
		if err := s.checkUnlocked(ctx, tx, cluster); err != nil {
			return models.Ref{}, err
		}
		binds, err := tx.ListBindsByImporter(ctx, clusterID)
		if err != nil {
			return models.Ref{}, err
		}
		for _, b := range binds {
			if b.ID == bindID {
				return cluster.Ref(), tx.DeleteBind(ctx, bindID)
			}
		}
		return models.Ref{}, fmt.Errorf("%w: binding %s of cluster %s", models.ErrNotFound, bindID, clusterID)
	})
	if err != nil {
		return err
	}

	s.log(models.Ref{Kind: models.KindCluster, ID: clusterID}).Info("import unbound", zap.String("bind_id", bindID))
	return nil
}

// Binds returns the import bindings of a cluster and its services.
func (s *ClusterService) Binds(ctx context.Context, clusterID string) ([]*models.ClusterBind, error) {
	if _, err := s.store.GetEntity(ctx, models.Ref{Kind: models.KindCluster, ID: clusterID}); err != nil {
		return nil, err
	}
	return s.store.ListBindsByImporter(ctx, clusterID)
}

func loadWithPrototype(ctx context.Context, st *store.Store, ref models.Ref) (*models.Entity, *models.Prototype, error) {
	e, err := st.GetEntity(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	proto, err := st.GetPrototype(ctx, e.PrototypeID)
	if err != nil {
		return nil, nil, err
	}
	return e, proto, nil
}

func clusterOf(e *models.Entity) string {
	if e.Kind == models.KindCluster {
		return e.ID
	}
	return e.ClusterID
}
