package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/inventory"
	"github.com/yaroslav/stackform/internal/requires"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/internal/util"
	"github.com/yaroslav/stackform/models"
)

// ClusterService manages clusters with their services, components and
// deployment maps.
type ClusterService struct {
	topology
}

// NewClusterService creates a new cluster service.
//
// Parameters:
//   - st: Entity store
//   - logger: Zap logger for structured logging
//
// Returns:
//   - Configured ClusterService
func NewClusterService(st *store.Store, logger *zap.Logger) *ClusterService {
	return &ClusterService{topology: newTopology(st, logger)}
}

// CreateCluster creates a cluster from the cluster prototype of a bundle.
//
// Parameters:
//   - bundleID: Bundle UUID
//   - name: Cluster name, unique among clusters
//
// Returns:
//   - The created cluster
//   - models.ErrDuplicateName if the name is taken
func (s *ClusterService) CreateCluster(ctx context.Context, bundleID, name string) (*models.Entity, error) {
	if err := util.ValidateObjectName(name); err != nil {
		return nil, fmt.Errorf("%w: cluster %v", models.ErrInvalidRequest, err)
	}
	proto, err := rootPrototype(ctx, s.store, bundleID, models.TypeCluster)
	if err != nil {
		return nil, err
	}

	cluster := inventory.NewEntity(proto, name)
	err = s.mutate(ctx, func(tx *store.Store) (models.Ref, error) {
		return cluster.Ref(), inventory.Create(ctx, tx, cluster, proto)
	})
	if err != nil {
		return nil, err
	}

	s.log(cluster.Ref()).Info("cluster created", zap.String("name", name))
	return cluster, nil
}

// AddService installs a service into a cluster together with its components.
//
// The service prototype must come from the cluster's bundle and its requires
// must be satisfied by the cluster with the new service in it.
//
// Returns:
//   - The created service
//   - models.ErrLocked if the cluster is locked
//   - *models.RequiresError if a requirement is unmet
//   - models.ErrDuplicateName if the service is already installed
func (s *ClusterService) AddService(ctx context.Context, clusterID, prototypeID string) (*models.Entity, error) {
	var service *models.Entity
	err := s.mutate(ctx, func(tx *store.Store) (models.Ref, error) {
		cluster, err := tx.GetEntity(ctx, models.Ref{Kind: models.KindCluster, ID: clusterID})
		if err != nil {
			return models.Ref{}, err
		}
		if err := s.checkUnlocked(ctx, tx, cluster); err != nil {
			return models.Ref{}, err
		}
		proto, err := prototypeOf(ctx, tx, prototypeID, models.TypeService)
		if err != nil {
			return models.Ref{}, err
		}
		if err := sameBundle(ctx, tx, cluster, proto); err != nil {
			return models.Ref{}, err
		}
		components, err := inventory.ComponentPrototypes(ctx, tx, proto)
		if err != nil {
			return models.Ref{}, err
		}
		if err := requires.NewValidator(tx).CheckService(ctx, clusterID, proto, components); err != nil {
			return models.Ref{}, err
		}

		service, err = inventory.AddService(ctx, tx, cluster, proto)
		if err != nil {
			return models.Ref{}, err
		}
		return cluster.Ref(), nil
	})
	if err != nil {
		return nil, err
	}

	s.log(service.Ref()).Info("service added", zap.String("name", service.Name), zap.String("cluster_id", clusterID))
	return service, nil
}

// AddComponent adds a missing component to an installed service.
func (s *ClusterService) AddComponent(ctx context.Context, serviceID, prototypeID string) (*models.Entity, error) {
	var comp *models.Entity
	err := s.mutate(ctx, func(tx *store.Store) (models.Ref, error) {
		service, err := tx.GetEntity(ctx, models.Ref{Kind: models.KindService, ID: serviceID})
		if err != nil {
			return models.Ref{}, err
		}
		if err := s.checkUnlocked(ctx, tx, service); err != nil {
			return models.Ref{}, err
		}
		proto, err := prototypeOf(ctx, tx, prototypeID, models.TypeComponent)
		if err != nil {
			return models.Ref{}, err
		}
		if proto.ParentID != service.PrototypeID {
			return models.Ref{}, fmt.Errorf("%w: component %s does not belong to service %s", models.ErrInvalidRequest, proto.Name, service.Name)
		}
		if err := requires.NewValidator(tx).CheckComponent(ctx, service, proto); err != nil {
			return models.Ref{}, err
		}

		comp, err = inventory.AddComponent(ctx, tx, service, proto)
		if err != nil {
			return models.Ref{}, err
		}
		return comp.Ref(), nil
	})
	if err != nil {
		return nil, err
	}

	s.log(comp.Ref()).Info("component added", zap.String("name", comp.Name), zap.String("service", comp.ServiceID))
	return comp, nil
}

// DeleteService removes a service with its components and deployment rows.
//
// Returns:
//   - models.ErrLocked if the service is locked
//   - models.ErrServiceInUse if another service requires it or it exports to another cluster
func (s *ClusterService) DeleteService(ctx context.Context, serviceID string) error {
	ref := models.Ref{Kind: models.KindService, ID: serviceID}
	err := s.mutate(ctx, func(tx *store.Store) (models.Ref, error) {
		service, err := tx.GetEntity(ctx, ref)
		if err != nil {
			return models.Ref{}, err
		}
		if err := s.checkUnlocked(ctx, tx, service); err != nil {
			return models.Ref{}, err
		}
		if err := requires.NewValidator(tx).CheckRemoval(ctx, service); err != nil {
			return models.Ref{}, err
		}
		binds, err := tx.ListBindsByExporter(ctx, service.ClusterID)
		if err != nil {
			return models.Ref{}, err
		}
		for _, b := range binds {
			if b.SourceServiceID == service.ID {
				return models.Ref{}, fmt.Errorf("%w: service %q exports to cluster %s", models.ErrServiceInUse, service.Name, b.ClusterID)
			}
		}

		if err := tx.DeleteEntity(ctx, ref); err != nil {
			return models.Ref{}, err
		}
		return models.Ref{Kind: models.KindCluster, ID: service.ClusterID}, nil
	})
	if err != nil {
		return err
	}

	s.log(ref).Info("service deleted")
	return nil
}

// DeleteCluster removes a cluster with its services and components. Hosts
// stay with their provider and leave the cluster. Clusters that imported
// from it get their import issues recomputed.
func (s *ClusterService) DeleteCluster(ctx context.Context, clusterID string) error {
	ref := models.Ref{Kind: models.KindCluster, ID: clusterID}
	var importers []string
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		cluster, err := tx.GetEntity(ctx, ref)
		if err != nil {
			return err
		}
		if err := s.checkUnlocked(ctx, tx, cluster); err != nil {
			return err
		}
		binds, err := tx.ListBindsByExporter(ctx, clusterID)
		if err != nil {
			return err
		}
		for _, b := range binds {
			importers = append(importers, b.ClusterID)
		}

		return tx.DeleteEntity(ctx, ref)
	})
	if err != nil {
		return err
	}

	s.log(ref).Info("cluster deleted", zap.Int("importers", len(importers)))
	return s.refreshImporters(ctx, importers)
}

func (s *ClusterService) refreshImporters(ctx context.Context, clusterIDs []string) error {
	seen := make(map[string]bool)
	for _, id := range clusterIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := s.issues.UpdateHierarchy(ctx, models.Ref{Kind: models.KindCluster, ID: id}); err != nil && !errors.Is(err, models.ErrEntityNotFound) {
			return fmt.Errorf("failed to update issues of importer %s: %w", id, err)
		}
	}
	return nil
}

// Services returns the services installed in a cluster.
func (s *ClusterService) Services(ctx context.Context, clusterID string) ([]*models.Entity, error) {
	if _, err := s.store.GetEntity(ctx, models.Ref{Kind: models.KindCluster, ID: clusterID}); err != nil {
		return nil, err
	}
	return s.store.ListEntities(ctx, store.EntityFilter{Kind: models.KindService, ClusterID: clusterID})
}

// Components returns the components of a service.
func (s *ClusterService) Components(ctx context.Context, serviceID string) ([]*models.Entity, error) {
	if _, err := s.store.GetEntity(ctx, models.Ref{Kind: models.KindService, ID: serviceID}); err != nil {
		return nil, err
	}
	return s.store.ListEntities(ctx, store.EntityFilter{Kind: models.KindComponent, ServiceID: serviceID})
}

// HostComponents returns the deployment map of a cluster.
func (s *ClusterService) HostComponents(ctx context.Context, clusterID string) ([]*models.HostComponent, error) {
	if _, err := s.store.GetEntity(ctx, models.Ref{Kind: models.KindCluster, ID: clusterID}); err != nil {
		return nil, err
	}
	return s.store.ListHostComponents(ctx, clusterID)
}

// SetHostComponentMap replaces the deployment map of a cluster.
//
// Every host must belong to the cluster and every component must be one of
// its components. The map is rejected as a whole when any mapped component
// requires a service the cluster does not have.
//
// Returns:
//   - The stored rows
//   - models.ErrLocked if the cluster is locked
//   - models.ErrInvalidRequest for unknown or foreign hosts and components
//   - *models.RequiresError if a requirement is unmet
func (s *ClusterService) SetHostComponentMap(ctx context.Context, clusterID string, rows []models.HostComponent) ([]*models.HostComponent, error) {
	ref := models.Ref{Kind: models.KindCluster, ID: clusterID}
	var hcs []*models.HostComponent
	err := s.mutate(ctx, func(tx *store.Store) (models.Ref, error) {
		cluster, err := tx.GetEntity(ctx, ref)
		if err != nil {
			return models.Ref{}, err
		}
		if err := s.checkUnlocked(ctx, tx, cluster); err != nil {
			return models.Ref{}, err
		}
		if hcs, err = resolveHostComponents(ctx, tx, clusterID, rows); err != nil {
			return models.Ref{}, err
		}
		if err := requires.NewValidator(tx).CheckHostComponents(ctx, clusterID, hcs); err != nil {
			return models.Ref{}, err
		}
		if err := tx.ReplaceHostComponents(ctx, clusterID, hcs); err != nil {
			return models.Ref{}, err
		}
		return ref, nil
	})
	if err != nil {
		return nil, err
	}

	s.log(ref).Info("host component map saved", zap.Int("rows", len(hcs)))
	return hcs, nil
}

func resolveHostComponents(ctx context.Context, tx *store.Store, clusterID string, rows []models.HostComponent) ([]*models.HostComponent, error) {
	hosts, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindHost, ClusterID: clusterID})
	if err != nil {
		return nil, err
	}
	components, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindComponent, ClusterID: clusterID})
	if err != nil {
		return nil, err
	}
	inCluster := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		inCluster[h.ID] = true
	}
	owner := make(map[string]string, len(components))
	for _, c := range components {
		owner[c.ID] = c.ServiceID
	}

	out := make([]*models.HostComponent, 0, len(rows))
	seen := make(map[[2]string]bool, len(rows))
	for _, row := range rows {
		if !inCluster[row.HostID] {
			return nil, fmt.Errorf("%w: host %s is not in cluster %s", models.ErrInvalidRequest, row.HostID, clusterID)
		}
		serviceID, ok := owner[row.ComponentID]
		if !ok {
			return nil, fmt.Errorf("%w: component %s is not in cluster %s", models.ErrInvalidRequest, row.ComponentID, clusterID)
		}
		if row.ServiceID != "" && row.ServiceID != serviceID {
			return nil, fmt.Errorf("%w: component %s does not belong to service %s", models.ErrInvalidRequest, row.ComponentID, row.ServiceID)
		}
		key := [2]string{row.HostID, row.ComponentID}
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate host component %s/%s", models.ErrInvalidRequest, row.HostID, row.ComponentID)
		}
		seen[key] = true
		out = append(out, &models.HostComponent{
			ClusterID:   clusterID,
			HostID:      row.HostID,
			ServiceID:   serviceID,
			ComponentID: row.ComponentID,
		})
	}
	return out, nil
}

// sameBundle rejects a prototype from another bundle than the cluster's.
func sameBundle(ctx context.Context, tx *store.Store, cluster *models.Entity, proto *models.Prototype) error {
	current, err := tx.GetPrototype(ctx, cluster.PrototypeID)
	if err != nil {
		return err
	}
	if current.BundleID != proto.BundleID {
		return fmt.Errorf("%w: prototype %s is not from the bundle of %s %q", models.ErrInvalidRequest, proto.Name, cluster.Kind, cluster.Name)
	}
	return nil
}
