package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/inventory"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/internal/util"
	"github.com/yaroslav/stackform/models"
)

// ProviderService manages host providers and their hosts.
type ProviderService struct {
	topology
}

// NewProviderService creates a new provider service.
func NewProviderService(st *store.Store, logger *zap.Logger) *ProviderService {
	return &ProviderService{topology: newTopology(st, logger)}
}

// CreateProvider creates a provider from the provider prototype of a bundle.
func (s *ProviderService) CreateProvider(ctx context.Context, bundleID, name string) (*models.Entity, error) {
	if err := util.ValidateObjectName(name); err != nil {
		return nil, fmt.Errorf("%w: provider %v", models.ErrInvalidRequest, err)
	}
	proto, err := rootPrototype(ctx, s.store, bundleID, models.TypeProvider)
	if err != nil {
		return nil, err
	}

	provider := inventory.NewEntity(proto, name)
	err = s.store.InTx(ctx, func(tx *store.Store) error {
		return inventory.Create(ctx, tx, provider, proto)
	})
	if err != nil {
		return nil, err
	}

	s.log(provider.Ref()).Info("provider created", zap.String("name", name))
	return provider, nil
}

// CreateHost creates a host of a provider from one of the provider bundle's
// host prototypes.
//
// Parameters:
//   - providerID: Provider UUID
//   - prototypeID: Host prototype UUID
//   - name: Host name, unique among hosts
//
// Returns:
//   - The created host
//   - models.ErrLocked if the provider is locked
//   - models.ErrDuplicateName if the name is taken
func (s *ProviderService) CreateHost(ctx context.Context, providerID, prototypeID, name string) (*models.Entity, error) {
	if err := util.ValidateHostName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	var host *models.Entity
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		provider, err := tx.GetEntity(ctx, models.Ref{Kind: models.KindProvider, ID: providerID})
		if err != nil {
			return err
		}
		if err := s.checkUnlocked(ctx, tx, provider); err != nil {
			return err
		}
		proto, err := prototypeOf(ctx, tx, prototypeID, models.TypeHost)
		if err != nil {
			return err
		}
		if err := sameBundle(ctx, tx, provider, proto); err != nil {
			return err
		}

		host = inventory.NewEntity(proto, name)
		host.ProviderID = provider.ID
		return inventory.Create(ctx, tx, host, proto)
	})
	if err != nil {
		return nil, err
	}

	s.log(host.Ref()).Info("host created", zap.String("name", name), zap.String("provider_id", providerID))
	return host, nil
}

// Hosts returns the hosts of a provider.
func (s *ProviderService) Hosts(ctx context.Context, providerID string) ([]*models.Entity, error) {
	if _, err := s.store.GetEntity(ctx, models.Ref{Kind: models.KindProvider, ID: providerID}); err != nil {
		return nil, err
	}
	return s.store.ListEntities(ctx, store.EntityFilter{Kind: models.KindHost, ProviderID: providerID})
}

// AddHostToCluster binds a free host into a cluster.
//
// Returns models.ErrConflict if the host is already in a cluster.
func (s *ProviderService) AddHostToCluster(ctx context.Context, clusterID, hostID string) (*models.Entity, error) {
	var host *models.Entity
	err := s.mutate(ctx, func(tx *store.Store) (models.Ref, error) {
		cluster, err := tx.GetEntity(ctx, models.Ref{Kind: models.KindCluster, ID: clusterID})
		if err != nil {
			return models.Ref{}, err
		}
		if err := s.checkUnlocked(ctx, tx, cluster); err != nil {
			return models.Ref{}, err
		}
		host, err = tx.GetEntity(ctx, models.Ref{Kind: models.KindHost, ID: hostID})
		if err != nil {
			return models.Ref{}, err
		}
		if host.ClusterID != "" {
			return models.Ref{}, fmt.Errorf("%w: host %q is already in cluster %s", models.ErrConflict, host.Name, host.ClusterID)
		}
		if err := s.checkUnlocked(ctx, tx, host); err != nil {
			return models.Ref{}, err
		}

		host.ClusterID = cluster.ID
		if err := tx.UpdateEntity(ctx, host); err != nil {
			return models.Ref{}, err
		}
		return cluster.Ref(), nil
	})
	if err != nil {
		return nil, err
	}

	s.log(host.Ref()).Info("host added to cluster", zap.String("cluster_id", clusterID))
	return host, nil
}

// RemoveHostFromCluster releases a host from its cluster.
//
// Returns models.ErrConflict while components are mapped to the host.
func (s *ProviderService) RemoveHostFromCluster(ctx context.Context, hostID string) error {
	ref := models.Ref{Kind: models.KindHost, ID: hostID}
	err := s.mutate(ctx, func(tx *store.Store) (models.Ref, error) {
		host, err := tx.GetEntity(ctx, ref)
		if err != nil {
			return models.Ref{}, err
		}
		if host.ClusterID == "" {
			return models.Ref{}, fmt.Errorf("%w: host %q is not in a cluster", models.ErrInvalidRequest, host.Name)
		}
		if err := s.checkUnlocked(ctx, tx, host); err != nil {
			return models.Ref{}, err
		}
		hcs, err := tx.ListHostComponentsByHost(ctx, host.ID)
		if err != nil {
			return models.Ref{}, err
		}
		if len(hcs) > 0 {
			return models.Ref{}, fmt.Errorf("%w: host %q has %d mapped components", models.ErrConflict, host.Name, len(hcs))
		}

		clusterRef := models.Ref{Kind: models.KindCluster, ID: host.ClusterID}
		host.ClusterID = ""
		host.MaintenanceMode = models.MaintenanceModeOff
		if err := tx.UpdateEntity(ctx, host); err != nil {
			return models.Ref{}, err
		}
		return clusterRef, nil
	})
	if err != nil {
		return err
	}

	s.log(ref).Info("host removed from cluster")
	return nil
}

// SetMaintenanceMode switches a clustered host in or out of maintenance mode.
// The cluster prototype must allow maintenance mode.
func (s *ProviderService) SetMaintenanceMode(ctx context.Context, hostID string, mode models.MaintenanceMode) (*models.Entity, error) {
	if mode != models.MaintenanceModeOn && mode != models.MaintenanceModeOff {
		return nil, fmt.Errorf("%w: maintenance mode must be %q or %q", models.ErrInvalidRequest, models.MaintenanceModeOn, models.MaintenanceModeOff)
	}

	var host *models.Entity
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		host, err = tx.GetEntity(ctx, models.Ref{Kind: models.KindHost, ID: hostID})
		if err != nil {
			return err
		}
		if host.ClusterID == "" {
			return fmt.Errorf("%w: host %q is not in a cluster", models.ErrInvalidRequest, host.Name)
		}
		cluster, err := tx.GetEntity(ctx, models.Ref{Kind: models.KindCluster, ID: host.ClusterID})
		if err != nil {
			return err
		}
		proto, err := tx.GetPrototype(ctx, cluster.PrototypeID)
		if err != nil {
			return err
		}
		if !proto.AllowMaintenanceMode {
			return fmt.Errorf("%w: cluster %q does not allow maintenance mode", models.ErrInvalidRequest, cluster.Name)
		}
		if err := s.checkUnlocked(ctx, tx, host); err != nil {
			return err
		}
		host.MaintenanceMode = mode
		return tx.UpdateEntity(ctx, host)
	})
	if err != nil {
		return nil, err
	}

	s.log(host.Ref()).Info("maintenance mode changed", zap.String("mode", string(mode)))
	return host, nil
}

// DeleteHost removes a host that is not in a cluster.
func (s *ProviderService) DeleteHost(ctx context.Context, hostID string) error {
	ref := models.Ref{Kind: models.KindHost, ID: hostID}
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		host, err := tx.GetEntity(ctx, ref)
		if err != nil {
			return err
		}
		if host.ClusterID != "" {
			return fmt.Errorf("%w: host %q is in cluster %s", models.ErrConflict, host.Name, host.ClusterID)
		}
		if err := s.checkUnlocked(ctx, tx, host); err != nil {
			return err
		}
		return tx.DeleteEntity(ctx, ref)
	})
	if err != nil {
		return err
	}

	s.log(ref).Info("host deleted")
	return nil
}

// DeleteProvider removes a provider without hosts.
func (s *ProviderService) DeleteProvider(ctx context.Context, providerID string) error {
	ref := models.Ref{Kind: models.KindProvider, ID: providerID}
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		provider, err := tx.GetEntity(ctx, ref)
		if err != nil {
			return err
		}
		hosts, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindHost, ProviderID: providerID})
		if err != nil {
			return err
		}
		if len(hosts) > 0 {
			return fmt.Errorf("%w: provider %q has %d hosts", models.ErrConflict, provider.Name, len(hosts))
		}
		if err := s.checkUnlocked(ctx, tx, provider); err != nil {
			return err
		}
		return tx.DeleteEntity(ctx, ref)
	})
	if err != nil {
		return err
	}

	s.log(ref).Info("provider deleted")
	return nil
}
