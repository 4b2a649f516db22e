package upgrade

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/inventory"
	"github.com/yaroslav/stackform/internal/metrics"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
)

// revertObject moves an entity back onto its old prototype and restores
// state and configuration from its snapshot. An entity already on the old
// prototype is left alone.
func revertObject(ctx context.Context, tx *store.Store, e *models.Entity, old *models.Prototype) error {
	if e.PrototypeID == old.ID {
		return nil
	}
	e.PrototypeID = old.ID

	snap := e.BeforeUpgrade
	if snap == nil {
		// Created by the switch: start over from the old defaults.
		if err := inventory.InitConfig(ctx, tx, e, old, "revert"); err != nil {
			return err
		}
	} else {
		if snap.ConfigID != 0 {
			if _, err := tx.GetConfig(ctx, snap.ConfigID); err != nil {
				return fmt.Errorf("snapshot config %d of %s: %w", snap.ConfigID, e.Ref(), err)
			}
		}
		e.ConfigID = snap.ConfigID
		e.State = snap.State
		e.BeforeUpgrade = nil
	}

	if err := tx.UpdateEntity(ctx, e); err != nil {
		return err
	}
	metrics.EntityOperations.WithLabelValues(string(e.Kind), "revert").Inc()
	return nil
}

// revert restores the object and everything under it from the snapshot.
// It must run inside one transaction.
func (o *Orchestrator) revert(ctx context.Context, tx *store.Store, obj *models.Entity, logger *zap.Logger) error {
	snap := obj.BeforeUpgrade
	oldBundle, err := tx.GetBundle(ctx, snap.BundleID)
	if err != nil {
		return fmt.Errorf("snapshot bundle: %w", err)
	}
	roots, err := tx.ListPrototypes(ctx, oldBundle.ID, obj.Kind)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		return fmt.Errorf("bundle %s %s has no %s prototype", oldBundle.Name, oldBundle.Version, obj.Kind)
	}
	current, err := tx.GetPrototype(ctx, obj.PrototypeID)
	if err != nil {
		return err
	}
	upgradedBundleID := current.BundleID

	if err := revertObject(ctx, tx, obj, roots[0]); err != nil {
		return err
	}

	switch obj.Kind {
	case models.KindCluster:
		if err := revertServices(ctx, tx, obj, oldBundle, upgradedBundleID, snap, logger); err != nil {
			return err
		}
		return restoreHostComponents(ctx, tx, obj, snap.HostComponents)
	case models.KindProvider:
		return revertHosts(ctx, tx, obj, oldBundle)
	}
	return nil
}

func revertServices(ctx context.Context, tx *store.Store, cluster *models.Entity, oldBundle *models.Bundle, upgradedBundleID string, snap *models.UpgradeSnapshot, logger *zap.Logger) error {
	oldServices, err := tx.ListPrototypes(ctx, oldBundle.ID, models.TypeService)
	if err != nil {
		return err
	}
	services, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindService, ClusterID: cluster.ID})
	if err != nil {
		return err
	}
	byName, err := byPrototypeName(ctx, tx, services)
	if err != nil {
		return err
	}

	for _, sp := range oldServices {
		service, ok := byName[sp.Name]
		if !ok {
			continue
		}
		if err := revertObject(ctx, tx, service, sp); err != nil {
			return err
		}

		oldComponents, err := inventory.ComponentPrototypes(ctx, tx, sp)
		if err != nil {
			return err
		}
		components, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindComponent, ServiceID: service.ID})
		if err != nil {
			return err
		}
		compByName, err := byPrototypeName(ctx, tx, components)
		if err != nil {
			return err
		}
		for _, cp := range oldComponents {
			if comp, ok := compByName[cp.Name]; ok {
				if err := revertObject(ctx, tx, comp, cp); err != nil {
					return err
				}
				continue
			}
			if _, err := inventory.AddComponent(ctx, tx, service, cp); err != nil {
				return err
			}
		}
	}

	// Whatever still sits on the upgraded bundle was created by the switch.
	for _, kind := range []models.Kind{models.KindComponent, models.KindService} {
		entities, err := tx.ListEntities(ctx, store.EntityFilter{Kind: kind, ClusterID: cluster.ID})
		if err != nil {
			return err
		}
		for _, e := range entities {
			proto, err := tx.GetPrototype(ctx, e.PrototypeID)
			if err != nil {
				return err
			}
			if proto.BundleID != upgradedBundleID || upgradedBundleID == oldBundle.ID {
				continue
			}
			if err := tx.DeleteEntity(ctx, e.Ref()); err != nil {
				return err
			}
			logger.Info("entity created by upgrade removed", zap.String("kind", string(kind)), zap.String("name", e.Name))
		}
	}

	remaining, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindService, ClusterID: cluster.ID})
	if err != nil {
		return err
	}
	present, err := byPrototypeName(ctx, tx, remaining)
	if err != nil {
		return err
	}
	for _, name := range snap.Services {
		if _, ok := present[name]; ok {
			continue
		}
		proto, err := tx.FindPrototype(ctx, oldBundle.ID, models.TypeService, name, "")
		if err != nil {
			return fmt.Errorf("service %q of snapshot: %w", name, err)
		}
		if _, err := inventory.AddService(ctx, tx, cluster, proto); err != nil {
			return err
		}
		logger.Info("service dropped by upgrade restored", zap.String("service", name))
	}
	return nil
}

// restoreHostComponents replaces the deployment map with the snapshot's,
// resolving every row by name.
func restoreHostComponents(ctx context.Context, tx *store.Store, cluster *models.Entity, rows []models.HostComponentName) error {
	services, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindService, ClusterID: cluster.ID})
	if err != nil {
		return err
	}
	components, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindComponent, ClusterID: cluster.ID})
	if err != nil {
		return err
	}
	hosts, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindHost, ClusterID: cluster.ID})
	if err != nil {
		return err
	}

	serviceIDs := make(map[string]string, len(services))
	for _, s := range services {
		serviceIDs[s.Name] = s.ID
	}
	componentIDs := make(map[[2]string]string, len(components))
	for _, c := range components {
		componentIDs[[2]string{c.ServiceID, c.Name}] = c.ID
	}
	hostIDs := make(map[string]string, len(hosts))
	for _, h := range hosts {
		hostIDs[h.Name] = h.ID
	}

	hcs := make([]*models.HostComponent, 0, len(rows))
	for _, row := range rows {
		serviceID, ok := serviceIDs[row.Service]
		if !ok {
			return fmt.Errorf("%w: service %q of snapshot", models.ErrEntityNotFound, row.Service)
		}
		componentID, ok := componentIDs[[2]string{serviceID, row.Component}]
		if !ok {
			return fmt.Errorf("%w: component %q of service %q of snapshot", models.ErrEntityNotFound, row.Component, row.Service)
		}
		hostID, ok := hostIDs[row.Host]
		if !ok {
			return fmt.Errorf("%w: host %q of snapshot", models.ErrEntityNotFound, row.Host)
		}
		hcs = append(hcs, &models.HostComponent{HostID: hostID, ServiceID: serviceID, ComponentID: componentID})
	}
	return tx.ReplaceHostComponents(ctx, cluster.ID, hcs)
}

func revertHosts(ctx context.Context, tx *store.Store, provider *models.Entity, oldBundle *models.Bundle) error {
	hosts, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindHost, ProviderID: provider.ID})
	if err != nil {
		return err
	}
	for _, host := range hosts {
		current, err := tx.GetPrototype(ctx, host.PrototypeID)
		if err != nil {
			return err
		}
		old, err := tx.FindPrototype(ctx, oldBundle.ID, models.TypeHost, current.Name, "")
		if errors.Is(err, models.ErrPrototypeNotFound) {
			return fmt.Errorf("host %s: prototype %q is missing from bundle %s %s", host.Name, current.Name, oldBundle.Name, oldBundle.Version)
		}
		if err != nil {
			return err
		}
		if err := revertObject(ctx, tx, host, old); err != nil {
			return err
		}
	}
	return nil
}

func byPrototypeName(ctx context.Context, st *store.Store, entities []*models.Entity) (map[string]*models.Entity, error) {
	out := make(map[string]*models.Entity, len(entities))
	for _, e := range entities {
		proto, err := st.GetPrototype(ctx, e.PrototypeID)
		if err != nil {
			return nil, err
		}
		out[proto.Name] = e
	}
	return out, nil
}
