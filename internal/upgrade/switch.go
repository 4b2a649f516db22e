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

// switchObject moves an entity onto a new prototype and carries its
// configuration forward. An entity already on the prototype is left alone.
func switchObject(ctx context.Context, tx *store.Store, e *models.Entity, proto *models.Prototype) error {
	if e.PrototypeID == proto.ID {
		return nil
	}
	e.PrototypeID = proto.ID
	if err := inventory.SwitchConfig(ctx, tx, e, proto); err != nil {
		return err
	}
	if err := tx.UpdateEntity(ctx, e); err != nil {
		return err
	}
	metrics.EntityOperations.WithLabelValues(string(e.Kind), "switch").Inc()
	return nil
}

// applySwitch reassigns prototypes of the object and everything under it.
// It must run inside one transaction.
func (o *Orchestrator) applySwitch(ctx context.Context, tx *store.Store, p *plan, logger *zap.Logger) error {
	obj := p.object
	if err := switchObject(ctx, tx, obj, p.newProto); err != nil {
		return fmt.Errorf("failed to switch %s: %w", obj.Kind, err)
	}

	switch obj.Kind {
	case models.KindCluster:
		if err := o.switchServices(ctx, tx, p, logger); err != nil {
			return err
		}
		if p.oldProto.AllowMaintenanceMode != p.newProto.AllowMaintenanceMode {
			if err := resetMaintenanceMode(ctx, tx, obj.ID); err != nil {
				return err
			}
		}
	case models.KindProvider:
		if err := o.switchHosts(ctx, tx, p, logger); err != nil {
			return err
		}
	}

	for _, b := range p.prune {
		if err := tx.DeleteBind(ctx, b.ID); err != nil {
			return fmt.Errorf("failed to prune import %s: %w", b.ID, err)
		}
		logger.Info("import binding pruned", zap.String("bind_id", b.ID))
	}
	return nil
}

func (o *Orchestrator) switchServices(ctx context.Context, tx *store.Store, p *plan, logger *zap.Logger) error {
	services, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindService, ClusterID: p.object.ID})
	if err != nil {
		return err
	}

	for _, service := range services {
		current, err := tx.GetPrototype(ctx, service.PrototypeID)
		if err != nil {
			return err
		}
		next, err := tx.FindPrototype(ctx, p.newBundle.ID, models.TypeService, current.Name, "")
		if errors.Is(err, models.ErrPrototypeNotFound) {
			if err := tx.DeleteEntity(ctx, service.Ref()); err != nil {
				return fmt.Errorf("failed to delete service %s: %w", service.Name, err)
			}
			metrics.EntityOperations.WithLabelValues(string(models.KindService), "delete").Inc()
			logger.Info("service dropped by upgrade", zap.String("service", service.Name))
			continue
		}
		if err != nil {
			return err
		}

		if err := switchObject(ctx, tx, service, next); err != nil {
			return fmt.Errorf("failed to switch service %s: %w", service.Name, err)
		}
		if err := switchComponents(ctx, tx, service, next, logger); err != nil {
			return err
		}
	}
	return nil
}

// switchComponents switches, drops and adds components so the service
// matches its new prototype.
func switchComponents(ctx context.Context, tx *store.Store, service *models.Entity, next *models.Prototype, logger *zap.Logger) error {
	components, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindComponent, ServiceID: service.ID})
	if err != nil {
		return err
	}

	for _, comp := range components {
		current, err := tx.GetPrototype(ctx, comp.PrototypeID)
		if err != nil {
			return err
		}
		proto, err := tx.FindPrototype(ctx, next.BundleID, models.TypeComponent, current.Name, next.ID)
		if errors.Is(err, models.ErrPrototypeNotFound) {
			if err := tx.DeleteEntity(ctx, comp.Ref()); err != nil {
				return fmt.Errorf("failed to delete component %s: %w", comp.Name, err)
			}
			metrics.EntityOperations.WithLabelValues(string(models.KindComponent), "delete").Inc()
			logger.Info("component dropped by upgrade", zap.String("service", service.Name), zap.String("component", comp.Name))
			continue
		}
		if err != nil {
			return err
		}
		if err := switchObject(ctx, tx, comp, proto); err != nil {
			return fmt.Errorf("failed to switch component %s: %w", comp.Name, err)
		}
	}

	added, err := inventory.AddComponents(ctx, tx, service, next)
	if err != nil {
		return err
	}
	for _, comp := range added {
		logger.Info("component added by upgrade", zap.String("service", service.Name), zap.String("component", comp.Name))
	}
	return nil
}

// switchHosts switches every host of the provider whose prototype name
// exists in the new bundle. Other hosts keep their prototype.
func (o *Orchestrator) switchHosts(ctx context.Context, tx *store.Store, p *plan, logger *zap.Logger) error {
	hosts, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindHost, ProviderID: p.object.ID})
	if err != nil {
		return err
	}
	for _, host := range hosts {
		current, err := tx.GetPrototype(ctx, host.PrototypeID)
		if err != nil {
			return err
		}
		next, err := tx.FindPrototype(ctx, p.newBundle.ID, models.TypeHost, current.Name, "")
		if errors.Is(err, models.ErrPrototypeNotFound) {
			logger.Warn("host prototype missing from new bundle, host left as is",
				zap.String("host", host.Name), zap.String("prototype", current.Name))
			continue
		}
		if err != nil {
			return err
		}
		if err := switchObject(ctx, tx, host, next); err != nil {
			return fmt.Errorf("failed to switch host %s: %w", host.Name, err)
		}
	}
	return nil
}

func resetMaintenanceMode(ctx context.Context, tx *store.Store, clusterID string) error {
	hosts, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindHost, ClusterID: clusterID})
	if err != nil {
		return err
	}
	for _, h := range hosts {
		if h.MaintenanceMode == models.MaintenanceModeOff {
			continue
		}
		h.MaintenanceMode = models.MaintenanceModeOff
		if err := tx.UpdateEntity(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// reconcile prunes deployment rows that no longer resolve, materializes
// services named by the upgrade action's host-component template and
// recomputes issues. It runs after the switch has committed.
func (o *Orchestrator) reconcile(ctx context.Context, tx *store.Store, p *plan, logger *zap.Logger) error {
	obj := p.object
	if obj.Kind == models.KindCluster {
		if err := pruneHostComponents(ctx, tx, obj.ID, p.newBundle.ID, logger); err != nil {
			return err
		}
		if err := materialize(ctx, tx, obj, p, logger); err != nil {
			return err
		}
	}
	return o.issues.Tx(tx).UpdateHierarchy(ctx, obj.Ref())
}

func pruneHostComponents(ctx context.Context, tx *store.Store, clusterID, bundleID string, logger *zap.Logger) error {
	hcs, err := tx.ListHostComponents(ctx, clusterID)
	if err != nil {
		return err
	}

	resolved := make(map[string]bool)
	resolves := func(ref models.Ref) (bool, error) {
		if ok, seen := resolved[ref.ID]; seen {
			return ok, nil
		}
		e, err := tx.GetEntity(ctx, ref)
		if errors.Is(err, models.ErrEntityNotFound) {
			resolved[ref.ID] = false
			return false, nil
		}
		if err != nil {
			return false, err
		}
		proto, err := tx.GetPrototype(ctx, e.PrototypeID)
		if err != nil {
			return false, err
		}
		resolved[ref.ID] = proto.BundleID == bundleID
		return resolved[ref.ID], nil
	}

	for _, hc := range hcs {
		okService, err := resolves(models.Ref{Kind: models.KindService, ID: hc.ServiceID})
		if err != nil {
			return err
		}
		okComponent, err := resolves(models.Ref{Kind: models.KindComponent, ID: hc.ComponentID})
		if err != nil {
			return err
		}
		if okService && okComponent {
			continue
		}
		if err := tx.DeleteHostComponent(ctx, hc.ID); err != nil {
			return err
		}
		logger.Info("host component pruned", zap.String("hc_id", hc.ID))
	}
	return nil
}

// materialize adds services, or the components of empty services, named by
// the host-component template of the upgrade action.
func materialize(ctx context.Context, tx *store.Store, cluster *models.Entity, p *plan, logger *zap.Logger) error {
	if p.upgrade.Action == nil {
		return nil
	}

	for _, rule := range p.upgrade.Action.HostComponentMap {
		proto, err := tx.FindPrototype(ctx, p.newBundle.ID, models.TypeService, rule.Service, "")
		if errors.Is(err, models.ErrPrototypeNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		existing, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindService, ClusterID: cluster.ID, Name: rule.Service})
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			if _, err := inventory.AddService(ctx, tx, cluster, proto); err != nil {
				return fmt.Errorf("failed to add service %s: %w", rule.Service, err)
			}
			logger.Info("service added by upgrade", zap.String("service", rule.Service))
			continue
		}

		service := existing[0]
		comps, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindComponent, ServiceID: service.ID})
		if err != nil {
			return err
		}
		if len(comps) == 0 {
			if _, err := inventory.AddComponents(ctx, tx, service, proto); err != nil {
				return fmt.Errorf("failed to add components of %s: %w", rule.Service, err)
			}
		}
	}
	return nil
}
