package upgrade

import (
	"context"
	"errors"

	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
)

// snapshot records the pre-upgrade state of the object and of every entity
// the switch may touch: services and components of a cluster, hosts of a
// provider. The snapshots it replaces are kept on the plan.
func snapshot(ctx context.Context, tx *store.Store, p *plan) error {
	obj := p.object
	root := &models.UpgradeSnapshot{
		BundleID: p.oldBundle.ID,
		State:    obj.State,
		ConfigID: obj.ConfigID,
	}

	var children []*models.Entity
	switch obj.Kind {
	case models.KindCluster:
		services, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindService, ClusterID: obj.ID})
		if err != nil {
			return err
		}
		components, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindComponent, ClusterID: obj.ID})
		if err != nil {
			return err
		}
		if root.HostComponents, err = hostComponentNames(ctx, tx, obj.ID, services, components); err != nil {
			return err
		}
		for _, s := range services {
			proto, err := tx.GetPrototype(ctx, s.PrototypeID)
			if err != nil {
				return err
			}
			root.Services = append(root.Services, proto.Name)
		}
		children = append(services, components...)

	case models.KindProvider:
		hosts, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindHost, ProviderID: obj.ID})
		if err != nil {
			return err
		}
		children = hosts
	}

	p.previous = map[models.Ref]*models.UpgradeSnapshot{obj.Ref(): obj.BeforeUpgrade}
	obj.BeforeUpgrade = root
	if err := tx.UpdateEntity(ctx, obj); err != nil {
		return err
	}
	for _, e := range children {
		p.previous[e.Ref()] = e.BeforeUpgrade
		e.BeforeUpgrade = &models.UpgradeSnapshot{State: e.State, ConfigID: e.ConfigID}
		if err := tx.UpdateEntity(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// restoreSnapshots puts back the snapshots replaced by snapshot after a
// switch that did not take effect. Entities gone since are skipped.
func restoreSnapshots(ctx context.Context, tx *store.Store, p *plan) error {
	for ref, prev := range p.previous {
		e, err := tx.GetEntity(ctx, ref)
		if errors.Is(err, models.ErrEntityNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		e.BeforeUpgrade = prev
		if err := tx.UpdateEntity(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// switched reports whether the object left the bundle its snapshot was taken on.
func switched(ctx context.Context, st *store.Store, obj *models.Entity) (bool, error) {
	proto, err := st.GetPrototype(ctx, obj.PrototypeID)
	if err != nil {
		return false, err
	}
	return proto.BundleID != obj.BeforeUpgrade.BundleID, nil
}

// discardSnapshot clears the snapshot of an object that was never switched
// along with the snapshots of its services, components or hosts.
func discardSnapshot(ctx context.Context, tx *store.Store, obj *models.Entity) error {
	filters := []store.EntityFilter{
		{Kind: models.KindService, ClusterID: obj.ID},
		{Kind: models.KindComponent, ClusterID: obj.ID},
	}
	if obj.Kind == models.KindProvider {
		filters = []store.EntityFilter{{Kind: models.KindHost, ProviderID: obj.ID}}
	}
	entities := []*models.Entity{obj}
	for _, f := range filters {
		children, err := tx.ListEntities(ctx, f)
		if err != nil {
			return err
		}
		entities = append(entities, children...)
	}

	for _, e := range entities {
		if e.BeforeUpgrade == nil {
			continue
		}
		e.BeforeUpgrade = nil
		if err := tx.UpdateEntity(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// hostComponentNames renders a cluster deployment map by service, component
// and host name.
func hostComponentNames(ctx context.Context, st *store.Store, clusterID string, services, components []*models.Entity) ([]models.HostComponentName, error) {
	hcs, err := st.ListHostComponents(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	if len(hcs) == 0 {
		return nil, nil
	}

	names := make(map[string]string, len(services)+len(components))
	for _, e := range services {
		names[e.ID] = e.Name
	}
	for _, e := range components {
		names[e.ID] = e.Name
	}
	hostIDs := make([]string, 0, len(hcs))
	for _, hc := range hcs {
		hostIDs = append(hostIDs, hc.HostID)
	}
	hosts, err := st.ListEntities(ctx, store.EntityFilter{Kind: models.KindHost, IDs: hostIDs})
	if err != nil {
		return nil, err
	}
	for _, h := range hosts {
		names[h.ID] = h.Name
	}

	out := make([]models.HostComponentName, 0, len(hcs))
	for _, hc := range hcs {
		out = append(out, models.HostComponentName{
			Service:   names[hc.ServiceID],
			Component: names[hc.ComponentID],
			Host:      names[hc.HostID],
		})
	}
	return out, nil
}
