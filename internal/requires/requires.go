// Package requires checks service and component dependency declarations
// against what is installed in a cluster.
package requires

import (
	"context"
	"fmt"
	"sort"

	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
)

// Installed is the set of services and components present in a cluster,
// keyed by service name.
type Installed map[string]map[string]bool

// Add records a service and, when component is not empty, one of its components.
func (in Installed) Add(service, component string) {
	if in[service] == nil {
		in[service] = make(map[string]bool)
	}
	if component != "" {
		in[service][component] = true
	}
}

// Check evaluates requirements against the installed set. for describes the
// declaring entity in error messages, e.g. `service "hdfs"`.
//
// Returns *models.RequiresError on the first unmet requirement.
func (in Installed) Check(reqs []models.Requirement, forDesc string) error {
	for _, req := range reqs {
		switch req.Kind() {
		case models.RequiresService:
			if _, ok := in[req.Service]; !ok {
				return &models.RequiresError{Err: models.ErrMissingRequiredService, Service: req.Service, For: forDesc}
			}
		case models.RequiresComponent:
			if !in[req.Service][req.Component] {
				return &models.RequiresError{
					Err:       models.ErrMissingRequiredComponent,
					Service:   req.Service,
					Component: req.Component,
					For:       forDesc,
				}
			}
		}
	}
	return nil
}

// Source is the read side of the entity store used by the validator.
type Source interface {
	ListEntities(ctx context.Context, f store.EntityFilter) ([]*models.Entity, error)
	GetPrototype(ctx context.Context, id string) (*models.Prototype, error)
}

// Validator checks requires declarations before entities or deployment maps are created.
type Validator struct {
	src Source
}

// NewValidator creates a new requires validator.
func NewValidator(src Source) *Validator {
	return &Validator{src: src}
}

// Installed loads the services and components of a cluster.
func (v *Validator) Installed(ctx context.Context, clusterID string) (Installed, error) {
	services, err := v.src.ListEntities(ctx, store.EntityFilter{Kind: models.KindService, ClusterID: clusterID})
	if err != nil {
		return nil, fmt.Errorf("failed to load services: %w", err)
	}
	components, err := v.src.ListEntities(ctx, store.EntityFilter{Kind: models.KindComponent, ClusterID: clusterID})
	if err != nil {
		return nil, fmt.Errorf("failed to load components: %w", err)
	}

	in := make(Installed)
	names := make(map[string]string, len(services))
	for _, s := range services {
		names[s.ID] = s.Name
		in.Add(s.Name, "")
	}
	for _, c := range components {
		in.Add(names[c.ServiceID], c.Name)
	}
	return in, nil
}

// CheckService validates the requires of a service about to be added to a
// cluster. The candidate counts as installed together with its components.
func (v *Validator) CheckService(ctx context.Context, clusterID string, proto *models.Prototype, components []*models.Prototype) error {
	in, err := v.Installed(ctx, clusterID)
	if err != nil {
		return err
	}
	in.Add(proto.Name, "")
	for _, c := range components {
		in.Add(proto.Name, c.Name)
	}
	return in.Check(proto.Requires, fmt.Sprintf("service %q", proto.Name))
}

// CheckComponent validates the requires of a component about to be added to
// an installed service.
func (v *Validator) CheckComponent(ctx context.Context, service *models.Entity, proto *models.Prototype) error {
	in, err := v.Installed(ctx, service.ClusterID)
	if err != nil {
		return err
	}
	in.Add(service.Name, proto.Name)
	return in.Check(proto.Requires, fmt.Sprintf("component %q of service %q", proto.Name, service.Name))
}

// CheckHostComponents validates a deployment map for a cluster: every
// service a mapped component requires must be installed. A component
// requiring itself is skipped.
//
// Only the required service is checked. A required component only has to
// exist in its installed service and need not be mapped to any host.
func (v *Validator) CheckHostComponents(ctx context.Context, clusterID string, hcs []*models.HostComponent) error {
	in, err := v.Installed(ctx, clusterID)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(hcs))
	seen := make(map[string]bool)
	for _, hc := range hcs {
		if !seen[hc.ComponentID] {
			seen[hc.ComponentID] = true
			ids = append(ids, hc.ComponentID)
		}
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return nil
	}

	components, err := v.src.ListEntities(ctx, store.EntityFilter{Kind: models.KindComponent, ClusterID: clusterID, IDs: ids})
	if err != nil {
		return fmt.Errorf("failed to load components: %w", err)
	}
	services, err := v.src.ListEntities(ctx, store.EntityFilter{Kind: models.KindService, ClusterID: clusterID})
	if err != nil {
		return fmt.Errorf("failed to load services: %w", err)
	}
	serviceNames := make(map[string]string, len(services))
	for _, s := range services {
		serviceNames[s.ID] = s.Name
	}

	for _, comp := range components {
		proto, err := v.src.GetPrototype(ctx, comp.PrototypeID)
		if err != nil {
			return err
		}
		service := serviceNames[comp.ServiceID]
		for _, req := range proto.Requires {
			if req.Service == service && req.Component == comp.Name {
				continue
			}
			if _, ok := in[req.Service]; !ok {
				return &models.RequiresError{
					Err:     models.ErrMissingRequiredService,
					Service: req.Service,
					For:     fmt.Sprintf("component %q of service %q", comp.Name, service),
				}
			}
		}
	}
	return nil
}

// CheckRemoval reports whether a service may be deleted: no other service or
// component of the cluster may require it.
//
// Returns an error wrapping models.ErrServiceInUse naming the first dependant.
func (v *Validator) CheckRemoval(ctx context.Context, service *models.Entity) error {
	for _, kind := range []models.Kind{models.KindService, models.KindComponent} {
		entities, err := v.src.ListEntities(ctx, store.EntityFilter{Kind: kind, ClusterID: service.ClusterID})
		if err != nil {
			return fmt.Errorf("failed to load %ss: %w", kind, err)
		}
		for _, e := range entities {
			if e.ID == service.ID || e.ServiceID == service.ID {
				continue
			}
			proto, err := v.src.GetPrototype(ctx, e.PrototypeID)
			if err != nil {
				return err
			}
			for _, req := range proto.Requires {
				if req.Service == service.Name {
					return fmt.Errorf("%w: %s %q requires service %q", models.ErrServiceInUse, kind, e.Name, service.Name)
				}
			}
		}
	}
	return nil
}
