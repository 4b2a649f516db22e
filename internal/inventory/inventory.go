// Package inventory creates entities and their configuration history from
// prototypes. Functions take the store they write to, so callers run them
// inside their own transaction. No requires or lock checks happen here.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yaroslav/stackform/internal/metrics"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
)

// StateCreated is the state of a freshly created entity.
const StateCreated = "created"

// NewEntity returns an unsaved entity of the prototype's kind.
func NewEntity(proto *models.Prototype, name string) *models.Entity {
	return &models.Entity{
		ID:              uuid.New().String(),
		Kind:            proto.Type,
		Name:            name,
		PrototypeID:     proto.ID,
		State:           StateCreated,
		MaintenanceMode: models.MaintenanceModeOff,
		CreatedAt:       time.Now(),
	}
}

// Create stores an entity with the prototype's default configuration.
func Create(ctx context.Context, tx *store.Store, e *models.Entity, proto *models.Prototype) error {
	if err := InitConfig(ctx, tx, e, proto, "init"); err != nil {
		return err
	}
	if err := tx.CreateEntity(ctx, e); err != nil {
		return err
	}
	metrics.EntityOperations.WithLabelValues(string(e.Kind), "create").Inc()
	return nil
}

// AddService creates a service of the cluster together with every component
// its prototype declares.
func AddService(ctx context.Context, tx *store.Store, cluster *models.Entity, proto *models.Prototype) (*models.Entity, error) {
	if proto.Type != models.TypeService {
		return nil, fmt.Errorf("%w: prototype %s is a %s", models.ErrInvalidRequest, proto.Name, proto.Type)
	}

	service := NewEntity(proto, proto.Name)
	service.ClusterID = cluster.ID
	if err := Create(ctx, tx, service, proto); err != nil {
		return nil, err
	}
	if _, err := AddComponents(ctx, tx, service, proto); err != nil {
		return nil, err
	}
	return service, nil
}

// AddComponents creates the components of a service's prototype that the
// service does not have yet.
func AddComponents(ctx context.Context, tx *store.Store, service *models.Entity, proto *models.Prototype) ([]*models.Entity, error) {
	protos, err := ComponentPrototypes(ctx, tx, proto)
	if err != nil {
		return nil, err
	}
	existing, err := tx.ListEntities(ctx, store.EntityFilter{Kind: models.KindComponent, ServiceID: service.ID})
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.Name] = true
	}

	var created []*models.Entity
	for _, cp := range protos {
		if have[cp.Name] {
			continue
		}
		comp, err := AddComponent(ctx, tx, service, cp)
		if err != nil {
			return nil, err
		}
		created = append(created, comp)
	}
	return created, nil
}

// AddComponent creates one component of a service.
func AddComponent(ctx context.Context, tx *store.Store, service *models.Entity, proto *models.Prototype) (*models.Entity, error) {
	comp := NewEntity(proto, proto.Name)
	comp.ClusterID = service.ClusterID
	comp.ServiceID = service.ID
	if err := Create(ctx, tx, comp, proto); err != nil {
		return nil, err
	}
	return comp, nil
}

// ComponentPrototypes returns the component prototypes of a service prototype.
func ComponentPrototypes(ctx context.Context, st *store.Store, service *models.Prototype) ([]*models.Prototype, error) {
	all, err := st.ListPrototypes(ctx, service.BundleID, models.TypeComponent)
	if err != nil {
		return nil, err
	}
	var out []*models.Prototype
	for _, p := range all {
		if p.ParentID == service.ID {
			out = append(out, p)
		}
	}
	return out, nil
}

// InitConfig saves the prototype defaults as the entity's first
// configuration. Prototypes without defaults leave the entity unconfigured.
// The entity itself is not saved.
func InitConfig(ctx context.Context, tx *store.Store, e *models.Entity, proto *models.Prototype, description string) error {
	if len(proto.Config) == 0 {
		e.ConfigID = 0
		return nil
	}
	return SaveConfig(ctx, tx, e, copyConfig(proto.Config), nil, description)
}

// SaveConfig appends a configuration to the entity's history and makes it
// current. The entity itself is not saved.
func SaveConfig(ctx context.Context, tx *store.Store, e *models.Entity, config, attr map[string]any, description string) error {
	cl := &models.ConfigLog{
		ObjectKind:  e.Kind,
		ObjectID:    e.ID,
		Config:      config,
		Attr:        attr,
		Description: description,
	}
	if err := tx.CreateConfig(ctx, cl); err != nil {
		return err
	}
	e.ConfigID = cl.ID
	return nil
}

// SwitchConfig carries the entity's configuration onto a new prototype: the
// new defaults overlaid with the current values of keys that still exist.
// The entity itself is not saved.
func SwitchConfig(ctx context.Context, tx *store.Store, e *models.Entity, newProto *models.Prototype) error {
	if len(newProto.Config) == 0 {
		e.ConfigID = 0
		return nil
	}

	merged := copyConfig(newProto.Config)
	var attr map[string]any
	if e.ConfigID != 0 {
		current, err := tx.GetConfig(ctx, e.ConfigID)
		if err != nil {
			return fmt.Errorf("failed to load current config of %s: %w", e.Ref(), err)
		}
		for key, value := range current.Config {
			if _, ok := merged[key]; ok {
				merged[key] = value
			}
		}
		attr = current.Attr
	}
	return SaveConfig(ctx, tx, e, merged, attr, "upgrade")
}

func copyConfig(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
