// Package storetest provides an in-memory store and fixture helpers for tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
)

// New opens an in-memory store with the schema applied. It is closed when the test ends.
func New(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), ":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// Fixture creates records with minimal boilerplate. Every helper fails the test on error.
type Fixture struct {
	T     *testing.T
	Store *store.Store
	Ctx   context.Context
}

// NewFixture returns a fixture over a fresh in-memory store.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	return &Fixture{T: t, Store: New(t), Ctx: context.Background()}
}

// Bundle stores a bundle.
func (f *Fixture) Bundle(name, version, edition string) *models.Bundle {
	f.T.Helper()
	b := &models.Bundle{
		ID:        uuid.New().String(),
		Name:      name,
		Version:   version,
		Edition:   edition,
		CreatedAt: time.Now(),
	}
	if err := f.Store.CreateBundle(f.Ctx, b, nil); err != nil {
		f.T.Fatalf("Failed to create bundle: %v", err)
	}
	return b
}

// Prototype stores a prototype. parent is the service prototype of a component (nil otherwise).
func (f *Fixture) Prototype(b *models.Bundle, typ models.PrototypeType, name string, parent *models.Prototype, opts ...func(*models.Prototype)) *models.Prototype {
	f.T.Helper()
	p := &models.Prototype{
		ID:       uuid.New().String(),
		BundleID: b.ID,
		Type:     typ,
		Name:     name,
		Version:  b.Version,
	}
	if parent != nil {
		p.ParentID = parent.ID
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := f.Store.CreatePrototype(f.Ctx, p); err != nil {
		f.T.Fatalf("Failed to create prototype: %v", err)
	}
	return p
}

// Entity stores an entity of the prototype's kind.
func (f *Fixture) Entity(proto *models.Prototype, name string, opts ...func(*models.Entity)) *models.Entity {
	f.T.Helper()
	e := &models.Entity{
		ID:          uuid.New().String(),
		Kind:        proto.Type,
		Name:        name,
		PrototypeID: proto.ID,
		State:       "created",
		CreatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := f.Store.CreateEntity(f.Ctx, e); err != nil {
		f.T.Fatalf("Failed to create entity: %v", err)
	}
	return e
}

// Service stores a service of the cluster.
func (f *Fixture) Service(cluster *models.Entity, proto *models.Prototype) *models.Entity {
	f.T.Helper()
	return f.Entity(proto, proto.Name, func(e *models.Entity) { e.ClusterID = cluster.ID })
}

// Component stores a component of the service.
func (f *Fixture) Component(service *models.Entity, proto *models.Prototype) *models.Entity {
	f.T.Helper()
	return f.Entity(proto, proto.Name, func(e *models.Entity) {
		e.ClusterID = service.ClusterID
		e.ServiceID = service.ID
	})
}

// Host stores a host of the provider, optionally added to a cluster.
func (f *Fixture) Host(provider *models.Entity, proto *models.Prototype, name string, cluster *models.Entity) *models.Entity {
	f.T.Helper()
	return f.Entity(proto, name, func(e *models.Entity) {
		e.ProviderID = provider.ID
		if cluster != nil {
			e.ClusterID = cluster.ID
		}
	})
}

// Map replaces the cluster deployment map with the given host/component pairs.
func (f *Fixture) Map(cluster *models.Entity, pairs ...[2]*models.Entity) []*models.HostComponent {
	f.T.Helper()
	hcs := make([]*models.HostComponent, 0, len(pairs))
	for _, p := range pairs {
		host, comp := p[0], p[1]
		hcs = append(hcs, &models.HostComponent{
			HostID:      host.ID,
			ServiceID:   comp.ServiceID,
			ComponentID: comp.ID,
		})
	}
	if err := f.Store.ReplaceHostComponents(f.Ctx, cluster.ID, hcs); err != nil {
		f.T.Fatalf("Failed to map host components: %v", err)
	}
	return hcs
}

// Reload reads an entity back from the store.
func (f *Fixture) Reload(e *models.Entity) *models.Entity {
	f.T.Helper()
	got, err := f.Store.GetEntity(f.Ctx, e.Ref())
	if err != nil {
		f.T.Fatalf("Failed to reload %s: %v", e.Ref(), err)
	}
	return got
}

// HC is a host/component pair for Map.
func HC(host, component *models.Entity) [2]*models.Entity {
	return [2]*models.Entity{host, component}
}
