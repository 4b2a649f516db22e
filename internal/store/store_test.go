package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/internal/store/storetest"
	"github.com/yaroslav/stackform/models"
)

// clusterFixture is a cluster with one service, two components and two hosts.
type clusterFixture struct {
	*storetest.Fixture
	bundle       *models.Bundle
	cluster      *models.Entity
	service      *models.Entity
	comp1, comp2 *models.Entity
	provider     *models.Entity
	host1, host2 *models.Entity
}

func setupCluster(t *testing.T) *clusterFixture {
	f := storetest.NewFixture(t)

	b := f.Bundle("hadoop", "1.0", "community")
	cp := f.Prototype(b, models.TypeCluster, "hadoop", nil)
	sp := f.Prototype(b, models.TypeService, "hdfs", nil)
	c1p := f.Prototype(b, models.TypeComponent, "namenode", sp)
	c2p := f.Prototype(b, models.TypeComponent, "datanode", sp)

	pb := f.Bundle("ssh", "1.0", "community")
	pp := f.Prototype(pb, models.TypeProvider, "ssh", nil)
	hp := f.Prototype(pb, models.TypeHost, "ssh-host", nil)

	cf := &clusterFixture{Fixture: f, bundle: b}
	cf.cluster = f.Entity(cp, "main")
	cf.service = f.Service(cf.cluster, sp)
	cf.comp1 = f.Component(cf.service, c1p)
	cf.comp2 = f.Component(cf.service, c2p)
	cf.provider = f.Entity(pp, "ssh-1")
	cf.host1 = f.Host(cf.provider, hp, "host-1", cf.cluster)
	cf.host2 = f.Host(cf.provider, hp, "host-2", cf.cluster)
	f.Map(cf.cluster, storetest.HC(cf.host1, cf.comp1), storetest.HC(cf.host2, cf.comp2))
	return cf
}

func TestStore_EntityRoundTrip(t *testing.T) {
	cf := setupCluster(t)
	ctx := context.Background()

	got, err := cf.Store.GetEntity(ctx, cf.comp1.Ref())
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.ServiceID != cf.service.ID || got.ClusterID != cf.cluster.ID {
		t.Errorf("Unexpected relations %+v", got)
	}
	if got.MaintenanceMode != models.MaintenanceModeOff {
		t.Errorf("Expected maintenance mode off, got %q", got.MaintenanceMode)
	}

	// Wrong kind in the reference
	_, err = cf.Store.GetEntity(ctx, models.Ref{Kind: models.KindHost, ID: cf.comp1.ID})
	if !errors.Is(err, models.ErrEntityNotFound) {
		t.Errorf("Expected ErrEntityNotFound, got %v", err)
	}

	got.State = "installed"
	got.ConfigID = 42
	got.BeforeUpgrade = &models.UpgradeSnapshot{
		State:    "created",
		ConfigID: 7,
		HostComponents: []models.HostComponentName{
			{Service: "hdfs", Component: "namenode", Host: "host-1"},
		},
		Services: []string{"hdfs"},
	}
	if err := cf.Store.UpdateEntity(ctx, got); err != nil {
		t.Fatalf("UpdateEntity failed: %v", err)
	}

	again := cf.Reload(got)
	if again.State != "installed" || again.ConfigID != 42 {
		t.Errorf("Update not persisted: %+v", again)
	}
	if again.BeforeUpgrade == nil || again.BeforeUpgrade.ConfigID != 7 || len(again.BeforeUpgrade.HostComponents) != 1 {
		t.Errorf("Snapshot not persisted: %+v", again.BeforeUpgrade)
	}
}

func TestStore_DuplicateNames(t *testing.T) {
	cf := setupCluster(t)

	proto, err := cf.Store.GetPrototype(cf.Ctx, cf.service.PrototypeID)
	if err != nil {
		t.Fatalf("GetPrototype failed: %v", err)
	}

	dup := &models.Entity{
		ID:          uuid.New().String(),
		Kind:        models.KindService,
		Name:        "hdfs",
		PrototypeID: proto.ID,
		State:       "created",
		ClusterID:   cf.cluster.ID,
		CreatedAt:   time.Now(),
	}
	if err := cf.Store.CreateEntity(cf.Ctx, dup); !errors.Is(err, models.ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName for service, got %v", err)
	}
}

func TestStore_ListEntities(t *testing.T) {
	cf := setupCluster(t)

	comps, err := cf.Store.ListEntities(cf.Ctx, store.EntityFilter{Kind: models.KindComponent, ServiceID: cf.service.ID})
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(comps) != 2 || comps[0].Name != "datanode" {
		t.Errorf("Expected 2 components sorted by name, got %d", len(comps))
	}

	hosts, err := cf.Store.ListEntities(cf.Ctx, store.EntityFilter{Kind: models.KindHost, ClusterID: cf.cluster.ID})
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(hosts) != 2 {
		t.Errorf("Expected 2 hosts, got %d", len(hosts))
	}

	none, err := cf.Store.ListEntities(cf.Ctx, store.EntityFilter{IDs: []string{}})
	if err != nil || len(none) != 0 {
		t.Errorf("Expected empty result for empty id list, got %d (%v)", len(none), err)
	}

	byID, err := cf.Store.ListEntities(cf.Ctx, store.EntityFilter{IDs: []string{cf.host1.ID, cf.comp2.ID}})
	if err != nil || len(byID) != 2 {
		t.Errorf("Expected 2 entities by id, got %d (%v)", len(byID), err)
	}
}

func TestStore_DeleteClusterCascade(t *testing.T) {
	cf := setupCluster(t)
	ctx := cf.Ctx

	lock := &models.Concern{
		ID:        uuid.New().String(),
		Kind:      models.ConcernLock,
		Cause:     models.CauseJob,
		Name:      "job",
		Owner:     cf.comp1.Ref(),
		CreatedAt: time.Now(),
	}
	if err := cf.Store.CreateConcern(ctx, lock); err != nil {
		t.Fatalf("CreateConcern failed: %v", err)
	}
	if err := cf.Store.LinkConcern(ctx, lock.ID, cf.comp1.ID, cf.host1.ID); err != nil {
		t.Fatalf("LinkConcern failed: %v", err)
	}

	if err := cf.Store.DeleteEntity(ctx, cf.cluster.Ref()); err != nil {
		t.Fatalf("DeleteEntity failed: %v", err)
	}

	for _, e := range []*models.Entity{cf.service, cf.comp1, cf.comp2} {
		if _, err := cf.Store.GetEntity(ctx, e.Ref()); !errors.Is(err, models.ErrEntityNotFound) {
			t.Errorf("Expected %s to be deleted, got %v", e.Ref(), err)
		}
	}

	host := cf.Reload(cf.host1)
	if host.ClusterID != "" || host.ProviderID != cf.provider.ID {
		t.Errorf("Expected host to revert to provider-only, got %+v", host)
	}

	hcs, err := cf.Store.ListHostComponents(ctx, cf.cluster.ID)
	if err != nil || len(hcs) != 0 {
		t.Errorf("Expected bindings to be deleted, got %d (%v)", len(hcs), err)
	}

	// The concern owned by the deleted component is gone, including from the surviving host
	if _, err := cf.Store.GetConcern(ctx, lock.ID); !errors.Is(err, models.ErrConcernNotFound) {
		t.Errorf("Expected owned concern to be deleted, got %v", err)
	}
	n, err := cf.Store.CountAttachedConcerns(ctx, cf.host1.ID, models.ConcernLock)
	if err != nil || n != 0 {
		t.Errorf("Expected no locks on host, got %d (%v)", n, err)
	}
}

func TestStore_DeleteConcernUnlinksEverywhere(t *testing.T) {
	cf := setupCluster(t)
	ctx := cf.Ctx

	issue := &models.Concern{
		ID:        uuid.New().String(),
		Kind:      models.ConcernIssue,
		Cause:     models.CauseRequires,
		Name:      "requires",
		Owner:     cf.service.Ref(),
		CreatedAt: time.Now(),
	}
	if err := cf.Store.CreateConcern(ctx, issue); err != nil {
		t.Fatalf("CreateConcern failed: %v", err)
	}
	if err := cf.Store.ReplaceConcernLinks(ctx, issue.ID, []string{cf.cluster.ID, cf.service.ID, cf.comp1.ID}); err != nil {
		t.Fatalf("ReplaceConcernLinks failed: %v", err)
	}

	attached, err := cf.Store.ListAttachedConcerns(ctx, cf.comp1.ID)
	if err != nil || len(attached) != 1 || attached[0].Owner != cf.service.Ref() {
		t.Fatalf("Expected inherited concern on component, got %v (%v)", attached, err)
	}

	if err := cf.Store.DeleteConcern(ctx, issue.ID); err != nil {
		t.Fatalf("DeleteConcern failed: %v", err)
	}

	for _, id := range []string{cf.cluster.ID, cf.service.ID, cf.comp1.ID} {
		attached, err := cf.Store.ListAttachedConcerns(ctx, id)
		if err != nil || len(attached) != 0 {
			t.Errorf("Expected no concerns on %s, got %d (%v)", id, len(attached), err)
		}
	}
}

func TestStore_InTxRollback(t *testing.T) {
	cf := setupCluster(t)
	ctx := cf.Ctx

	boom := errors.New("boom")
	svc := cf.Reload(cf.service)
	err := cf.Store.InTx(ctx, func(tx *store.Store) error {
		svc.State = "broken"
		if err := tx.UpdateEntity(ctx, svc); err != nil {
			return err
		}
		if err := tx.DeleteEntity(ctx, cf.comp1.Ref()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected callback error, got %v", err)
	}

	if got := cf.Reload(cf.service); got.State != "created" {
		t.Errorf("Expected rollback of state, got %q", got.State)
	}
	cf.Reload(cf.comp1)
}

func TestStore_InTxNested(t *testing.T) {
	cf := setupCluster(t)
	ctx := cf.Ctx

	err := cf.Store.InTx(ctx, func(tx *store.Store) error {
		return tx.InTx(ctx, func(inner *store.Store) error {
			if inner != tx {
				t.Error("Expected nested InTx to reuse the outer transaction")
			}
			return inner.DeleteEntity(ctx, cf.comp2.Ref())
		})
	})
	if err != nil {
		t.Fatalf("InTx failed: %v", err)
	}
	if _, err := cf.Store.GetEntity(ctx, cf.comp2.Ref()); !errors.Is(err, models.ErrEntityNotFound) {
		t.Errorf("Expected component deleted, got %v", err)
	}
}

func TestStore_Prototypes(t *testing.T) {
	cf := setupCluster(t)
	ctx := cf.Ctx

	svc, err := cf.Store.FindPrototype(ctx, cf.bundle.ID, models.TypeService, "hdfs", "")
	if err != nil {
		t.Fatalf("FindPrototype(service) failed: %v", err)
	}

	comp, err := cf.Store.FindPrototype(ctx, cf.bundle.ID, models.TypeComponent, "datanode", svc.ID)
	if err != nil {
		t.Fatalf("FindPrototype(component) failed: %v", err)
	}
	if comp.ParentID != svc.ID {
		t.Errorf("Expected parent %s, got %s", svc.ID, comp.ParentID)
	}

	_, err = cf.Store.FindPrototype(ctx, cf.bundle.ID, models.TypeComponent, "datanode", "")
	if !errors.Is(err, models.ErrPrototypeNotFound) {
		t.Errorf("Expected ErrPrototypeNotFound without parent, got %v", err)
	}

	all, err := cf.Store.ListPrototypes(ctx, cf.bundle.ID, "")
	if err != nil || len(all) != 4 {
		t.Errorf("Expected 4 prototypes, got %d (%v)", len(all), err)
	}
}

func TestStore_PrototypeJSONColumns(t *testing.T) {
	f := storetest.NewFixture(t)
	b := f.Bundle("app", "1.0", "community")
	p := f.Prototype(b, models.TypeService, "api", nil, func(p *models.Prototype) {
		p.Requires = []models.Requirement{{Service: "db", Component: "primary"}}
		p.Imports = []models.PrototypeImport{{Name: "monitoring", MinVersion: "1", MaxVersion: "2", MaxStrict: true, Required: true}}
		p.Exports = []string{"endpoints"}
		p.Config = map[string]any{"port": float64(8080)}
	})

	got, err := f.Store.GetPrototype(f.Ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPrototype failed: %v", err)
	}
	if len(got.Requires) != 1 || got.Requires[0].Kind() != models.RequiresComponent {
		t.Errorf("Unexpected requires %+v", got.Requires)
	}
	if len(got.Imports) != 1 || !got.Imports[0].MaxStrict || !got.Imports[0].Required {
		t.Errorf("Unexpected imports %+v", got.Imports)
	}
	if got.Config["port"] != float64(8080) {
		t.Errorf("Unexpected config %+v", got.Config)
	}
}

func TestStore_Upgrades(t *testing.T) {
	f := storetest.NewFixture(t)
	b1 := f.Bundle("hadoop", "1.0", "community")
	b2 := f.Bundle("hadoop", "2.0", "community")
	f.Bundle("other", "2.0", "community")

	up := &models.Upgrade{
		ID:             uuid.New().String(),
		BundleID:       b2.ID,
		Name:           "to 2.0",
		MinVersion:     "1.0",
		MaxVersion:     "2.0",
		MaxStrict:      true,
		FromEdition:    []string{"community"},
		StateAvailable: []string{"created", "installed"},
		StateOnSuccess: "upgraded",
		Action: &models.Action{
			Name:             "upgrade",
			HostComponentMap: []models.HostComponentRule{{Service: "hdfs", Component: "datanode", Action: "add"}},
		},
	}
	if err := f.Store.CreateUpgrade(f.Ctx, up); err != nil {
		t.Fatalf("CreateUpgrade failed: %v", err)
	}

	got, err := f.Store.GetUpgrade(f.Ctx, up.ID)
	if err != nil {
		t.Fatalf("GetUpgrade failed: %v", err)
	}
	if !got.MaxStrict || got.MinStrict || got.Action == nil || len(got.Action.HostComponentMap) != 1 {
		t.Errorf("Unexpected upgrade %+v", got)
	}
	if !got.Allowed("installed") || got.Allowed("broken") {
		t.Errorf("Unexpected state allow-list %v", got.StateAvailable)
	}

	list, err := f.Store.ListUpgradesByBundleName(f.Ctx, "hadoop")
	if err != nil || len(list) != 1 {
		t.Errorf("Expected 1 upgrade for hadoop, got %d (%v)", len(list), err)
	}

	if err := f.Store.DeleteBundle(f.Ctx, b1.ID); err != nil {
		t.Errorf("DeleteBundle of unused bundle failed: %v", err)
	}
}

func TestStore_DeleteBundleInUse(t *testing.T) {
	cf := setupCluster(t)

	err := cf.Store.DeleteBundle(cf.Ctx, cf.bundle.ID)
	if !errors.Is(err, models.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestStore_Configs(t *testing.T) {
	cf := setupCluster(t)
	ctx := cf.Ctx

	first := &models.ConfigLog{ObjectKind: models.KindCluster, ObjectID: cf.cluster.ID, Config: map[string]any{"a": "1"}}
	second := &models.ConfigLog{ObjectKind: models.KindCluster, ObjectID: cf.cluster.ID, Config: map[string]any{"a": "2"}}
	for _, cl := range []*models.ConfigLog{first, second} {
		if err := cf.Store.CreateConfig(ctx, cl); err != nil {
			t.Fatalf("CreateConfig failed: %v", err)
		}
	}
	if second.ID <= first.ID {
		t.Errorf("Expected increasing config ids, got %d then %d", first.ID, second.ID)
	}

	got, err := cf.Store.GetConfig(ctx, second.ID)
	if err != nil || got.Config["a"] != "2" {
		t.Fatalf("Unexpected config %+v (%v)", got, err)
	}

	pruned, err := cf.Store.DeleteConfigsBefore(ctx, cf.cluster.ID, second.ID)
	if err != nil || pruned != 1 {
		t.Errorf("Expected 1 pruned config, got %d (%v)", pruned, err)
	}
	if _, err := cf.Store.GetConfig(ctx, first.ID); !errors.Is(err, models.ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
}

func TestStore_HostComponentsDuplicate(t *testing.T) {
	cf := setupCluster(t)

	err := cf.Store.ReplaceHostComponents(cf.Ctx, cf.cluster.ID, []*models.HostComponent{
		{HostID: cf.host1.ID, ServiceID: cf.service.ID, ComponentID: cf.comp1.ID},
		{HostID: cf.host1.ID, ServiceID: cf.service.ID, ComponentID: cf.comp1.ID},
	})
	if !errors.Is(err, models.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestStore_Binds(t *testing.T) {
	cf := setupCluster(t)
	other := cf.Entity(mustPrototype(t, cf, models.TypeCluster, "hadoop"), "second")

	bind := &models.ClusterBind{ID: uuid.New().String(), ClusterID: other.ID, SourceClusterID: cf.cluster.ID, SourceServiceID: cf.service.ID}
	if err := cf.Store.CreateBind(cf.Ctx, bind); err != nil {
		t.Fatalf("CreateBind failed: %v", err)
	}

	imports, err := cf.Store.ListBindsByImporter(cf.Ctx, other.ID)
	if err != nil || len(imports) != 1 || imports[0].Exporter() != cf.service.Ref() {
		t.Errorf("Unexpected importer binds %v (%v)", imports, err)
	}
	exports, err := cf.Store.ListBindsByExporter(cf.Ctx, cf.cluster.ID)
	if err != nil || len(exports) != 1 || exports[0].Importer() != other.Ref() {
		t.Errorf("Unexpected exporter binds %v (%v)", exports, err)
	}

	dup := *bind
	dup.ID = uuid.New().String()
	if err := cf.Store.CreateBind(cf.Ctx, &dup); !errors.Is(err, models.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate bind, got %v", err)
	}
}

func TestStore_Tasks(t *testing.T) {
	cf := setupCluster(t)

	task := &models.Task{
		ID:               uuid.New().String(),
		Action:           "upgrade",
		Object:           cf.cluster.Ref(),
		Config:           map[string]any{"force": true},
		HostComponentMap: []models.HostComponent{{HostID: cf.host1.ID, ServiceID: cf.service.ID, ComponentID: cf.comp1.ID}},
		Status:           models.TaskCreated,
		CreatedAt:        time.Now(),
	}
	if err := cf.Store.CreateTask(cf.Ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	now := time.Now()
	task.Status = models.TaskSuccess
	task.FinishedAt = &now
	if err := cf.Store.UpdateTaskStatus(cf.Ctx, task); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}

	got, err := cf.Store.GetTask(cf.Ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.TaskSuccess || got.FinishedAt == nil || got.Object != cf.cluster.Ref() {
		t.Errorf("Unexpected task %+v", got)
	}
	if len(got.HostComponentMap) != 1 || got.Config["force"] != true {
		t.Errorf("Unexpected task payload %+v", got)
	}

	tasks, err := cf.Store.ListTasks(cf.Ctx, cf.cluster.ID)
	if err != nil || len(tasks) != 1 {
		t.Errorf("Expected 1 task, got %d (%v)", len(tasks), err)
	}
}

func mustPrototype(t *testing.T, cf *clusterFixture, typ models.PrototypeType, name string) *models.Prototype {
	t.Helper()
	p, err := cf.Store.FindPrototype(cf.Ctx, cf.bundle.ID, typ, name, "")
	if err != nil {
		t.Fatalf("FindPrototype failed: %v", err)
	}
	return p
}
