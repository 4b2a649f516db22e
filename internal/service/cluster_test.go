package service

import (
	"errors"
	"testing"

	"github.com/yaroslav/stackform/internal/concern"
	"github.com/yaroslav/stackform/models"
	"go.uber.org/zap"
)

type clusterEnv struct {
	*env
	hadoop    *models.Bundle
	ssh       *models.Bundle
	cluster   *models.Entity
	provider  *models.Entity
	zookeeper *models.Entity
	host1     *models.Entity
	host2     *models.Entity
}

// setupCluster loads hadoop and ssh, creates cluster "prod" with zookeeper
// installed and two ssh hosts added to it.
func setupCluster(t *testing.T) *clusterEnv {
	t.Helper()
	e := newEnv(t)
	c := &clusterEnv{env: e}
	c.hadoop = e.load(t, hadoopBundle)
	c.ssh = e.load(t, sshBundle)

	var err error
	if c.cluster, err = e.clusters.CreateCluster(e.ctx, c.hadoop.ID, "prod"); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	zk := e.prototype(t, c.hadoop, models.TypeService, "zookeeper")
	if c.zookeeper, err = e.clusters.AddService(e.ctx, c.cluster.ID, zk.ID); err != nil {
		t.Fatalf("AddService failed: %v", err)
	}

	if c.provider, err = e.providers.CreateProvider(e.ctx, c.ssh.ID, "dc1"); err != nil {
		t.Fatalf("CreateProvider failed: %v", err)
	}
	hostPt := e.prototype(t, c.ssh, models.TypeHost, "ssh-host")
	c.host1 = c.addHost(t, hostPt, "host-1")
	c.host2 = c.addHost(t, hostPt, "host-2")
	return c
}

func (c *clusterEnv) addHost(t *testing.T, proto *models.Prototype, name string) *models.Entity {
	t.Helper()
	host, err := c.providers.CreateHost(c.ctx, c.provider.ID, proto.ID, name)
	if err != nil {
		t.Fatalf("CreateHost failed: %v", err)
	}
	if host, err = c.providers.AddHostToCluster(c.ctx, c.cluster.ID, host.ID); err != nil {
		t.Fatalf("AddHostToCluster failed: %v", err)
	}
	return host
}

func (c *clusterEnv) component(t *testing.T, service *models.Entity, name string) *models.Entity {
	t.Helper()
	comps, err := c.clusters.Components(c.ctx, service.ID)
	if err != nil {
		t.Fatalf("Components failed: %v", err)
	}
	for _, comp := range comps {
		if comp.Name == name {
			return comp
		}
	}
	t.Fatalf("Service %s has no component %q", service.Name, name)
	return nil
}

func TestClusterService_CreateCluster(t *testing.T) {
	c := setupCluster(t)

	cfg, err := c.objects.Config(c.ctx, c.cluster.Ref())
	if err != nil {
		t.Fatalf("Config failed: %v", err)
	}
	if cfg == nil || cfg.Config["replicas"] != "3" {
		t.Errorf("Expected default config, got %+v", cfg)
	}

	if _, err := c.clusters.CreateCluster(c.ctx, c.hadoop.ID, "prod"); !errors.Is(err, models.ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName, got %v", err)
	}
	if _, err := c.clusters.CreateCluster(c.ctx, c.ssh.ID, "other"); !errors.Is(err, models.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for a provider bundle, got %v", err)
	}
}

func TestClusterService_AddServiceCreatesComponents(t *testing.T) {
	c := setupCluster(t)

	comps, err := c.clusters.Components(c.ctx, c.zookeeper.ID)
	if err != nil {
		t.Fatalf("Components failed: %v", err)
	}
	if len(comps) != 1 || comps[0].Name != "server" {
		t.Errorf("Expected zookeeper/server, got %v", comps)
	}

	zk := c.prototype(t, c.hadoop, models.TypeService, "zookeeper")
	if _, err := c.clusters.AddService(c.ctx, c.cluster.ID, zk.ID); !errors.Is(err, models.ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName, got %v", err)
	}
}

func TestClusterService_AddServiceRequires(t *testing.T) {
	e := newEnv(t)
	hadoop := e.load(t, hadoopBundle)
	cluster, err := e.clusters.CreateCluster(e.ctx, hadoop.ID, "prod")
	if err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}

	hdfs := e.prototype(t, hadoop, models.TypeService, "hdfs")
	_, err = e.clusters.AddService(e.ctx, cluster.ID, hdfs.ID)
	if !errors.Is(err, models.ErrMissingRequiredService) {
		t.Fatalf("Expected ErrMissingRequiredService, got %v", err)
	}
	var rerr *models.RequiresError
	if !errors.As(err, &rerr) || rerr.Service != "zookeeper" {
		t.Errorf("Expected requires error naming zookeeper, got %v", err)
	}

	services, err := e.clusters.Services(e.ctx, cluster.ID)
	if err != nil {
		t.Fatalf("Services failed: %v", err)
	}
	if len(services) != 0 {
		t.Errorf("Expected nothing installed, got %d services", len(services))
	}
}

func TestClusterService_AddServiceFromOtherBundle(t *testing.T) {
	c := setupCluster(t)
	monitoring := c.load(t, monitoringBundle)
	other, err := c.clusters.CreateCluster(c.ctx, monitoring.ID, "mon")
	if err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}

	zk := c.prototype(t, c.hadoop, models.TypeService, "zookeeper")
	if _, err := c.clusters.AddService(c.ctx, other.ID, zk.ID); !errors.Is(err, models.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
}

func TestClusterService_DeleteServiceInUse(t *testing.T) {
	c := setupCluster(t)
	hdfsPt := c.prototype(t, c.hadoop, models.TypeService, "hdfs")
	hdfs, err := c.clusters.AddService(c.ctx, c.cluster.ID, hdfsPt.ID)
	if err != nil {
		t.Fatalf("AddService failed: %v", err)
	}

	if err := c.clusters.DeleteService(c.ctx, c.zookeeper.ID); !errors.Is(err, models.ErrServiceInUse) {
		t.Fatalf("Expected ErrServiceInUse, got %v", err)
	}

	if err := c.clusters.DeleteService(c.ctx, hdfs.ID); err != nil {
		t.Fatalf("DeleteService failed: %v", err)
	}
	if err := c.clusters.DeleteService(c.ctx, c.zookeeper.ID); err != nil {
		t.Fatalf("DeleteService failed: %v", err)
	}
	services, err := c.clusters.Services(c.ctx, c.cluster.ID)
	if err != nil {
		t.Fatalf("Services failed: %v", err)
	}
	if len(services) != 0 {
		t.Errorf("Expected no services, got %d", len(services))
	}
}

func TestClusterService_SetHostComponentMap(t *testing.T) {
	c := setupCluster(t)
	server := c.component(t, c.zookeeper, "server")

	hcs, err := c.clusters.SetHostComponentMap(c.ctx, c.cluster.ID, []models.HostComponent{
		{HostID: c.host1.ID, ComponentID: server.ID},
		{HostID: c.host2.ID, ComponentID: server.ID},
	})
	if err != nil {
		t.Fatalf("SetHostComponentMap failed: %v", err)
	}
	if len(hcs) != 2 || hcs[0].ServiceID != c.zookeeper.ID {
		t.Errorf("Expected two rows filled with the service, got %+v", hcs)
	}

	// Replacing shrinks the map.
	if _, err := c.clusters.SetHostComponentMap(c.ctx, c.cluster.ID, []models.HostComponent{
		{HostID: c.host1.ID, ComponentID: server.ID},
	}); err != nil {
		t.Fatalf("SetHostComponentMap failed: %v", err)
	}
	stored, err := c.clusters.HostComponents(c.ctx, c.cluster.ID)
	if err != nil {
		t.Fatalf("HostComponents failed: %v", err)
	}
	if len(stored) != 1 || stored[0].HostID != c.host1.ID {
		t.Errorf("Expected only host-1 mapped, got %+v", stored)
	}
}

func TestClusterService_SetHostComponentMapRejects(t *testing.T) {
	c := setupCluster(t)
	server := c.component(t, c.zookeeper, "server")

	hostPt := c.prototype(t, c.ssh, models.TypeHost, "ssh-host")
	spare, err := c.providers.CreateHost(c.ctx, c.provider.ID, hostPt.ID, "spare")
	if err != nil {
		t.Fatalf("CreateHost failed: %v", err)
	}

	tests := []struct {
		name string
		rows []models.HostComponent
	}{
		{"host outside cluster", []models.HostComponent{{HostID: spare.ID, ComponentID: server.ID}}},
		{"unknown component", []models.HostComponent{{HostID: c.host1.ID, ComponentID: "missing"}}},
		{"wrong service", []models.HostComponent{{HostID: c.host1.ID, ServiceID: c.cluster.ID, ComponentID: server.ID}}},
		{"duplicate row", []models.HostComponent{
			{HostID: c.host1.ID, ComponentID: server.ID},
			{HostID: c.host1.ID, ComponentID: server.ID},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.clusters.SetHostComponentMap(c.ctx, c.cluster.ID, tt.rows); !errors.Is(err, models.ErrInvalidRequest) {
				t.Errorf("Expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestClusterService_LockedClusterRejectsMutations(t *testing.T) {
	c := setupCluster(t)
	server := c.component(t, c.zookeeper, "server")

	engine := concern.NewEngine(c.store, zap.NewNop())
	lock, err := engine.Lock(c.ctx, c.cluster.Ref(), models.CauseJob, "task 1: install")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	_, err = c.clusters.SetHostComponentMap(c.ctx, c.cluster.ID, []models.HostComponent{
		{HostID: c.host1.ID, ComponentID: server.ID},
	})
	if !errors.Is(err, models.ErrLocked) {
		t.Errorf("Expected ErrLocked, got %v", err)
	}
	if _, err := c.objects.UpdateConfig(c.ctx, c.cluster.Ref(), map[string]any{"replicas": "5"}, nil); !errors.Is(err, models.ErrLocked) {
		t.Errorf("Expected ErrLocked on config update, got %v", err)
	}
	if err := c.clusters.DeleteCluster(c.ctx, c.cluster.ID); !errors.Is(err, models.ErrLocked) {
		t.Errorf("Expected ErrLocked on delete, got %v", err)
	}

	if err := engine.Delete(c.ctx, lock); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.clusters.SetHostComponentMap(c.ctx, c.cluster.ID, []models.HostComponent{
		{HostID: c.host1.ID, ComponentID: server.ID},
	}); err != nil {
		t.Errorf("Expected map to save once unlocked, got %v", err)
	}
}

func TestClusterService_BindImportResolvesIssue(t *testing.T) {
	c := setupCluster(t)
	monitoring := c.load(t, monitoringBundle)
	mon, err := c.clusters.CreateCluster(c.ctx, monitoring.ID, "mon")
	if err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}

	engine := concern.NewEngine(c.store, zap.NewNop())
	issue, err := engine.OwnIssue(c.ctx, c.cluster.Ref(), models.CauseImport)
	if err != nil {
		t.Fatalf("OwnIssue failed: %v", err)
	}
	if issue == nil {
		t.Fatal("Expected a required import issue before binding")
	}

	bind, err := c.clusters.BindImport(c.ctx, c.cluster.Ref(), mon.Ref())
	if err != nil {
		t.Fatalf("BindImport failed: %v", err)
	}
	if issue, err = engine.OwnIssue(c.ctx, c.cluster.Ref(), models.CauseImport); err != nil || issue != nil {
		t.Errorf("Expected issue to be resolved, got %v, %v", issue, err)
	}

	if _, err := c.clusters.BindImport(c.ctx, c.cluster.Ref(), mon.Ref()); !errors.Is(err, models.ErrConflict) {
		t.Errorf("Expected ErrConflict on duplicate bind, got %v", err)
	}

	// Deleting the exporter brings the issue back.
	if err := c.clusters.DeleteCluster(c.ctx, mon.ID); err != nil {
		t.Fatalf("DeleteCluster failed: %v", err)
	}
	binds, err := c.clusters.Binds(c.ctx, c.cluster.ID)
	if err != nil {
		t.Fatalf("Binds failed: %v", err)
	}
	if len(binds) != 0 {
		t.Errorf("Expected bind %s to cascade, got %d binds", bind.ID, len(binds))
	}
	if issue, err = engine.OwnIssue(c.ctx, c.cluster.Ref(), models.CauseImport); err != nil || issue == nil {
		t.Errorf("Expected import issue to return, got %v, %v", issue, err)
	}
}

func TestClusterService_BindImportRejects(t *testing.T) {
	c := setupCluster(t)

	other, err := c.clusters.CreateCluster(c.ctx, c.hadoop.ID, "staging")
	if err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	// hadoop exports nothing at cluster level.
	if _, err := c.clusters.BindImport(c.ctx, c.cluster.Ref(), other.Ref()); !errors.Is(err, models.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
	if _, err := c.clusters.BindImport(c.ctx, c.cluster.Ref(), c.zookeeper.Ref()); !errors.Is(err, models.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for own cluster, got %v", err)
	}
	if _, err := c.clusters.BindImport(c.ctx, c.host1.Ref(), other.Ref()); !errors.Is(err, models.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for a host importer, got %v", err)
	}
}

func TestImportable(t *testing.T) {
	importer := &models.Prototype{
		Type:    models.TypeCluster,
		Name:    "hadoop",
		Imports: []models.PrototypeImport{{Name: "monitoring", MinVersion: "1.0", MaxVersion: "2.0", MaxStrict: true}},
	}
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{"monitoring", "1.0", false},
		{"monitoring", "1.9", false},
		{"monitoring", "2.0", true},
		{"monitoring", "0.9", true},
		{"logging", "1.0", true},
	}
	for _, tt := range tests {
		err := importable(importer, &models.Prototype{Name: tt.name, Version: tt.version})
		if (err != nil) != tt.wantErr {
			t.Errorf("%s %s: expected error %v, got %v", tt.name, tt.version, tt.wantErr, err)
		}
	}
}
