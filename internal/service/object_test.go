package service

import (
	"errors"
	"sort"
	"testing"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/concern"
	"github.com/yaroslav/stackform/models"
)

func TestObjectService_UpdateConfig(t *testing.T) {
	c := setupCluster(t)

	before, err := c.objects.Config(c.ctx, c.cluster.Ref())
	if err != nil {
		t.Fatalf("Config failed: %v", err)
	}

	cl, err := c.objects.UpdateConfig(c.ctx, c.cluster.Ref(), map[string]any{"replicas": "5"}, nil)
	if err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	if cl.ID <= before.ID {
		t.Errorf("Expected a new config after %d, got %d", before.ID, cl.ID)
	}

	current, err := c.objects.Config(c.ctx, c.cluster.Ref())
	if err != nil {
		t.Fatalf("Config failed: %v", err)
	}
	if current.ID != cl.ID || current.Config["replicas"] != "5" {
		t.Errorf("Expected replicas 5 in config %d, got %+v", cl.ID, current)
	}

	_, err = c.objects.UpdateConfig(c.ctx, c.cluster.Ref(), map[string]any{"shards": "2"}, nil)
	if !errors.Is(err, models.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for unknown key, got %v", err)
	}
}

func TestObjectService_ConfigWithoutDefaults(t *testing.T) {
	c := setupCluster(t)

	cfg, err := c.objects.Config(c.ctx, c.provider.Ref())
	if err != nil {
		t.Fatalf("Config failed: %v", err)
	}
	if cfg != nil {
		t.Errorf("Expected no config for ssh provider, got %+v", cfg)
	}
}

func TestObjectService_SetState(t *testing.T) {
	c := setupCluster(t)

	e, err := c.objects.SetState(c.ctx, c.cluster.Ref(), "installed")
	if err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if e.State != "installed" {
		t.Errorf("Expected state installed, got %q", e.State)
	}

	stored, err := c.objects.Get(c.ctx, c.cluster.Ref())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.State != "installed" {
		t.Errorf("Expected stored state installed, got %q", stored.State)
	}

	if _, err := c.objects.SetState(c.ctx, c.cluster.Ref(), ""); !errors.Is(err, models.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
}

func TestObjectService_GetUnknownKind(t *testing.T) {
	c := setupCluster(t)

	if _, err := c.objects.Get(c.ctx, models.Ref{Kind: "adcm", ID: c.cluster.ID}); !errors.Is(err, models.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
	if _, err := c.objects.List(c.ctx, "adcm"); !errors.Is(err, models.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}

	hosts, err := c.objects.List(c.ctx, models.KindHost)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(hosts) != 2 {
		t.Errorf("Expected 2 hosts, got %d", len(hosts))
	}
}

func TestObjectService_Affected(t *testing.T) {
	c := setupCluster(t)
	server := c.component(t, c.zookeeper, "server")

	if _, err := c.clusters.SetHostComponentMap(c.ctx, c.cluster.ID, []models.HostComponent{
		{HostID: c.host1.ID, ComponentID: server.ID},
	}); err != nil {
		t.Fatalf("SetHostComponentMap failed: %v", err)
	}

	want := sortedIDs(c.cluster.ID, c.zookeeper.ID, server.ID, c.host1.ID, c.provider.ID)
	for _, all := range []bool{false, true} {
		refs, err := c.objects.Affected(c.ctx, server.Ref(), all)
		if err != nil {
			t.Fatalf("Affected failed: %v", err)
		}
		got := make([]string, 0, len(refs))
		for _, r := range refs {
			got = append(got, r.ID)
		}
		if !equalIDs(sortedIDs(got...), want) {
			t.Errorf("all=%v: expected %v, got %v", all, want, sortedIDs(got...))
		}
	}
}

func TestObjectService_ConcernsAndLocks(t *testing.T) {
	c := setupCluster(t)
	server := c.component(t, c.zookeeper, "server")

	// The cluster misses its required monitoring import.
	concerns, err := c.objects.Concerns(c.ctx, c.zookeeper.Ref())
	if err != nil {
		t.Fatalf("Concerns failed: %v", err)
	}
	var found bool
	for _, cn := range concerns {
		if cn.Kind == models.ConcernIssue && cn.Cause == models.CauseImport && cn.Owner == c.cluster.Ref() {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected the cluster import issue on zookeeper, got %+v", concerns)
	}

	locked, err := c.objects.Locked(c.ctx, server.Ref())
	if err != nil {
		t.Fatalf("Locked failed: %v", err)
	}
	if locked {
		t.Error("Expected server unlocked before any task")
	}

	engine := concern.NewEngine(c.store, zap.NewNop())
	if _, err := engine.Lock(c.ctx, c.cluster.Ref(), models.CauseJob, "task 1: check"); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if locked, err = c.objects.Locked(c.ctx, server.Ref()); err != nil || !locked {
		t.Errorf("Expected server locked by its cluster, got %v, %v", locked, err)
	}
}

func sortedIDs(ids ...string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
