package concern

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/internal/store/storetest"
	"github.com/yaroslav/stackform/models"
)

var errRollback = errors.New("rollback")

type testCluster struct {
	*storetest.Fixture
	engine    *Engine
	cluster   *models.Entity
	hdfs      *models.Entity
	namenode  *models.Entity
	yarn      *models.Entity
	rm        *models.Entity
	provider  *models.Entity
	host1     *models.Entity
	host2     *models.Entity
	hostSpare *models.Entity
}

// setupCluster builds a cluster with hdfs/namenode on host-1 and
// yarn/resourcemanager on host-2. host-spare belongs to the provider only.
func setupCluster(t *testing.T) *testCluster {
	t.Helper()
	f := storetest.NewFixture(t)

	cb := f.Bundle("hadoop", "1.0", "community")
	hdfsPt := f.Prototype(cb, models.TypeService, "hdfs", nil)
	yarnPt := f.Prototype(cb, models.TypeService, "yarn", nil)
	cluster := f.Entity(f.Prototype(cb, models.TypeCluster, "hadoop", nil), "prod")
	hdfs := f.Service(cluster, hdfsPt)
	yarn := f.Service(cluster, yarnPt)
	namenode := f.Component(hdfs, f.Prototype(cb, models.TypeComponent, "namenode", hdfsPt))
	rm := f.Component(yarn, f.Prototype(cb, models.TypeComponent, "resourcemanager", yarnPt))

	pb := f.Bundle("ssh", "1.0", "community")
	provider := f.Entity(f.Prototype(pb, models.TypeProvider, "ssh", nil), "ssh")
	hostPt := f.Prototype(pb, models.TypeHost, "ssh-host", nil)
	host1 := f.Host(provider, hostPt, "host-1", cluster)
	host2 := f.Host(provider, hostPt, "host-2", cluster)
	spare := f.Host(provider, hostPt, "host-spare", nil)
	f.Map(cluster, storetest.HC(host1, namenode), storetest.HC(host2, rm))

	return &testCluster{
		Fixture:   f,
		engine:    NewEngine(f.Store, zap.NewNop()),
		cluster:   cluster,
		hdfs:      hdfs,
		namenode:  namenode,
		yarn:      yarn,
		rm:        rm,
		provider:  provider,
		host1:     host1,
		host2:     host2,
		hostSpare: spare,
	}
}

func (tc *testCluster) locked(t *testing.T, e *models.Entity) bool {
	t.Helper()
	locked, err := tc.engine.IsLocked(context.Background(), e.Ref())
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	return locked
}

func TestEngine_AttachDetach(t *testing.T) {
	tc := setupCluster(t)
	ctx := context.Background()

	lock, err := tc.engine.Create(ctx, models.ConcernLock, models.CauseJob, "install", tc.cluster.Ref())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if tc.locked(t, tc.hdfs) {
		t.Fatal("Expected a created concern to be attached to nothing")
	}

	if err := tc.engine.Attach(ctx, tc.hdfs.Ref(), lock); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := tc.engine.Attach(ctx, tc.hdfs.Ref(), lock); err != nil {
		t.Fatalf("Second Attach failed: %v", err)
	}
	if !tc.locked(t, tc.hdfs) {
		t.Error("Expected service to be locked")
	}
	if tc.locked(t, tc.yarn) {
		t.Error("Expected sibling service to stay unlocked")
	}

	if err := tc.engine.Detach(ctx, tc.hdfs.Ref(), lock); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if tc.locked(t, tc.hdfs) {
		t.Error("Expected service to be unlocked after detaching its only lock")
	}
}

func TestEngine_NilConcernIsNoop(t *testing.T) {
	tc := setupCluster(t)
	ctx := context.Background()

	if err := tc.engine.Attach(ctx, tc.hdfs.Ref(), nil); err != nil {
		t.Errorf("Attach(nil) returned %v", err)
	}
	if err := tc.engine.Detach(ctx, tc.hdfs.Ref(), nil); err != nil {
		t.Errorf("Detach(nil) returned %v", err)
	}
	unsaved := &models.Concern{Kind: models.ConcernLock, Name: "draft"}
	if err := tc.engine.Attach(ctx, tc.hdfs.Ref(), unsaved); err != nil {
		t.Errorf("Attach(unsaved) returned %v", err)
	}
	if err := tc.engine.Delete(ctx, nil); err != nil {
		t.Errorf("Delete(nil) returned %v", err)
	}
	if tc.locked(t, tc.hdfs) {
		t.Error("Expected no lock after no-op calls")
	}
}

func TestEngine_LockCoversAffectedSet(t *testing.T) {
	tc := setupCluster(t)
	ctx := context.Background()

	lock, err := tc.engine.Lock(ctx, tc.namenode.Ref(), models.CauseJob, "restart namenode")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	for _, e := range []*models.Entity{tc.cluster, tc.hdfs, tc.namenode, tc.yarn, tc.rm, tc.host1, tc.provider} {
		if !tc.locked(t, e) {
			t.Errorf("Expected %s to be locked", e.Name)
		}
	}
	for _, e := range []*models.Entity{tc.host2, tc.hostSpare} {
		if tc.locked(t, e) {
			t.Errorf("Expected %s to stay unlocked", e.Name)
		}
	}

	names, err := tc.engine.BlockingNames(ctx, tc.yarn.Ref())
	if err != nil {
		t.Fatalf("BlockingNames failed: %v", err)
	}
	if len(names) != 1 || names[0] != "restart namenode" {
		t.Errorf("Expected [restart namenode], got %v", names)
	}

	// Deleting the record unlocks everything without a detach.
	if err := tc.engine.Delete(ctx, lock); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	for _, e := range []*models.Entity{tc.cluster, tc.hdfs, tc.namenode, tc.host1, tc.provider} {
		if tc.locked(t, e) {
			t.Errorf("Expected %s to be unlocked after delete", e.Name)
		}
	}

	// A second delete is harmless.
	if err := tc.engine.Delete(ctx, lock); err != nil {
		t.Errorf("Second Delete returned %v", err)
	}
}

func TestEngine_OwnIssue(t *testing.T) {
	tc := setupCluster(t)
	ctx := context.Background()

	issue, err := tc.engine.Raise(ctx, models.ConcernIssue, models.CauseRequires, "hdfs requires zookeeper", tc.hdfs.Ref())
	if err != nil {
		t.Fatalf("Raise failed: %v", err)
	}

	got, err := tc.engine.OwnIssue(ctx, tc.hdfs.Ref(), models.CauseRequires)
	if err != nil {
		t.Fatalf("OwnIssue failed: %v", err)
	}
	if got == nil || got.ID != issue.ID {
		t.Fatalf("Expected owner to see its issue, got %+v", got)
	}

	// The cluster carries the issue but does not own it.
	attached, err := tc.engine.Attached(ctx, tc.cluster.Ref())
	if err != nil {
		t.Fatalf("Attached failed: %v", err)
	}
	if len(attached) != 1 {
		t.Fatalf("Expected the issue to be attached to the cluster, got %d concerns", len(attached))
	}
	got, err = tc.engine.OwnIssue(ctx, tc.cluster.Ref(), models.CauseRequires)
	if err != nil {
		t.Fatalf("OwnIssue failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected no own issue on the cluster, got %s", got.Name)
	}

	got, err = tc.engine.OwnIssue(ctx, tc.hdfs.Ref(), models.CauseImport)
	if err != nil {
		t.Fatalf("OwnIssue failed: %v", err)
	}
	if got != nil {
		t.Error("Expected no issue for another cause")
	}

	// Issues do not lock.
	if tc.locked(t, tc.hdfs) {
		t.Error("Expected an issue not to lock its owner")
	}

	if err := tc.engine.Delete(ctx, issue); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err = tc.engine.OwnIssue(ctx, tc.hdfs.Ref(), models.CauseRequires)
	if err != nil {
		t.Fatalf("OwnIssue failed: %v", err)
	}
	if got != nil {
		t.Error("Expected deleted issue to be gone")
	}
}

func TestEngine_Relink(t *testing.T) {
	tc := setupCluster(t)
	ctx := context.Background()

	lock, err := tc.engine.Lock(ctx, tc.namenode.Ref(), models.CauseJob, "deploy")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	// Move namenode to host-2 and relink.
	tc.Map(tc.cluster, storetest.HC(tc.host2, tc.namenode), storetest.HC(tc.host2, tc.rm))
	if err := tc.engine.Relink(ctx, lock); err != nil {
		t.Fatalf("Relink failed: %v", err)
	}

	if tc.locked(t, tc.host1) {
		t.Error("Expected host-1 to be released")
	}
	if !tc.locked(t, tc.host2) {
		t.Error("Expected host-2 to be locked")
	}
}

func TestEngine_TxUsesTransaction(t *testing.T) {
	tc := setupCluster(t)
	ctx := context.Background()

	err := tc.Store.InTx(ctx, func(tx *store.Store) error {
		_, err := tc.engine.Tx(tx).Lock(ctx, tc.cluster.Ref(), models.CauseJob, "rolled back")
		if err != nil {
			return err
		}
		return errRollback
	})
	if !errors.Is(err, errRollback) {
		t.Fatalf("Expected rollback error, got %v", err)
	}
	if tc.locked(t, tc.cluster) {
		t.Error("Expected lock to be rolled back")
	}
}
