package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/api/handlers"
	"github.com/yaroslav/stackform/internal/ratelimit"
	"github.com/yaroslav/stackform/internal/store/storetest"
	"github.com/yaroslav/stackform/models"
	"github.com/yaroslav/stackform/pkg/bundle"
)

const appV1 = `
- type: cluster
  name: app
  version: "1.0"
  config:
    replicas: "3"
- type: service
  name: cache
  version: "1.0"
  components:
    redis: {}
- type: service
  name: web
  version: "1.0"
  requires:
    - service: cache
  components:
    nginx: {}
`

const appV2 = `
- type: cluster
  name: app
  version: "2.0"
  config:
    replicas: "3"
  upgrade:
    - name: to 2.0
      versions: {min: "1.0", max_strict: "2.0"}
- type: service
  name: cache
  version: "2.0"
  components:
    redis: {}
- type: service
  name: web
  version: "2.0"
  requires:
    - service: cache
  components:
    nginx: {}
`

const appV3 = `
- type: cluster
  name: app
  version: "3.0"
  upgrade:
    - name: strict from 1.0
      versions: {min_strict: "1.0", max_strict: "3.0"}
    - name: scripted
      versions: {min: "1.0", max_strict: "3.0"}
      states:
        on_success: upgraded
      action:
        name: upgrade
- type: service
  name: cache
  version: "3.0"
  components:
    redis: {}
`

const sshV1 = `
- type: provider
  name: ssh
  version: "1.0"
- type: host
  name: ssh-host
  version: "1.0"
`

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router, stop := SetupRouter(&RouterConfig{
		Store:      storetest.New(t),
		Logger:     zap.NewNop(),
		InstanceID: "test-instance",
		RateLimit:  ratelimit.DefaultConfig(),
	})
	t.Cleanup(stop)
	return &testServer{t: t, router: router}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) expect(w *httptest.ResponseRecorder, status int, out any) {
	s.t.Helper()
	if w.Code != status {
		s.t.Fatalf("Expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	if out == nil {
		return
	}
	resp := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		s.t.Fatalf("Failed to decode response: %v", err)
	}
}

func (s *testServer) errorCode(w *httptest.ResponseRecorder) string {
	s.t.Helper()
	var resp handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		s.t.Fatalf("Failed to decode error response: %v", err)
	}
	return resp.Error
}

func (s *testServer) upload(definition string) *httptest.ResponseRecorder {
	s.t.Helper()
	data, err := bundle.Pack([]byte(definition))
	if err != nil {
		s.t.Fatalf("Pack failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bundles", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/gzip")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) load(definition string) *models.Bundle {
	s.t.Helper()
	var b models.Bundle
	s.expect(s.upload(definition), http.StatusCreated, &b)
	return &b
}

func (s *testServer) prototype(bundleID string, typ models.PrototypeType, name string) *models.Prototype {
	s.t.Helper()
	var protos []*models.Prototype
	s.expect(s.do(http.MethodGet, "/api/v1/bundles/"+bundleID+"/prototypes?type="+string(typ), nil), http.StatusOK, &protos)
	for _, p := range protos {
		if p.Name == name {
			return p
		}
	}
	s.t.Fatalf("No %s prototype %q", typ, name)
	return nil
}

func (s *testServer) cluster(bundleID, name string) *models.Entity {
	s.t.Helper()
	var cluster models.Entity
	s.expect(s.do(http.MethodPost, "/api/v1/clusters", gin.H{"bundle_id": bundleID, "name": name}), http.StatusCreated, &cluster)
	return &cluster
}

func (s *testServer) upgradeID(path, name string) string {
	s.t.Helper()
	var available []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	s.expect(s.do(http.MethodGet, path+"/upgrades", nil), http.StatusOK, &available)
	for _, a := range available {
		if a.Name == name {
			return a.ID
		}
	}
	s.t.Fatalf("No upgrade %q offered at %s", name, path)
	return ""
}

func (s *testServer) bundleUpgradeID(bundleID, name string) string {
	s.t.Helper()
	var upgrades []*models.Upgrade
	s.expect(s.do(http.MethodGet, "/api/v1/bundles/"+bundleID+"/upgrades", nil), http.StatusOK, &upgrades)
	for _, up := range upgrades {
		if up.Name == name {
			return up.ID
		}
	}
	s.t.Fatalf("Bundle %s declares no upgrade %q", bundleID, name)
	return ""
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	var live handlers.Health
	s.expect(s.do(http.MethodGet, "/health/live", nil), http.StatusOK, &live)
	if live.InstanceID != "test-instance" {
		t.Errorf("Expected instance id, got %q", live.InstanceID)
	}

	var ready handlers.Health
	s.expect(s.do(http.MethodGet, "/health/ready", nil), http.StatusOK, &ready)
	if ready.Status != "ready" || ready.Database != "ok" {
		t.Errorf("Expected ready with database ok, got %+v", ready)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
}

func TestBundleEndpoints(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bundles", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest || s.errorCode(w) != "invalid_content_type" {
		t.Errorf("Expected invalid_content_type, got %d %s", w.Code, w.Body.String())
	}

	w = s.upload("- type: cluster\n  name: broken\n")
	if w.Code != http.StatusBadRequest || s.errorCode(w) != "invalid_bundle" {
		t.Errorf("Expected invalid_bundle, got %d %s", w.Code, w.Body.String())
	}

	b := s.load(appV1)
	if b.Name != "app" || b.Version != "1.0" {
		t.Errorf("Unexpected bundle %+v", b)
	}
	if w := s.upload(appV1); w.Code != http.StatusConflict {
		t.Errorf("Expected duplicate upload to conflict, got %d", w.Code)
	}

	var listed []*models.Bundle
	s.expect(s.do(http.MethodGet, "/api/v1/bundles?name=app", nil), http.StatusOK, &listed)
	if len(listed) != 1 || listed[0].ID != b.ID {
		t.Errorf("Expected one app bundle, got %+v", listed)
	}

	if w := s.do(http.MethodGet, "/api/v1/bundles/"+b.ID+"/prototypes?type=widget", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected unknown prototype type to be rejected, got %d", w.Code)
	}

	archive := s.do(http.MethodGet, "/api/v1/bundles/"+b.ID+"/archive", nil)
	if archive.Code != http.StatusOK || archive.Header().Get("X-Bundle-Version") != "1.0" {
		t.Errorf("Expected archive download, got %d %v", archive.Code, archive.Header())
	}
	if result := bundle.Validate(archive.Body.Bytes()); !result.Valid {
		t.Errorf("Expected downloaded archive to validate, got %v", result.Error)
	}

	s.cluster(b.ID, "prod")
	if w := s.do(http.MethodDelete, "/api/v1/bundles/"+b.ID, nil); w.Code != http.StatusConflict {
		t.Errorf("Expected bundle in use to conflict, got %d", w.Code)
	}
}

func TestClusterEndpoints(t *testing.T) {
	s := newTestServer(t)
	b := s.load(appV1)
	cluster := s.cluster(b.ID, "prod")
	clusterPath := "/api/v1/clusters/" + cluster.ID

	web := s.prototype(b.ID, models.TypeService, "web")
	w := s.do(http.MethodPost, clusterPath+"/services", gin.H{"prototype_id": web.ID})
	if w.Code != http.StatusConflict || s.errorCode(w) != "missing_requirement" {
		t.Fatalf("Expected missing_requirement, got %d %s", w.Code, w.Body.String())
	}

	cache := s.prototype(b.ID, models.TypeService, "cache")
	var cacheSvc models.Entity
	s.expect(s.do(http.MethodPost, clusterPath+"/services", gin.H{"prototype_id": cache.ID}), http.StatusCreated, &cacheSvc)
	s.expect(s.do(http.MethodPost, clusterPath+"/services", gin.H{"prototype_id": web.ID}), http.StatusCreated, nil)

	var components []*models.Entity
	s.expect(s.do(http.MethodGet, "/api/v1/services/"+cacheSvc.ID+"/components", nil), http.StatusOK, &components)
	if len(components) != 1 || components[0].Name != "redis" {
		t.Fatalf("Expected redis component, got %+v", components)
	}

	if w := s.do(http.MethodDelete, "/api/v1/services/"+cacheSvc.ID, nil); w.Code != http.StatusConflict {
		t.Errorf("Expected required service delete to conflict, got %d", w.Code)
	}

	if w := s.do(http.MethodPost, clusterPath+"/services", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected missing prototype_id to be rejected, got %d", w.Code)
	}

	// Map redis on a host and check the affected set from the host side.
	ssh := s.load(sshV1)
	var provider, host models.Entity
	s.expect(s.do(http.MethodPost, "/api/v1/providers", gin.H{"bundle_id": ssh.ID, "name": "dc1"}), http.StatusCreated, &provider)
	hostProto := s.prototype(ssh.ID, models.TypeHost, "ssh-host")
	s.expect(s.do(http.MethodPost, "/api/v1/providers/"+provider.ID+"/hosts",
		gin.H{"prototype_id": hostProto.ID, "name": "host-1"}), http.StatusCreated, &host)
	s.expect(s.do(http.MethodPost, clusterPath+"/hosts", gin.H{"host_id": host.ID}), http.StatusOK, nil)

	s.expect(s.do(http.MethodPut, clusterPath+"/hostcomponent", gin.H{
		"hc": []gin.H{{"host_id": host.ID, "component_id": components[0].ID}},
	}), http.StatusOK, nil)

	var affected []models.Ref
	s.expect(s.do(http.MethodGet, "/api/v1/objects/host/"+host.ID+"/affected", nil), http.StatusOK, &affected)
	want := map[string]bool{cluster.ID: true, cacheSvc.ID: true, components[0].ID: true, host.ID: true, provider.ID: true}
	if len(affected) != len(want) {
		t.Fatalf("Expected %d affected objects, got %+v", len(want), affected)
	}
	for _, ref := range affected {
		if !want[ref.ID] {
			t.Errorf("Unexpected affected object %s", ref)
		}
	}

	if w := s.do(http.MethodDelete, clusterPath+"/hosts/"+host.ID, nil); w.Code != http.StatusConflict {
		t.Errorf("Expected removing a mapped host to conflict, got %d", w.Code)
	}
	if w := s.do(http.MethodDelete, "/api/v1/clusters/other/hosts/"+host.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected host of another cluster to be not found, got %d", w.Code)
	}
}

func TestObjectEndpoints(t *testing.T) {
	s := newTestServer(t)
	b := s.load(appV1)
	cluster := s.cluster(b.ID, "prod")
	path := "/api/v1/objects/cluster/" + cluster.ID

	var cl models.ConfigLog
	s.expect(s.do(http.MethodGet, path+"/config", nil), http.StatusOK, &cl)
	if cl.Config["replicas"] != "3" {
		t.Errorf("Expected default replicas, got %v", cl.Config)
	}

	s.expect(s.do(http.MethodPost, path+"/config", gin.H{"config": gin.H{"replicas": "5"}}), http.StatusCreated, &cl)
	if cl.Config["replicas"] != "5" {
		t.Errorf("Expected updated replicas, got %v", cl.Config)
	}

	var entity models.Entity
	s.expect(s.do(http.MethodPut, path+"/state", gin.H{"state": "installed"}), http.StatusOK, &entity)
	if entity.State != "installed" {
		t.Errorf("Expected state installed, got %q", entity.State)
	}

	var concerns handlers.ConcernsResponse
	s.expect(s.do(http.MethodGet, path+"/concerns", nil), http.StatusOK, &concerns)
	if concerns.Locked {
		t.Error("Expected a fresh cluster to be unlocked")
	}

	w := s.do(http.MethodGet, "/api/v1/objects/adcm/"+cluster.ID, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected unknown kind to be rejected, got %d", w.Code)
	}
	w = s.do(http.MethodGet, "/api/v1/objects/cluster/missing", nil)
	if w.Code != http.StatusNotFound || s.errorCode(w) != "not_found" {
		t.Errorf("Expected not_found, got %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected request ID header on error responses")
	}
	if w := s.do(http.MethodGet, path+"/affected?all=maybe", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected invalid all flag to be rejected, got %d", w.Code)
	}
}

func TestUpgradeEndpoints(t *testing.T) {
	s := newTestServer(t)
	v1 := s.load(appV1)
	v2 := s.load(appV2)
	cluster := s.cluster(v1.ID, "prod")
	path := "/api/v1/objects/cluster/" + cluster.ID
	upgradeID := s.upgradeID(path, "to 2.0")

	var check handlers.CheckResponse
	s.expect(s.do(http.MethodPost, path+"/upgrades/"+upgradeID+"/check", nil), http.StatusOK, &check)
	if !check.OK {
		t.Fatalf("Expected check to pass, got %+v", check)
	}

	var res struct {
		Phase     string `json:"phase"`
		Committed bool   `json:"committed"`
	}
	s.expect(s.do(http.MethodPost, path+"/upgrades/"+upgradeID+"/do", nil), http.StatusOK, &res)
	if res.Phase != "committed" || !res.Committed {
		t.Fatalf("Expected committed upgrade, got %+v", res)
	}

	var upgraded models.Entity
	s.expect(s.do(http.MethodGet, path, nil), http.StatusOK, &upgraded)
	if upgraded.PrototypeID != s.prototype(v2.ID, models.TypeCluster, "app").ID {
		t.Errorf("Expected cluster on the 2.0 prototype, got %s", upgraded.PrototypeID)
	}

	s.expect(s.do(http.MethodPost, path+"/revert", nil), http.StatusOK, &res)
	if res.Phase != "reverted" {
		t.Errorf("Expected reverted phase, got %+v", res)
	}
	var reverted models.Entity
	s.expect(s.do(http.MethodGet, path, nil), http.StatusOK, &reverted)
	if reverted.PrototypeID != cluster.PrototypeID {
		t.Errorf("Expected cluster back on the 1.0 prototype, got %s", reverted.PrototypeID)
	}

	var svc models.Entity
	cache := s.prototype(v1.ID, models.TypeService, "cache")
	s.expect(s.do(http.MethodPost, "/api/v1/clusters/"+cluster.ID+"/services", gin.H{"prototype_id": cache.ID}), http.StatusCreated, &svc)
	w := s.do(http.MethodPost, "/api/v1/objects/service/"+svc.ID+"/upgrades/"+upgradeID+"/check", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected service upgrade to be rejected as a bad target, got %d", w.Code)
	}
}

func TestUpgradeEndpoints_Rejected(t *testing.T) {
	s := newTestServer(t)
	v1 := s.load(appV1)
	v3 := s.load(appV3)
	cluster := s.cluster(v1.ID, "prod")
	path := "/api/v1/objects/cluster/" + cluster.ID
	upgradeID := s.bundleUpgradeID(v3.ID, "strict from 1.0")

	offered := s.upgradeID(path, "scripted")
	if offered == upgradeID {
		t.Fatal("Expected distinct upgrades")
	}

	var check handlers.CheckResponse
	s.expect(s.do(http.MethodPost, path+"/upgrades/"+upgradeID+"/check", nil), http.StatusOK, &check)
	if check.OK || check.Reason == "" {
		t.Fatalf("Expected strict minimum to reject with a reason, got %+v", check)
	}

	w := s.do(http.MethodPost, path+"/upgrades/"+upgradeID+"/do", nil)
	if w.Code != http.StatusConflict || s.errorCode(w) != "upgrade_rejected" {
		t.Errorf("Expected upgrade_rejected, got %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodPost, path+"/revert", nil)
	if w.Code != http.StatusConflict || s.errorCode(w) != "upgrade_rejected" {
		t.Errorf("Expected revert without snapshot to be rejected, got %d %s", w.Code, w.Body.String())
	}
}

func TestUpgradeEndpoints_ActionThroughTask(t *testing.T) {
	s := newTestServer(t)
	v1 := s.load(appV1)
	s.load(appV3)
	cluster := s.cluster(v1.ID, "prod")
	path := "/api/v1/objects/cluster/" + cluster.ID
	upgradeID := s.upgradeID(path, "scripted")

	var res struct {
		Phase  string `json:"phase"`
		TaskID string `json:"task_id"`
	}
	s.expect(s.do(http.MethodPost, path+"/upgrades/"+upgradeID+"/do", gin.H{"config": gin.H{"force": true}}), http.StatusAccepted, &res)
	if res.Phase != "awaiting_job" || res.TaskID == "" {
		t.Fatalf("Expected task handed to job runner, got %+v", res)
	}

	var concerns handlers.ConcernsResponse
	s.expect(s.do(http.MethodGet, path+"/concerns", nil), http.StatusOK, &concerns)
	if !concerns.Locked {
		t.Error("Expected the running task to lock the cluster")
	}

	var tasks []*models.Task
	s.expect(s.do(http.MethodGet, path+"/tasks", nil), http.StatusOK, &tasks)
	if len(tasks) != 1 || tasks[0].ID != res.TaskID || tasks[0].Config["force"] != true {
		t.Fatalf("Expected the upgrade task with its config, got %+v", tasks)
	}

	taskPath := "/api/v1/tasks/" + res.TaskID
	s.expect(s.do(http.MethodPost, taskPath+"/apply-switch", nil), http.StatusOK, nil)

	if w := s.do(http.MethodPost, taskPath+"/finish", gin.H{"status": "done"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected unknown status to be rejected, got %d", w.Code)
	}
	var task models.Task
	s.expect(s.do(http.MethodPost, taskPath+"/finish", gin.H{"status": "success"}), http.StatusOK, &task)
	if task.Status != models.TaskSuccess {
		t.Errorf("Expected task success, got %s", task.Status)
	}

	var upgraded models.Entity
	s.expect(s.do(http.MethodGet, path, nil), http.StatusOK, &upgraded)
	if upgraded.State != "upgraded" {
		t.Errorf("Expected on-success state, got %q", upgraded.State)
	}

	w := s.do(http.MethodPost, taskPath+"/finish", gin.H{"status": "failed"})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected finishing twice to conflict, got %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/api/v1/tasks/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected unknown task to be not found, got %d", w.Code)
	}
}

func TestMutationBudget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router, stop := SetupRouter(&RouterConfig{
		Store:     storetest.New(t),
		Logger:    zap.NewNop(),
		RateLimit: ratelimit.Config{RequestsPerMin: 1, HealthChecksPerMin: 10},
	})
	defer stop()

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/clusters", bytes.NewReader([]byte("{}")))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}
	if code := post(); code != http.StatusBadRequest {
		t.Fatalf("Expected first mutation to reach the handler, got %d", code)
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Errorf("Expected second mutation to be throttled, got %d", code)
	}
}
