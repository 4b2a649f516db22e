package bundle

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yaroslav/stackform/models"
)

const fullCluster = `
- type: cluster
  name: hadoop
  version: "2.0"
  edition: enterprise
  allow_maintenance_mode: true
  import:
    - name: monitoring
      versions: {min: "1.0", max_strict: "3.0"}
      required: true
  config:
    cluster_name: main
  upgrade:
    - name: to 2.0
      versions: {min: "1.0", max_strict: "2.0"}
      from_edition: [community, enterprise]
      states:
        available: any
        on_success: upgraded
      action:
        name: upgrade
        hc_acl:
          - {service: hdfs, component: datanode, action: add}
- type: service
  name: yarn
  version: "3.2"
  requires:
    - service: hdfs
  components:
    resourcemanager:
      requires:
        - component: nodemanager
    nodemanager:
      requires:
        - service: hdfs
          component: datanode
- type: service
  name: hdfs
  version: "3.1"
  export: [hdfs_site]
  components:
    namenode:
      config:
        heap: 1024
    datanode: {}
`

func TestParse_FullCluster(t *testing.T) {
	def, err := Parse([]byte(fullCluster))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !def.IsCluster() {
		t.Error("Expected a cluster bundle")
	}
	if len(def.Services) != 2 || def.Services[0].Name != "hdfs" {
		t.Fatalf("Expected services sorted by name, got %d", len(def.Services))
	}

	rm := def.Service("yarn").Components["resourcemanager"]
	if rm.Requires[0].Service != "yarn" {
		t.Errorf("Expected implicit requires service yarn, got %q", rm.Requires[0].Service)
	}

	up := def.Root.Upgrade[0]
	if len(up.States.Available) != 1 || up.States.Available[0] != "any" {
		t.Errorf("Expected scalar states.available to decode as [any], got %v", up.States.Available)
	}
}

func TestBuild(t *testing.T) {
	def, err := Parse([]byte(fullCluster))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	now := time.Now()
	pkg := def.Build(now)

	if pkg.Bundle.Name != "hadoop" || pkg.Bundle.Version != "2.0" || pkg.Bundle.Edition != "enterprise" {
		t.Errorf("Unexpected bundle %+v", pkg.Bundle)
	}

	// cluster + 2 services + 4 components
	if len(pkg.Prototypes) != 7 {
		t.Fatalf("Expected 7 prototypes, got %d", len(pkg.Prototypes))
	}

	root := pkg.Root()
	if root == nil || root.Type != models.TypeCluster || !root.AllowMaintenanceMode {
		t.Fatalf("Unexpected root prototype %+v", root)
	}
	if len(root.Imports) != 1 || root.Imports[0].MaxVersion != "3.0" || !root.Imports[0].MaxStrict || root.Imports[0].MinStrict {
		t.Errorf("Unexpected imports %+v", root.Imports)
	}

	ids := make(map[string]*models.Prototype)
	for _, p := range pkg.Prototypes {
		if p.BundleID != pkg.Bundle.ID {
			t.Errorf("Prototype %s has bundle %s", p.Name, p.BundleID)
		}
		ids[p.ID] = p
	}
	for _, p := range pkg.Prototypes {
		if p.Type != models.TypeComponent {
			continue
		}
		parent := ids[p.ParentID]
		if parent == nil || parent.Type != models.TypeService {
			t.Errorf("Component %s has no service parent", p.Name)
			continue
		}
		if p.Version != parent.Version {
			t.Errorf("Component %s version %s, want %s", p.Name, p.Version, parent.Version)
		}
	}

	if len(pkg.Upgrades) != 1 {
		t.Fatalf("Expected 1 upgrade, got %d", len(pkg.Upgrades))
	}
	up := pkg.Upgrades[0]
	if up.MinVersion != "1.0" || up.MinStrict || up.MaxVersion != "2.0" || !up.MaxStrict {
		t.Errorf("Unexpected upgrade range %+v", up)
	}
	if up.StateOnSuccess != "upgraded" || !up.Allowed("whatever") {
		t.Errorf("Unexpected upgrade states %+v", up)
	}
	if up.Action == nil || len(up.Action.HostComponentMap) != 1 {
		t.Errorf("Unexpected upgrade action %+v", up.Action)
	}
}

func TestBuild_DefaultEdition(t *testing.T) {
	def, err := Parse([]byte(minimalCluster))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if ed := def.Build(time.Now()).Bundle.Edition; ed != DefaultEdition {
		t.Errorf("Expected edition %s, got %s", DefaultEdition, ed)
	}
}

func TestParse_ProviderBundle(t *testing.T) {
	def, err := Parse([]byte(`
- type: provider
  name: ssh
  version: "1.0"
- type: host
  name: ssh-host
  version: "1.0"
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if def.IsCluster() || len(def.Hosts) != 1 {
		t.Errorf("Expected provider bundle with one host")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no root",
			yaml: "- {type: service, name: hdfs, version: '1'}",
			want: "no cluster or provider",
		},
		{
			name: "two roots",
			yaml: "- {type: cluster, name: a, version: '1'}\n- {type: provider, name: b, version: '1'}",
			want: "more than one",
		},
		{
			name: "unknown type",
			yaml: "- {type: widget, name: a, version: '1'}",
			want: "oneof",
		},
		{
			name: "missing version",
			yaml: "- {type: cluster, name: a}",
			want: "required",
		},
		{
			name: "bad version",
			yaml: "- {type: cluster, name: a, version: '1 0'}",
			want: "version",
		},
		{
			name: "host in cluster bundle",
			yaml: "- {type: cluster, name: a, version: '1'}\n- {type: host, name: h, version: '1'}",
			want: "cannot define hosts",
		},
		{
			name: "service in provider bundle",
			yaml: "- {type: provider, name: a, version: '1'}\n- {type: service, name: s, version: '1'}",
			want: "cannot define services",
		},
		{
			name: "duplicate service",
			yaml: "- {type: cluster, name: a, version: '1'}\n- {type: service, name: s, version: '1'}\n- {type: service, name: s, version: '2'}",
			want: "defined twice",
		},
		{
			name: "service requires itself",
			yaml: "- {type: cluster, name: a, version: '1'}\n- {type: service, name: s, version: '1', requires: [{service: s}]}",
			want: "requires itself",
		},
		{
			name: "component requires itself",
			yaml: "- {type: cluster, name: a, version: '1'}\n- {type: service, name: s, version: '1', components: {c: {requires: [{component: c}]}}}",
			want: "requires itself",
		},
		{
			name: "unknown required service",
			yaml: "- {type: cluster, name: a, version: '1'}\n- {type: service, name: s, version: '1', requires: [{service: x}]}",
			want: "unknown service",
		},
		{
			name: "unknown required component",
			yaml: "- {type: cluster, name: a, version: '1'}\n- {type: service, name: s, version: '1', requires: [{component: x}]}",
			want: "unknown component",
		},
		{
			name: "empty requirement",
			yaml: "- {type: cluster, name: a, version: '1'}\n- {type: service, name: s, version: '1', requires: [{}]}",
			want: "required_without",
		},
		{
			name: "upgrade without max",
			yaml: "- {type: cluster, name: a, version: '2', upgrade: [{name: up, versions: {min: '1'}}]}",
			want: "max or max_strict",
		},
		{
			name: "upgrade with both min forms",
			yaml: "- {type: cluster, name: a, version: '2', upgrade: [{name: up, versions: {min: '1', min_strict: '1', max: '2'}}]}",
			want: "excluded_with",
		},
		{
			name: "upgrade on service",
			yaml: "- {type: cluster, name: a, version: '2'}\n- {type: service, name: s, version: '1', upgrade: [{name: up, versions: {min: '1', max: '2'}}]}",
			want: "belong to the cluster",
		},
		{
			name: "hc_acl unknown component",
			yaml: "- {type: cluster, name: a, version: '2', upgrade: [{name: up, versions: {min: '1', max: '2'}, action: {name: go, hc_acl: [{service: s, component: x, action: add}]}}]}\n- {type: service, name: s, version: '1'}",
			want: "unknown component",
		},
		{
			name: "hc_acl bad action",
			yaml: "- {type: cluster, name: a, version: '2', upgrade: [{name: up, versions: {min: '1', max: '2'}, action: {name: go, hc_acl: [{service: s, component: c, action: move}]}}]}\n- {type: service, name: s, version: '1', components: {c: {}}}",
			want: "oneof",
		},
		{
			name: "duplicate import",
			yaml: "- {type: cluster, name: a, version: '1', import: [{name: m}, {name: m}]}",
			want: "twice",
		},
		{
			name: "provider with maintenance mode",
			yaml: "- {type: provider, name: p, version: '1', allow_maintenance_mode: true}",
			want: "only allowed on clusters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("Expected ErrInvalidDefinition, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("type: cluster"))
	if !errors.Is(err, ErrInvalidYAML) {
		t.Errorf("Expected ErrInvalidYAML for a mapping root, got %v", err)
	}
}
