// Package hierarchy builds the topology graph around a cluster or provider and
// computes which entities a change to one of them affects.
//
// The graph is a layered DAG, edges pointing from parent to child:
//
//	cluster -> service -> component -> host -> provider
//
// Component to host edges come from the cluster's host-component map, so a
// host only appears under the components deployed on it.
package hierarchy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/yaroslav/stackform/internal/metrics"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
)

// Source is the read side of the entity store used to build a graph.
type Source interface {
	GetEntity(ctx context.Context, ref models.Ref) (*models.Entity, error)
	ListEntities(ctx context.Context, f store.EntityFilter) ([]*models.Entity, error)
	ListHostComponents(ctx context.Context, clusterID string) ([]*models.HostComponent, error)
}

// Node is one entity of a graph. Adjacency is kept as references into the
// owning Tree.
type Node struct {
	Entity   *models.Entity
	parents  []models.Ref
	children []models.Ref
}

// Ref returns the entity reference of the node.
func (n *Node) Ref() models.Ref {
	return n.Entity.Ref()
}

// Tree is a graph of every entity reachable from a cluster or provider.
type Tree struct {
	Root  *Node
	nodes map[models.Ref]*Node
}

// Build loads the graph rooted at a cluster or provider.
//
// A cluster graph holds the cluster, its services and components, the hosts
// the components are deployed on and the providers of those hosts. A
// provider graph holds the provider, all its hosts, and the cluster graph of
// every cluster those hosts belong to.
//
// Returns *models.HierarchyError wrapping models.ErrNotARoot for other kinds.
func Build(ctx context.Context, src Source, root models.Ref) (*Tree, error) {
	if root.Kind != models.KindCluster && root.Kind != models.KindProvider {
		return nil, &models.HierarchyError{Err: models.ErrNotARoot, Ref: root}
	}

	start := time.Now()
	rootEntity, err := src.GetEntity(ctx, root)
	if err != nil {
		return nil, err
	}

	t := &Tree{nodes: make(map[models.Ref]*Node)}
	t.Root = t.add(rootEntity)

	if root.Kind == models.KindCluster {
		err = t.loadCluster(ctx, src, rootEntity)
	} else {
		err = t.loadProvider(ctx, src, rootEntity)
	}
	if err != nil {
		return nil, err
	}

	metrics.GraphBuildDuration.WithLabelValues(string(root.Kind)).Observe(time.Since(start).Seconds())
	metrics.GraphNodes.WithLabelValues(string(root.Kind)).Set(float64(len(t.nodes)))
	return t, nil
}

// loadCluster adds the down-closure of a cluster with a fixed number of bulk reads.
func (t *Tree) loadCluster(ctx context.Context, src Source, cluster *models.Entity) error {
	clusterNode := t.add(cluster)

	services, err := src.ListEntities(ctx, store.EntityFilter{Kind: models.KindService, ClusterID: cluster.ID})
	if err != nil {
		return fmt.Errorf("failed to load services: %w", err)
	}
	for _, s := range services {
		t.link(clusterNode, t.add(s))
	}

	components, err := src.ListEntities(ctx, store.EntityFilter{Kind: models.KindComponent, ClusterID: cluster.ID})
	if err != nil {
		return fmt.Errorf("failed to load components: %w", err)
	}
	for _, c := range components {
		parent, ok := t.nodes[models.Ref{Kind: models.KindService, ID: c.ServiceID}]
		if !ok {
			return fmt.Errorf("component %s has no service in cluster %s", c.ID, cluster.ID)
		}
		t.link(parent, t.add(c))
	}

	hcs, err := src.ListHostComponents(ctx, cluster.ID)
	if err != nil {
		return fmt.Errorf("failed to load host components: %w", err)
	}
	hostIDs := make([]string, 0, len(hcs))
	seen := make(map[string]bool)
	for _, hc := range hcs {
		if !seen[hc.HostID] {
			seen[hc.HostID] = true
			hostIDs = append(hostIDs, hc.HostID)
		}
	}

	hosts, err := src.ListEntities(ctx, store.EntityFilter{Kind: models.KindHost, IDs: hostIDs})
	if err != nil {
		return fmt.Errorf("failed to load hosts: %w", err)
	}
	for _, h := range hosts {
		t.add(h)
	}
	for _, hc := range hcs {
		comp, ok := t.nodes[models.Ref{Kind: models.KindComponent, ID: hc.ComponentID}]
		host, okHost := t.nodes[models.Ref{Kind: models.KindHost, ID: hc.HostID}]
		if !ok || !okHost {
			return fmt.Errorf("host component %s references entities outside cluster %s", hc.ID, cluster.ID)
		}
		t.link(comp, host)
	}

	return t.loadProviders(ctx, src, hosts)
}

// loadProvider adds the hosts of a provider and the graphs of their clusters.
func (t *Tree) loadProvider(ctx context.Context, src Source, provider *models.Entity) error {
	hosts, err := src.ListEntities(ctx, store.EntityFilter{Kind: models.KindHost, ProviderID: provider.ID})
	if err != nil {
		return fmt.Errorf("failed to load hosts: %w", err)
	}

	providerNode := t.add(provider)
	clusters := make(map[string]bool)
	for _, h := range hosts {
		t.link(t.add(h), providerNode)
		if h.ClusterID != "" {
			clusters[h.ClusterID] = true
		}
	}

	ids := make([]string, 0, len(clusters))
	for id := range clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cluster, err := src.GetEntity(ctx, models.Ref{Kind: models.KindCluster, ID: id})
		if err != nil {
			return err
		}
		if err := t.loadCluster(ctx, src, cluster); err != nil {
			return err
		}
	}
	return nil
}

// loadProviders adds the providers of hosts and links each host to its provider.
func (t *Tree) loadProviders(ctx context.Context, src Source, hosts []*models.Entity) error {
	if len(hosts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(hosts))
	seen := make(map[string]bool)
	for _, h := range hosts {
		if !seen[h.ProviderID] {
			seen[h.ProviderID] = true
			ids = append(ids, h.ProviderID)
		}
	}

	providers, err := src.ListEntities(ctx, store.EntityFilter{Kind: models.KindProvider, IDs: ids})
	if err != nil {
		return fmt.Errorf("failed to load providers: %w", err)
	}
	for _, p := range providers {
		t.add(p)
	}
	for _, h := range hosts {
		provider, ok := t.nodes[models.Ref{Kind: models.KindProvider, ID: h.ProviderID}]
		if !ok {
			return fmt.Errorf("host %s has no provider", h.ID)
		}
		t.link(t.nodes[h.Ref()], provider)
	}
	return nil
}

// add returns the node of an entity, creating it on first sight.
func (t *Tree) add(e *models.Entity) *Node {
	if n, ok := t.nodes[e.Ref()]; ok {
		return n
	}
	n := &Node{Entity: e}
	t.nodes[e.Ref()] = n
	return n
}

// link adds a parent -> child edge once.
func (t *Tree) link(parent, child *Node) {
	for _, r := range parent.children {
		if r == child.Ref() {
			return
		}
	}
	parent.children = append(parent.children, child.Ref())
	child.parents = append(child.parents, parent.Ref())
}

// Node returns the node of an entity.
//
// Returns *models.HierarchyError wrapping models.ErrNotInHierarchy when the
// entity is not part of the graph.
func (t *Tree) Node(ref models.Ref) (*Node, error) {
	n, ok := t.nodes[ref]
	if !ok {
		return nil, &models.HierarchyError{Err: models.ErrNotInHierarchy, Ref: ref}
	}
	return n, nil
}

// Nodes returns every node of the graph in display order.
func (t *Tree) Nodes() []*Node {
	all := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		all = append(all, n)
	}
	sortNodes(all)
	return all
}

// Len returns the number of nodes in the graph.
func (t *Tree) Len() int {
	return len(t.nodes)
}

var kindOrder = map[models.Kind]int{
	models.KindCluster:   0,
	models.KindService:   1,
	models.KindComponent: 2,
	models.KindHost:      3,
	models.KindProvider:  4,
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i].Entity, nodes[j].Entity
		if kindOrder[a.Kind] != kindOrder[b.Kind] {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}
