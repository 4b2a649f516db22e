package hierarchy

import (
	"context"

	"github.com/yaroslav/stackform/models"
)

// DirectlyAffected returns the node with all its ancestors and all its descendants.
//
// For a host this is the cluster, every service and component deployed on
// it, the host and its provider. For a component it is the cluster, its
// service, the component and the hosts (with providers) it runs on.
func (t *Tree) DirectlyAffected(n *Node) []*Node {
	set := make(map[models.Ref]*Node)
	set[n.Ref()] = n
	t.walk(n, set, func(x *Node) []models.Ref { return x.parents })
	t.walk(n, set, func(x *Node) []models.Ref { return x.children })
	return collect(set)
}

// AllAffected extends DirectlyAffected with the ancestors of every host in it.
//
// An entity affects the whole application layer of the cluster sharing its
// hosts, while hosts and providers stay limited to the node's own
// deployment footprint. For a cluster node the result is the whole graph.
func (t *Tree) AllAffected(n *Node) []*Node {
	set := make(map[models.Ref]*Node)
	for _, d := range t.DirectlyAffected(n) {
		set[d.Ref()] = d
	}
	for _, d := range collect(set) {
		if d.Entity.Kind == models.KindHost {
			t.walk(d, set, func(x *Node) []models.Ref { return x.parents })
		}
	}
	return collect(set)
}

// walk adds everything reachable from n along next to set.
func (t *Tree) walk(n *Node, set map[models.Ref]*Node, next func(*Node) []models.Ref) {
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, ref := range next(cur) {
			if _, ok := set[ref]; ok {
				continue
			}
			node := t.nodes[ref]
			set[ref] = node
			stack = append(stack, node)
		}
	}
}

func collect(set map[models.Ref]*Node) []*Node {
	nodes := make([]*Node, 0, len(set))
	for _, n := range set {
		nodes = append(nodes, n)
	}
	sortNodes(nodes)
	return nodes
}

// RootOf returns the graph root used to evaluate an entity: the cluster of a
// service or component, the provider of a host, or the entity itself.
func RootOf(e *models.Entity) models.Ref {
	switch e.Kind {
	case models.KindService, models.KindComponent:
		return models.Ref{Kind: models.KindCluster, ID: e.ClusterID}
	case models.KindHost:
		return models.Ref{Kind: models.KindProvider, ID: e.ProviderID}
	}
	return e.Ref()
}

// Affected builds the graph around an entity and returns its all-affected set.
func Affected(ctx context.Context, src Source, ref models.Ref) ([]*Node, error) {
	e, err := src.GetEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	tree, err := Build(ctx, src, RootOf(e))
	if err != nil {
		return nil, err
	}
	n, err := tree.Node(ref)
	if err != nil {
		return nil, err
	}
	return tree.AllAffected(n), nil
}

// IDs returns the entity ids of nodes.
func IDs(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.Entity.ID
	}
	return ids
}

// Refs returns the entity references of nodes.
func Refs(nodes []*Node) []models.Ref {
	refs := make([]models.Ref, len(nodes))
	for i, n := range nodes {
		refs[i] = n.Ref()
	}
	return refs
}
