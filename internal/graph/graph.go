package graph

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrSelfLoop is returned when an edge would connect a node to itself.
	ErrSelfLoop = errors.New("graph: self-loop")
	// ErrNegativeWeight is returned for edges with a negative latency.
	ErrNegativeWeight = errors.New("graph: negative weight")
	// ErrUnknownNode is returned when a lookup names a node not in the graph.
	ErrUnknownNode = errors.New("graph: unknown node")
	// ErrUnreachable is returned when two nodes are in different components.
	ErrUnreachable = errors.New("graph: unreachable")
)

// Edge is an undirected weighted edge. Source and Target are normalized so
// that Source < Target when returned by the graph.
type Edge struct {
	Source string
	Target string
	Weight float64
}

// Neighbor is one entry of a node's adjacency row.
type Neighbor struct {
	ID     string
	Weight float64
}

// Graph is an undirected graph without parallel edges. Nodes keep their
// insertion order, which makes every traversal deterministic.
type Graph struct {
	order []string
	index map[string]int
	adj   map[string]map[string]float64
	edges int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		index: make(map[string]int),
		adj:   make(map[string]map[string]float64),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	if _, exists := g.index[id]; exists {
		return
	}
	g.index[id] = len(g.order)
	g.order = append(g.order, id)
	g.adj[id] = make(map[string]float64)
}

// AddEdge adds an undirected edge, creating missing endpoints. An existing
// edge between u and v has its weight updated in place.
func (g *Graph) AddEdge(u, v string, weight float64) error {
	if u == v {
		return fmt.Errorf("%w: %s", ErrSelfLoop, u)
	}
	if weight < 0 {
		return fmt.Errorf("%w: %s-%s=%v", ErrNegativeWeight, u, v, weight)
	}
	g.AddNode(u)
	g.AddNode(v)
	if _, exists := g.adj[u][v]; !exists {
		g.edges++
	}
	g.adj[u][v] = weight
	g.adj[v][u] = weight
	return nil
}

// HasNode reports whether id is a node of g.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.index[id]
	return ok
}

// HasEdge reports whether u and v are adjacent.
func (g *Graph) HasEdge(u, v string) bool {
	_, ok := g.Weight(u, v)
	return ok
}

// Weight returns the weight of edge u-v.
func (g *Graph) Weight(u, v string) (float64, bool) {
	row, ok := g.adj[u]
	if !ok {
		return 0, false
	}
	w, ok := row[v]
	return w, ok
}

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return len(g.order) }

// NumEdges returns the edge count.
func (g *Graph) NumEdges() int { return g.edges }

// Nodes returns the node ids in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Neighbors returns the adjacency row of id ordered by node insertion order.
func (g *Graph) Neighbors(id string) []Neighbor {
	row := g.adj[id]
	out := make([]Neighbor, 0, len(row))
	for peer, w := range row {
		out = append(out, Neighbor{ID: peer, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		return g.index[out[i].ID] < g.index[out[j].ID]
	})
	return out
}

// Degree returns the number of neighbors of id.
func (g *Graph) Degree(id string) int { return len(g.adj[id]) }

// AverageDegree returns 2|E|/|V|, or 0 for an empty graph.
func (g *Graph) AverageDegree() float64 {
	if len(g.order) == 0 {
		return 0
	}
	return 2 * float64(g.edges) / float64(len(g.order))
}

// Edges returns every edge once, normalized and sorted by (Source, Target).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, g.edges)
	for u, row := range g.adj {
		for v, w := range row {
			if u < v {
				out = append(out, Edge{Source: u, Target: v, Weight: w})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	c := New()
	for _, id := range g.order {
		c.AddNode(id)
	}
	for _, e := range g.Edges() {
		_ = c.AddEdge(e.Source, e.Target, e.Weight)
	}
	return c
}

// Induced returns the subgraph induced by members: the members (in g's node
// order) and every edge of g whose endpoints are both members. Ids that are
// not nodes of g are ignored.
func (g *Graph) Induced(members []string) *Graph {
	in := make(map[string]bool, len(members))
	for _, m := range members {
		if g.HasNode(m) {
			in[m] = true
		}
	}
	sub := New()
	for _, id := range g.order {
		if in[id] {
			sub.AddNode(id)
		}
	}
	for _, id := range sub.order {
		for peer, w := range g.adj[id] {
			if in[peer] && id < peer {
				_ = sub.AddEdge(id, peer, w)
			}
		}
	}
	return sub
}
