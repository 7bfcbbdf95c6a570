package graph

import "sort"

// ConnectedComponents partitions the nodes into maximal connected subsets.
// Components are ordered by their first node in insertion order, and the
// members of each component keep insertion order.
func (g *Graph) ConnectedComponents() [][]string {
	seen := make(map[string]bool, len(g.order))
	var comps [][]string
	for _, start := range g.order {
		if seen[start] {
			continue
		}
		seen[start] = true
		queue := []string{start}
		var comp []string
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			comp = append(comp, cur)
			for peer := range g.adj[cur] {
				if !seen[peer] {
					seen[peer] = true
					queue = append(queue, peer)
				}
			}
		}
		sort.Slice(comp, func(i, j int) bool {
			return g.index[comp[i]] < g.index[comp[j]]
		})
		comps = append(comps, comp)
	}
	return comps
}

// IsConnected reports whether g has exactly one component. The empty graph
// is not connected.
func (g *Graph) IsConnected() bool {
	if len(g.order) == 0 {
		return false
	}
	return len(g.ConnectedComponents()) == 1
}

// WeightFunc assigns the latency of an edge added by RepairConnectivity.
type WeightFunc func(u, v string) float64

// RepairConnectivity joins every component to the largest one with a single
// edge between their first members, so it adds exactly (#components - 1)
// edges and always leaves g connected. It returns the added edges.
func (g *Graph) RepairConnectivity(weight WeightFunc) []Edge {
	comps := g.ConnectedComponents()
	if len(comps) <= 1 {
		return nil
	}
	sort.SliceStable(comps, func(i, j int) bool {
		return len(comps[i]) > len(comps[j])
	})

	anchor := comps[0][0]
	added := make([]Edge, 0, len(comps)-1)
	for _, comp := range comps[1:] {
		rep := comp[0]
		w := 0.0
		if weight != nil {
			w = weight(anchor, rep)
		}
		// Endpoints are in different components, so this never fails.
		_ = g.AddEdge(anchor, rep, w)
		added = append(added, Edge{Source: anchor, Target: rep, Weight: w})
	}
	return added
}
