package overlay

import (
	"errors"
	"fmt"

	"gossipsim/internal/cluster"
	"gossipsim/internal/graph"
)

// ErrOverlayDisconnected is returned when every medoid pair has been
// bridged and the overlay is still not connected.
var ErrOverlayDisconnected = errors.New("overlay: disconnected after bridging")

// Result is a connected overlay and how it was assembled.
type Result struct {
	Graph *graph.Graph
	// IntraEdges counts edges copied from inside clusters.
	IntraEdges int
	// Bridges lists the edges added along medoid-to-medoid paths, in
	// insertion order.
	Bridges []graph.Edge
}

// Build assembles the overlay for partition p of g. The returned graph is
// always connected; otherwise Build fails with ErrOverlayDisconnected.
func Build(g *graph.Graph, p *cluster.Partition) (*Result, error) {
	og := graph.New()
	for _, id := range g.Nodes() {
		og.AddNode(id)
	}

	res := &Result{Graph: og}
	for _, c := range p.Clusters {
		if len(c.Members) < 2 {
			continue
		}
		for _, e := range g.Induced(c.Members).Edges() {
			if err := og.AddEdge(e.Source, e.Target, e.Weight); err != nil {
				return nil, err
			}
			res.IntraEdges++
		}
	}
	if og.IsConnected() {
		return res, nil
	}

	medoids := p.Medoids()
	for i := 0; i < len(medoids); i++ {
		for j := i + 1; j < len(medoids); j++ {
			path, err := g.ShortestPath(medoids[i], medoids[j])
			if err != nil {
				return nil, fmt.Errorf("bridge %s-%s: %w", medoids[i], medoids[j], err)
			}
			for s := 0; s+1 < len(path); s++ {
				u, v := path[s], path[s+1]
				if og.HasEdge(u, v) {
					continue
				}
				w, _ := g.Weight(u, v)
				if err := og.AddEdge(u, v, w); err != nil {
					return nil, err
				}
				res.Bridges = append(res.Bridges, graph.Edge{Source: u, Target: v, Weight: w})
				if og.IsConnected() {
					return res, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %d components remain", ErrOverlayDisconnected, len(og.ConnectedComponents()))
}

// VerifyProvenance checks that every edge of o exists in original with the
// same weight and that both graphs share one node set.
func VerifyProvenance(original, o *graph.Graph) error {
	if original.NumNodes() != o.NumNodes() {
		return fmt.Errorf("overlay has %d nodes, original has %d", o.NumNodes(), original.NumNodes())
	}
	for _, id := range o.Nodes() {
		if !original.HasNode(id) {
			return fmt.Errorf("overlay node %s not in original: %w", id, graph.ErrUnknownNode)
		}
	}
	for _, e := range o.Edges() {
		w, ok := original.Weight(e.Source, e.Target)
		if !ok {
			return fmt.Errorf("overlay edge %s-%s not in original", e.Source, e.Target)
		}
		if w != e.Weight {
			return fmt.Errorf("overlay edge %s-%s weight %.2f, original %.2f", e.Source, e.Target, e.Weight, w)
		}
	}
	return nil
}
