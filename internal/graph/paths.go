package graph

import (
	"container/heap"
	"fmt"
	"math"
)

// DistanceMatrix holds shortest-path costs between all node pairs of the
// graph it was computed from. Rows follow the graph's node order.
type DistanceMatrix struct {
	ids   []string
	index map[string]int
	d     [][]float64
}

// IDs returns the node ids in row order.
func (m *DistanceMatrix) IDs() []string { return append([]string(nil), m.ids...) }

// Len returns the number of rows.
func (m *DistanceMatrix) Len() int { return len(m.ids) }

// Index returns the row of id.
func (m *DistanceMatrix) Index(id string) (int, bool) {
	i, ok := m.index[id]
	return i, ok
}

// At returns the distance between rows i and j.
func (m *DistanceMatrix) At(i, j int) float64 { return m.d[i][j] }

// Distance returns the shortest-path cost between u and v.
func (m *DistanceMatrix) Distance(u, v string) (float64, bool) {
	i, ok := m.index[u]
	if !ok {
		return 0, false
	}
	j, ok := m.index[v]
	if !ok {
		return 0, false
	}
	return m.d[i][j], true
}

// Row returns a copy of the distance vector of row i.
func (m *DistanceMatrix) Row(i int) []float64 {
	return append([]float64(nil), m.d[i]...)
}

// Rows returns a copy of every distance vector, in row order.
func (m *DistanceMatrix) Rows() [][]float64 {
	out := make([][]float64, len(m.d))
	for i := range m.d {
		out[i] = m.Row(i)
	}
	return out
}

// ShortestPathLengths runs Dijkstra from every node. It fails with
// ErrUnreachable instead of returning infinite entries.
func (g *Graph) ShortestPathLengths() (*DistanceMatrix, error) {
	n := len(g.order)
	m := &DistanceMatrix{
		ids:   g.Nodes(),
		index: make(map[string]int, n),
		d:     make([][]float64, n),
	}
	for i, id := range m.ids {
		m.index[id] = i
	}
	for i := range m.ids {
		dist, _ := g.dijkstra(i)
		for j, v := range dist {
			if math.IsInf(v, 1) {
				return nil, fmt.Errorf("%w: %s -> %s", ErrUnreachable, m.ids[i], m.ids[j])
			}
		}
		m.d[i] = dist
	}
	return m, nil
}

// ShortestPath returns the node sequence of a minimum-latency path from u
// to v, both endpoints included.
func (g *Graph) ShortestPath(u, v string) ([]string, error) {
	src, ok := g.index[u]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, u)
	}
	dst, ok := g.index[v]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, v)
	}
	dist, prev := g.dijkstra(src)
	if math.IsInf(dist[dst], 1) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrUnreachable, u, v)
	}
	var rev []int
	for cur := dst; cur != -1; cur = prev[cur] {
		rev = append(rev, cur)
	}
	path := make([]string, len(rev))
	for i := range rev {
		path[i] = g.order[rev[len(rev)-1-i]]
	}
	return path, nil
}

// dijkstra returns distances and predecessors (by node index) from src.
// Ties are broken by node index, so paths are deterministic.
func (g *Graph) dijkstra(src int) ([]float64, []int) {
	n := len(g.order)
	dist := make([]float64, n)
	prev := make([]int, n)
	done := make([]bool, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}
	dist[src] = 0

	pq := &distHeap{{node: src, dist: 0}}
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(distItem)
		if done[cur.node] {
			continue
		}
		done[cur.node] = true
		for peer, w := range g.adj[g.order[cur.node]] {
			j := g.index[peer]
			if done[j] {
				continue
			}
			nd := cur.dist + w
			if nd < dist[j] || (nd == dist[j] && prev[j] > cur.node) {
				dist[j] = nd
				prev[j] = cur.node
				heap.Push(pq, distItem{node: j, dist: nd})
			}
		}
	}
	return dist, prev
}

type distItem struct {
	node int
	dist float64
}

type distHeap []distItem

func (h distHeap) Len() int { return len(h) }
func (h distHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].node < h[j].node
}
func (h distHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *distHeap) Push(x interface{}) { *h = append(*h, x.(distItem)) }
func (h *distHeap) Pop() interface{} {
	old := *h
	it := old[len(old)-1]
	*h = old[:len(old)-1]
	return it
}
