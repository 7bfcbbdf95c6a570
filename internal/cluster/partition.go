package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gossipsim/internal/graph"
)

var (
	// ErrInvalidK is returned when k is outside [1, |nodes|].
	ErrInvalidK = errors.New("cluster: invalid cluster count")
	// ErrPartitionInfeasible is returned when repair could not make every
	// cluster internally connected within the pass bound.
	ErrPartitionInfeasible = errors.New("cluster: partition infeasible")
)

// Cluster is one group of the partition.
type Cluster struct {
	ID      int
	Members []string
	Medoid  string
}

// Partition is a repaired clustering: disjoint clusters covering every node,
// each inducing a connected subgraph.
type Partition struct {
	Clusters []Cluster
	Labels   map[string]int
	// Passes is the number of repair passes that ran.
	Passes int
	// Moves is the number of node reassignments made by repair.
	Moves int
}

// Medoids returns the medoid of every cluster, by cluster id.
func (p *Partition) Medoids() []string {
	out := make([]string, len(p.Clusters))
	for i, c := range p.Clusters {
		out[i] = c.Medoid
	}
	return out
}

// Options controls Partition.
type Options struct {
	K    int
	Seed int64
	// MaxIterations bounds the k-means iterations; 0 means 300.
	MaxIterations int
	// MaxPasses bounds the repair passes; 0 means the node count.
	MaxPasses int
}

// Build clusters g using the rows of d as feature vectors and repairs the
// result. d must have been computed from g.
func Build(g *graph.Graph, d *graph.DistanceMatrix, opts Options) (*Partition, error) {
	n := g.NumNodes()
	if opts.K < 1 || opts.K > n {
		return nil, fmt.Errorf("%w: k=%d nodes=%d", ErrInvalidK, opts.K, n)
	}
	if d.Len() != n {
		return nil, fmt.Errorf("distance matrix has %d rows, graph has %d nodes", d.Len(), n)
	}

	ids := d.IDs()
	rows := d.Rows()
	rng := rand.New(rand.NewSource(opts.Seed))
	labels := KMeans(rows, opts.K, rng, opts.MaxIterations)

	r := &repairer{
		g:      g,
		d:      d,
		k:      opts.K,
		labels: make(map[string]int, n),
	}
	for i, id := range ids {
		r.labels[id] = labels[i]
	}

	maxPasses := opts.MaxPasses
	if maxPasses <= 0 {
		maxPasses = n
	}
	passes, moves, err := r.run(maxPasses)
	if err != nil {
		return nil, err
	}

	p := &Partition{
		Clusters: make([]Cluster, opts.K),
		Labels:   r.labels,
		Passes:   passes,
		Moves:    moves,
	}
	for c := range p.Clusters {
		members := r.members(c)
		p.Clusters[c] = Cluster{
			ID:      c,
			Members: members,
			Medoid:  medoid(d, members),
		}
	}
	return p, nil
}

// medoid returns the member whose distance vector is closest to the
// members' centroid; the earlier member wins ties.
func medoid(d *graph.DistanceMatrix, members []string) string {
	if len(members) == 0 {
		return ""
	}
	vecs := make([][]float64, len(members))
	for i, m := range members {
		idx, _ := d.Index(m)
		vecs[i] = d.Row(idx)
	}
	center := Centroid(vecs)

	best, bestD := members[0], math.Inf(1)
	for i, m := range members {
		if dist := Euclidean(vecs[i], center); dist < bestD {
			best, bestD = m, dist
		}
	}
	return best
}

type repairer struct {
	g      *graph.Graph
	d      *graph.DistanceMatrix
	k      int
	labels map[string]int
}

// members returns the nodes labelled c, in graph order.
func (r *repairer) members(c int) []string {
	var out []string
	for _, id := range r.g.Nodes() {
		if r.labels[id] == c {
			out = append(out, id)
		}
	}
	return out
}

func (r *repairer) components(c int) [][]string {
	comps := r.g.Induced(r.members(c)).ConnectedComponents()
	sort.SliceStable(comps, func(i, j int) bool {
		return len(comps[i]) > len(comps[j])
	})
	return comps
}

func (r *repairer) connected() bool {
	for c := 0; c < r.k; c++ {
		if len(r.components(c)) > 1 {
			return false
		}
	}
	return true
}

// run performs bounded repair passes and returns (passes, moves).
func (r *repairer) run(maxPasses int) (int, int, error) {
	moves := 0
	for pass := 0; pass < maxPasses; pass++ {
		if r.connected() {
			return pass, moves, nil
		}
		progressed := false
		for c := 0; c < r.k; c++ {
			m := r.repairCluster(c)
			moves += m
			if m > 0 {
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	if r.connected() {
		return maxPasses, moves, nil
	}
	var broken []int
	for c := 0; c < r.k; c++ {
		if len(r.components(c)) > 1 {
			broken = append(broken, c)
		}
	}
	return 0, moves, fmt.Errorf("%w: clusters %v still disconnected after %d moves", ErrPartitionInfeasible, broken, moves)
}

// repairCluster moves nodes out of the non-largest components of cluster c
// one at a time, recomputing the components after every move. It returns
// the number of moves made.
func (r *repairer) repairCluster(c int) int {
	moves := 0
	for {
		comps := r.components(c)
		if len(comps) <= 1 {
			return moves
		}
		node, target, ok := r.nextMove(comps[1:], c)
		if !ok {
			return moves
		}
		r.labels[node] = target
		moves++
	}
}

// nextMove picks the first node of the stray components that has a target
// cluster. Nodes whose removal leaves their component connected are
// preferred; a cut node is moved only when no other node can leave.
func (r *repairer) nextMove(stray [][]string, c int) (string, int, bool) {
	fallback, fallbackTarget := "", -1
	for _, comp := range stray {
		for _, node := range comp {
			target, ok := r.nearestTarget(node, c)
			if !ok {
				continue
			}
			if r.leaveKeepsConnectivity(node, comp) {
				return node, target, true
			}
			if fallbackTarget < 0 {
				fallback, fallbackTarget = node, target
			}
		}
	}
	return fallback, fallbackTarget, fallbackTarget >= 0
}

// leaveKeepsConnectivity reports whether comp stays connected without node.
func (r *repairer) leaveKeepsConnectivity(node string, comp []string) bool {
	rest := make([]string, 0, len(comp))
	for _, m := range comp {
		if m != node {
			rest = append(rest, m)
		}
	}
	return len(r.g.Induced(rest).ConnectedComponents()) <= 1
}

// nearestTarget returns the cluster, other than from, closest to node by
// shortest-path distance to any of its members, among the clusters that
// node can join without increasing their component count. Lower cluster
// ids win ties.
func (r *repairer) nearestTarget(node string, from int) (int, bool) {
	best, bestD := -1, math.Inf(1)
	for c := 0; c < r.k; c++ {
		if c == from {
			continue
		}
		members := r.members(c)
		dist := math.Inf(1)
		for _, m := range members {
			if v, ok := r.d.Distance(node, m); ok && v < dist {
				dist = v
			}
		}
		if math.IsInf(dist, 1) || dist >= bestD {
			continue
		}
		if !r.joinKeepsConnectivity(node, members) {
			continue
		}
		best, bestD = c, dist
	}
	return best, best >= 0
}

// joinKeepsConnectivity reports whether adding node to members leaves the
// induced subgraph with no more components than before.
func (r *repairer) joinKeepsConnectivity(node string, members []string) bool {
	before := len(r.g.Induced(members).ConnectedComponents())
	after := len(r.g.Induced(append(append([]string(nil), members...), node)).ConnectedComponents())
	return after <= before
}
