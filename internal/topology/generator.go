package topology

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"gossipsim/internal/graph"
)

// Model selects the random-graph family.
type Model string

const (
	// ErdosRenyi adds every possible edge independently with probability P.
	ErdosRenyi Model = "ER"
	// BarabasiAlbert attaches every new node to M existing nodes chosen
	// with probability proportional to their degree.
	BarabasiAlbert Model = "BA"
)

// ParseModel accepts the short model names, case-insensitively.
func ParseModel(s string) (Model, error) {
	switch Model(strings.ToUpper(strings.TrimSpace(s))) {
	case ErdosRenyi:
		return ErdosRenyi, nil
	case BarabasiAlbert:
		return BarabasiAlbert, nil
	default:
		return "", fmt.Errorf("unknown topology model %q (expected ER or BA)", s)
	}
}

// Latency is the per-edge latency policy in milliseconds. When Fixed is set
// every edge gets that value, otherwise a value drawn uniformly from
// [Min, Max].
type Latency struct {
	Min   float64
	Max   float64
	Fixed *float64
}

// FixedLatency returns a policy assigning ms to every edge.
func FixedLatency(ms float64) Latency {
	return Latency{Fixed: &ms}
}

func (l Latency) validate() error {
	if l.Fixed != nil {
		if *l.Fixed < 0 {
			return fmt.Errorf("fixed latency must be >= 0, got %v", *l.Fixed)
		}
		return nil
	}
	if l.Min < 0 || l.Max < l.Min {
		return fmt.Errorf("invalid latency range [%v, %v]", l.Min, l.Max)
	}
	return nil
}

func (l Latency) sample(rng *rand.Rand) float64 {
	if l.Fixed != nil {
		return *l.Fixed
	}
	if l.Max == l.Min {
		return l.Min
	}
	return math.Round((l.Min+rng.Float64()*(l.Max-l.Min))*100) / 100
}

// Params describes one generation request.
type Params struct {
	Nodes int
	Model Model
	// P is the edge probability of the ER model.
	P float64
	// M is the attachment count of the BA model.
	M       int
	Latency Latency
	Seed    int64

	// TargetDegree, when positive, makes Generate try up to MaxAttempts
	// seeds and keep the graph whose average degree is closest to it.
	TargetDegree float64
	MaxAttempts  int
}

// Result is a generated topology plus what the generator observed.
type Result struct {
	Graph         *graph.Graph
	AverageDegree float64
	RepairEdges   int
	Seed          int64
	Attempts      int
}

// NodeID returns the id of the i-th generated node.
func NodeID(i int) string { return strconv.Itoa(i) }

// Generate builds a connected topology. Node ids are "0".."n-1".
func Generate(p Params) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	attempts := 1
	if p.TargetDegree > 0 && p.MaxAttempts > 1 {
		attempts = p.MaxAttempts
	}

	var best *Result
	for a := 0; a < attempts; a++ {
		seed := p.Seed + int64(a)
		res := generateOnce(p, seed)
		res.Attempts = a + 1
		if best == nil || math.Abs(res.AverageDegree-p.TargetDegree) < math.Abs(best.AverageDegree-p.TargetDegree) {
			best = res
		}
		if p.TargetDegree <= 0 || math.Abs(best.AverageDegree-p.TargetDegree) < 0.5 {
			break
		}
	}
	return best, nil
}

func (p Params) validate() error {
	if p.Nodes < 1 {
		return fmt.Errorf("node count must be >= 1, got %d", p.Nodes)
	}
	switch p.Model {
	case ErdosRenyi:
		if p.P < 0 || p.P > 1 {
			return fmt.Errorf("ER probability must be in [0,1], got %v", p.P)
		}
	case BarabasiAlbert:
		if p.M < 1 || (p.Nodes > 1 && p.M >= p.Nodes) {
			return fmt.Errorf("BA attachment count must be in [1,%d), got %d", p.Nodes, p.M)
		}
	default:
		return fmt.Errorf("unknown topology model %q", p.Model)
	}
	return p.Latency.validate()
}

func generateOnce(p Params, seed int64) *Result {
	rng := rand.New(rand.NewSource(seed))
	g := graph.New()
	for i := 0; i < p.Nodes; i++ {
		g.AddNode(NodeID(i))
	}

	addEdge := func(i, j int) {
		_ = g.AddEdge(NodeID(i), NodeID(j), p.Latency.sample(rng))
	}

	switch p.Model {
	case ErdosRenyi:
		for i := 0; i < p.Nodes; i++ {
			for j := i + 1; j < p.Nodes; j++ {
				if rng.Float64() < p.P {
					addEdge(i, j)
				}
			}
		}
	case BarabasiAlbert:
		barabasiAlbert(p.Nodes, p.M, rng, addEdge)
	}

	repaired := g.RepairConnectivity(func(u, v string) float64 {
		return p.Latency.sample(rng)
	})

	return &Result{
		Graph:         g,
		AverageDegree: g.AverageDegree(),
		RepairEdges:   len(repaired),
		Seed:          seed,
	}
}

// barabasiAlbert grows a preferential-attachment graph: node m links to the
// first m nodes, then every later node links to m distinct nodes drawn from
// the list of edge endpoints, which weights the draw by degree.
func barabasiAlbert(n, m int, rng *rand.Rand, addEdge func(i, j int)) {
	if n <= 1 {
		return
	}
	targets := make([]int, m)
	for i := range targets {
		targets[i] = i
	}
	var repeated []int
	for source := m; source < n; source++ {
		for _, t := range targets {
			addEdge(source, t)
		}
		repeated = append(repeated, targets...)
		for i := 0; i < m; i++ {
			repeated = append(repeated, source)
		}

		chosen := make(map[int]bool, m)
		targets = targets[:0]
		for len(targets) < m {
			t := repeated[rng.Intn(len(repeated))]
			if !chosen[t] {
				chosen[t] = true
				targets = append(targets, t)
			}
		}
	}
}
