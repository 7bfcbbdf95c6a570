package overlay

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gossipsim/internal/cluster"
	"gossipsim/internal/graph"
	"gossipsim/internal/topology"
)

func TestBuild_ConnectedForAllK(t *testing.T) {
	for _, model := range []topology.Model{topology.ErdosRenyi, topology.BarabasiAlbert} {
		res, err := topology.Generate(topology.Params{
			Nodes:   25,
			Model:   model,
			P:       0.12,
			M:       2,
			Latency: topology.Latency{Min: 1, Max: 50},
			Seed:    3,
		})
		require.NoError(t, err)
		d, err := res.Graph.ShortestPathLengths()
		require.NoError(t, err)

		for k := 1; k <= 25; k++ {
			t.Run(fmt.Sprintf("%s/k=%d", model, k), func(t *testing.T) {
				p, err := cluster.Build(res.Graph, d, cluster.Options{K: k, Seed: 3})
				require.NoError(t, err)

				o, err := Build(res.Graph, p)
				if err != nil {
					assert.True(t, errors.Is(err, ErrOverlayDisconnected))
					return
				}
				assert.True(t, o.Graph.IsConnected())
				assert.NoError(t, VerifyProvenance(res.Graph, o.Graph))
				assert.LessOrEqual(t, o.Graph.NumEdges(), res.Graph.NumEdges())
				assert.Equal(t, o.IntraEdges+len(o.Bridges), o.Graph.NumEdges())
			})
		}
	}
}

func TestBuild_BridgesAlongMedoidPath(t *testing.T) {
	// Two triangles joined through a detour (a3-m-b1) and a direct but
	// slower link (a1-b3). The bridge must follow the cheaper path.
	g := graph.New()
	for _, e := range []graph.Edge{
		{Source: "a1", Target: "a2", Weight: 1},
		{Source: "a2", Target: "a3", Weight: 1},
		{Source: "a1", Target: "a3", Weight: 1},
		{Source: "b1", Target: "b2", Weight: 1},
		{Source: "b2", Target: "b3", Weight: 1},
		{Source: "b1", Target: "b3", Weight: 1},
		{Source: "a3", Target: "b1", Weight: 5},
		{Source: "a1", Target: "b3", Weight: 100},
	} {
		require.NoError(t, g.AddEdge(e.Source, e.Target, e.Weight))
	}

	p := &cluster.Partition{
		Clusters: []cluster.Cluster{
			{ID: 0, Members: []string{"a1", "a2", "a3"}, Medoid: "a2"},
			{ID: 1, Members: []string{"b1", "b2", "b3"}, Medoid: "b2"},
		},
	}

	o, err := Build(g, p)
	require.NoError(t, err)

	assert.Equal(t, 6, o.IntraEdges)
	require.Len(t, o.Bridges, 1)
	assert.Equal(t, graph.Edge{Source: "a3", Target: "b1", Weight: 5}, o.Bridges[0])
	assert.False(t, o.Graph.HasEdge("a1", "b3"))
	assert.True(t, o.Graph.IsConnected())
}

func TestBuild_NoIntraEdgesForSingletons(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddEdge("0", "1", 10))
	require.NoError(t, g.AddEdge("1", "2", 20))
	require.NoError(t, g.AddEdge("0", "2", 5))

	p := &cluster.Partition{
		Clusters: []cluster.Cluster{
			{ID: 0, Members: []string{"0"}, Medoid: "0"},
			{ID: 1, Members: []string{"1"}, Medoid: "1"},
			{ID: 2, Members: []string{"2"}, Medoid: "2"},
		},
	}

	o, err := Build(g, p)
	require.NoError(t, err)
	assert.Zero(t, o.IntraEdges)
	// 0-1 is direct; 0-2 is direct and connects everything.
	assert.Equal(t, []graph.Edge{
		{Source: "0", Target: "1", Weight: 10},
		{Source: "0", Target: "2", Weight: 5},
	}, o.Bridges)
}

func TestBuild_Disconnected(t *testing.T) {
	// Medoid paths never touch c, which only hangs off the original graph
	// through an edge that is neither intra-cluster nor on a medoid path.
	g := graph.New()
	require.NoError(t, g.AddEdge("a", "b", 1))
	require.NoError(t, g.AddEdge("b", "c", 1))

	p := &cluster.Partition{
		Clusters: []cluster.Cluster{
			{ID: 0, Members: []string{"a", "c"}, Medoid: "a"},
			{ID: 1, Members: []string{"b"}, Medoid: "b"},
		},
	}

	_, err := Build(g, p)
	assert.True(t, errors.Is(err, ErrOverlayDisconnected))
}

func TestVerifyProvenance(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddEdge("a", "b", 1))
	require.NoError(t, g.AddEdge("b", "c", 2))

	ok := graph.New()
	require.NoError(t, ok.AddEdge("a", "b", 1))
	ok.AddNode("c")
	assert.NoError(t, VerifyProvenance(g, ok))

	foreign := graph.New()
	require.NoError(t, foreign.AddEdge("a", "c", 1))
	foreign.AddNode("b")
	assert.Error(t, VerifyProvenance(g, foreign))

	reweighted := graph.New()
	require.NoError(t, reweighted.AddEdge("b", "c", 3))
	reweighted.AddNode("a")
	assert.Error(t, VerifyProvenance(g, reweighted))
}
