package topology

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_AlwaysConnected(t *testing.T) {
	cases := []Params{
		{Nodes: 1, Model: ErdosRenyi, P: 0},
		{Nodes: 10, Model: ErdosRenyi, P: 0},
		{Nodes: 30, Model: ErdosRenyi, P: 0.05},
		{Nodes: 30, Model: ErdosRenyi, P: 0.5},
		{Nodes: 2, Model: BarabasiAlbert, M: 1},
		{Nodes: 50, Model: BarabasiAlbert, M: 1},
		{Nodes: 50, Model: BarabasiAlbert, M: 3},
	}
	for _, p := range cases {
		for seed := int64(0); seed < 5; seed++ {
			p := p
			p.Seed = seed
			p.Latency = Latency{Min: 1, Max: 50}
			t.Run(fmt.Sprintf("%s/n=%d/seed=%d", p.Model, p.Nodes, seed), func(t *testing.T) {
				res, err := Generate(p)
				require.NoError(t, err)
				assert.Equal(t, p.Nodes, res.Graph.NumNodes())
				assert.Len(t, res.Graph.ConnectedComponents(), 1)
				for _, e := range res.Graph.Edges() {
					assert.GreaterOrEqual(t, e.Weight, 1.0)
					assert.LessOrEqual(t, e.Weight, 50.0)
				}
			})
		}
	}
}

func TestGenerate_RepairCountsComponents(t *testing.T) {
	res, err := Generate(Params{Nodes: 8, Model: ErdosRenyi, P: 0, Latency: FixedLatency(5)})
	require.NoError(t, err)

	assert.Equal(t, 7, res.RepairEdges, "an empty ER graph needs n-1 bridges")
	assert.Equal(t, 7, res.Graph.NumEdges())
	for _, e := range res.Graph.Edges() {
		assert.Equal(t, 5.0, e.Weight)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	p := Params{Nodes: 40, Model: BarabasiAlbert, M: 2, Latency: Latency{Min: 5, Max: 100}, Seed: 42}

	a, err := Generate(p)
	require.NoError(t, err)
	b, err := Generate(p)
	require.NoError(t, err)

	assert.Equal(t, a.Graph.Edges(), b.Graph.Edges())
}

func TestGenerate_BarabasiAlbertEdgeCount(t *testing.T) {
	res, err := Generate(Params{Nodes: 20, Model: BarabasiAlbert, M: 2, Latency: FixedLatency(1), Seed: 3})
	require.NoError(t, err)

	assert.Equal(t, (20-2)*2, res.Graph.NumEdges())
	assert.Equal(t, 0, res.RepairEdges)
}

func TestGenerate_TargetDegree(t *testing.T) {
	res, err := Generate(Params{
		Nodes:        50,
		Model:        ErdosRenyi,
		P:            0.1,
		Latency:      FixedLatency(1),
		TargetDegree: 5,
		MaxAttempts:  10,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Attempts, 1)
	assert.LessOrEqual(t, res.Attempts, 10)
	assert.InDelta(t, 5, res.AverageDegree, 2.5)
}

func TestGenerate_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"zero nodes", Params{Nodes: 0, Model: ErdosRenyi}},
		{"bad probability", Params{Nodes: 5, Model: ErdosRenyi, P: 1.5}},
		{"attachment too large", Params{Nodes: 5, Model: BarabasiAlbert, M: 5}},
		{"unknown model", Params{Nodes: 5, Model: "WS"}},
		{"inverted latency", Params{Nodes: 5, Model: ErdosRenyi, P: 0.5, Latency: Latency{Min: 10, Max: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(tt.p)
			assert.Error(t, err)
		})
	}
}

func TestParseModel(t *testing.T) {
	for in, want := range map[string]Model{
		"BA": BarabasiAlbert,
		"ba": BarabasiAlbert,
		"bA": BarabasiAlbert,
		"ER": ErdosRenyi,
		"Er": ErdosRenyi,
		"eR": ErdosRenyi,
	} {
		m, err := ParseModel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, m, in)
	}

	_, err := ParseModel("xx")
	assert.Error(t, err)
}
