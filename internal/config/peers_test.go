package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gossipsim/internal/gossip"
	"gossipsim/internal/topology"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Peer
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  []Peer{},
		},
		{
			name:  "single peer",
			input: "n1=127.0.0.1:50051",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
			},
		},
		{
			name:  "multiple peers",
			input: "n1=127.0.0.1:50051,n2=127.0.0.1:50052,n3=127.0.0.1:50053",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
				{ID: "n2", Addr: "127.0.0.1:50052"},
				{ID: "n3", Addr: "127.0.0.1:50053"},
			},
		},
		{
			name:  "with spaces",
			input: "n1 = 127.0.0.1:50051 , n2 = 127.0.0.1:50052",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
				{ID: "n2", Addr: "127.0.0.1:50052"},
			},
		},
		{
			name:    "invalid format - no equals",
			input:   "n1:127.0.0.1:50051",
			wantErr: true,
		},
		{
			name:    "invalid format - empty ID",
			input:   "=127.0.0.1:50051",
			wantErr: true,
		},
		{
			name:    "invalid format - empty addr",
			input:   "n1=",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeers(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePeers() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if len(got) != len(tt.want) {
					t.Errorf("ParsePeers() length = %d, want %d", len(got), len(tt.want))
					return
				}
				for i := range got {
					if got[i].ID != tt.want[i].ID || got[i].Addr != tt.want[i].Addr {
						t.Errorf("ParsePeers()[%d] = %v, want %v", i, got[i], tt.want[i])
					}
				}
			}
		})
	}
}

func TestAddressBook(t *testing.T) {
	book := NewAddressBook([]Peer{{ID: "0", Addr: "10.0.0.1:5050"}}, "gossip-{id}.gossip-svc:5050")

	addr, err := book.Addr("0")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:5050", addr)

	addr, err = book.Addr("7")
	require.NoError(t, err)
	assert.Equal(t, "gossip-7.gossip-svc:5050", addr)

	_, err = NewAddressBook(nil, "").Addr("7")
	assert.Error(t, err)
}

func TestBuildNeighbors(t *testing.T) {
	doc := `{"nodes":[{"id":0},{"id":1},{"id":2},{"id":3}],
	"links":[{"source":0,"target":1,"latency":10},{"source":1,"target":2,"latency":20},
	{"source":2,"target":3,"latency":30},{"source":3,"target":0,"latency":40}]}`
	topo, err := topology.Decode(strings.NewReader(doc))
	require.NoError(t, err)

	book := NewAddressBook(nil, "127.0.0.1:60{id}")
	peers, err := BuildNeighbors(topo, "0", book)
	require.NoError(t, err)
	assert.Equal(t, []gossip.Peer{
		{ID: "1", Addr: "127.0.0.1:601", LatencyMs: 10},
		{ID: "3", Addr: "127.0.0.1:603", LatencyMs: 40},
	}, peers)

	_, err = BuildNeighbors(topo, "9", book)
	assert.Error(t, err)
	_, err = BuildNeighbors(topo, "0", NewAddressBook(nil, ""))
	assert.Error(t, err)
}
