package config

import (
	"fmt"
	"strings"

	"gossipsim/internal/gossip"
	"gossipsim/internal/topology"
)

// IDPlaceholder is replaced by the node id in an address template.
const IDPlaceholder = "{id}"

// Peer is an explicitly addressed node.
type Peer struct {
	ID   string
	Addr string
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])
		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{ID: id, Addr: addr})
	}

	return peers, nil
}

// AddressBook resolves node ids to dial addresses: explicit peers first,
// then the template.
type AddressBook struct {
	peers    map[string]string
	template string
}

func NewAddressBook(peers []Peer, template string) *AddressBook {
	b := &AddressBook{peers: make(map[string]string, len(peers)), template: template}
	for _, p := range peers {
		b.peers[p.ID] = p.Addr
	}
	return b
}

// Addr returns the address of id.
func (b *AddressBook) Addr(id string) (string, error) {
	if addr, ok := b.peers[id]; ok {
		return addr, nil
	}
	if b.template != "" {
		return strings.ReplaceAll(b.template, IDPlaceholder, id), nil
	}
	return "", fmt.Errorf("no address for node %s", id)
}

// AddressBook builds the address book from Peers and AddressTemplate.
func (c *Config) AddressBook() (*AddressBook, error) {
	peers, err := ParsePeers(c.Peers)
	if err != nil {
		return nil, err
	}
	return NewAddressBook(peers, c.AddressTemplate), nil
}

// TopologyPath returns TopologyFile or looks the overlay up in
// TopologyDir.
func (c *Config) TopologyPath() (string, error) {
	if c.TopologyFile != "" {
		return c.TopologyFile, nil
	}
	model, err := topology.ParseModel(c.Model)
	if err != nil {
		return "", err
	}
	return topology.Lookup(c.TopologyDir, model, c.Nodes, c.Clusters)
}

// BuildNeighbors returns the neighbor table of self in t, in adjacency
// order, with addresses from book and link latencies from the edge
// weights.
func BuildNeighbors(t *topology.Topology, self string, book *AddressBook) ([]gossip.Peer, error) {
	if !t.Graph.HasNode(self) {
		return nil, fmt.Errorf("node %s is not in the topology", self)
	}
	adj := t.Graph.Neighbors(self)
	out := make([]gossip.Peer, 0, len(adj))
	for _, nb := range adj {
		addr, err := book.Addr(nb.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, gossip.Peer{ID: nb.ID, Addr: addr, LatencyMs: nb.Weight})
	}
	return out, nil
}
