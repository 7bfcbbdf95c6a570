package sim

import (
	"context"
	"fmt"
	"sync"

	"gossipsim/internal/gossip"
)

// LocalTransport delivers directly to in-process nodes. Nodes marked down
// behave as unreachable peers.
type LocalTransport struct {
	mu    sync.RWMutex
	nodes map[string]*gossip.Node
	down  map[string]bool
}

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{
		nodes: make(map[string]*gossip.Node),
		down:  make(map[string]bool),
	}
}

// Add makes n reachable under its id.
func (t *LocalTransport) Add(n *gossip.Node) {
	t.mu.Lock()
	t.nodes[n.ID()] = n
	t.mu.Unlock()
}

// SetDown marks id unreachable (or reachable again).
func (t *LocalTransport) SetDown(id string, down bool) {
	t.mu.Lock()
	t.down[id] = down
	t.mu.Unlock()
}

// Deliver implements gossip.Transport.
func (t *LocalTransport) Deliver(ctx context.Context, to gossip.Peer, d gossip.Delivery) (gossip.Ack, error) {
	t.mu.RLock()
	n, ok := t.nodes[to.ID]
	down := t.down[to.ID]
	t.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return gossip.Ack{}, err
	}
	if !ok || down {
		return gossip.Ack{}, fmt.Errorf("connection refused: %s", to.ID)
	}
	return n.Deliver(ctx, d)
}
