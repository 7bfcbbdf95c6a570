package node

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"gossipsim/internal/api"
	"gossipsim/internal/gossip"
)

// DefaultMaxClients bounds the cached peer connections.
const DefaultMaxClients = 256

// ClientManager caches gRPC connections to peer nodes. The least recently
// used connection is closed once more than the configured number are open.
// It implements gossip.Transport.
type ClientManager struct {
	mu       sync.Mutex
	conns    *lru.Cache[string, *grpc.ClientConn]
	dialOpts []grpc.DialOption
}

// NewClientManager creates a client manager holding at most size
// connections; size <= 0 means DefaultMaxClients.
func NewClientManager(size int, opts ...grpc.DialOption) (*ClientManager, error) {
	if size <= 0 {
		size = DefaultMaxClients
	}
	conns, err := lru.NewWithEvict(size, func(_ string, conn *grpc.ClientConn) {
		_ = conn.Close()
	})
	if err != nil {
		return nil, err
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &ClientManager{conns: conns, dialOpts: opts}, nil
}

// GetClient returns a Gossip client for addr, creating the connection on
// first use.
func (cm *ClientManager) GetClient(addr string) (api.GossipClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("empty peer address")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn, ok := cm.conns.Get(addr); ok {
		return api.NewGossipClient(conn), nil
	}
	conn, err := grpc.NewClient(addr, cm.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}
	cm.conns.Add(addr, conn)
	return api.NewGossipClient(conn), nil
}

// Deliver sends one gossip hop to peer.
func (cm *ClientManager) Deliver(ctx context.Context, to gossip.Peer, d gossip.Delivery) (gossip.Ack, error) {
	client, err := cm.GetClient(to.Addr)
	if err != nil {
		return gossip.Ack{}, err
	}
	resp, err := client.Deliver(ctx, api.FromDelivery(d))
	if err != nil {
		return gossip.Ack{}, err
	}
	return gossip.Ack{Details: resp.Details}, nil
}

// Status queries the node at addr.
func (cm *ClientManager) Status(ctx context.Context, addr string) (*api.StatusResponse, error) {
	client, err := cm.GetClient(addr)
	if err != nil {
		return nil, err
	}
	return client.Status(ctx, &api.StatusRequest{})
}

// Len returns the number of cached connections.
func (cm *ClientManager) Len() int {
	return cm.conns.Len()
}

// Close closes all client connections.
func (cm *ClientManager) Close() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conns.Purge()
}
