package node

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"gossipsim/internal/api"
	"gossipsim/internal/gossip"
)

// Options configures a Node.
type Options struct {
	ID         string
	ListenAddr string
	Neighbors  []gossip.Peer

	Sink     gossip.Sink
	Observer gossip.Observer
	Logger   *zap.Logger

	Mode        gossip.FanoutMode
	CallTimeout time.Duration
	MaxFanouts  int64

	// MaxConcurrentStreams and NumStreamWorkers bound inbound handling.
	MaxConcurrentStreams uint32
	NumStreamWorkers     uint32
	MaxClients           int
}

// Node is one gossip process: a gRPC server in front of a gossip node and
// the client manager it forwards through.
type Node struct {
	nodeID     string
	listenAddr string
	logger     *zap.Logger
	opts       Options

	grpcServer *grpc.Server
	health     *health.Server
	gossip     *gossip.Node
	clientMgr  *ClientManager

	mu       sync.Mutex
	listener net.Listener
	served   chan error
}

// NewNode creates a node. The neighbor table is fixed from here on.
func NewNode(opts Options) (*Node, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	clientMgr, err := NewClientManager(opts.MaxClients)
	if err != nil {
		return nil, err
	}
	g, err := gossip.NewNode(gossip.Config{
		ID:          opts.ID,
		Neighbors:   opts.Neighbors,
		Transport:   clientMgr,
		Sink:        opts.Sink,
		Observer:    opts.Observer,
		Logger:      opts.Logger,
		Mode:        opts.Mode,
		CallTimeout: opts.CallTimeout,
		MaxFanouts:  opts.MaxFanouts,
	})
	if err != nil {
		return nil, err
	}
	return &Node{
		nodeID:     opts.ID,
		listenAddr: opts.ListenAddr,
		logger:     opts.Logger.Named("node").With(zap.String("node_id", opts.ID)),
		opts:       opts,
		health:     health.NewServer(),
		gossip:     g,
		clientMgr:  clientMgr,
	}, nil
}

// Gossip returns the underlying gossip node.
func (n *Node) Gossip() *gossip.Node { return n.gossip }

// Clients returns the node's client manager.
func (n *Node) Clients() *ClientManager { return n.clientMgr }

// Start listens and serves in the background. It returns once the listener
// is bound.
func (n *Node) Start() error {
	lis, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.listenAddr, err)
	}

	var serverOpts []grpc.ServerOption
	if n.opts.MaxConcurrentStreams > 0 {
		serverOpts = append(serverOpts, grpc.MaxConcurrentStreams(n.opts.MaxConcurrentStreams))
	}
	if n.opts.NumStreamWorkers > 0 {
		serverOpts = append(serverOpts, grpc.NumStreamWorkers(n.opts.NumStreamWorkers))
	}
	n.grpcServer = grpc.NewServer(serverOpts...)
	api.RegisterGossipServer(n.grpcServer, NewServer(n.gossip, n.logger))
	healthpb.RegisterHealthServer(n.grpcServer, n.health)
	reflection.Register(n.grpcServer)

	n.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	n.health.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)

	n.mu.Lock()
	n.listener = lis
	n.served = make(chan error, 1)
	n.mu.Unlock()

	n.logger.Info("starting node",
		zap.String("addr", lis.Addr().String()),
		zap.Int("neighbors", len(n.opts.Neighbors)))

	go func() {
		n.served <- n.grpcServer.Serve(lis)
	}()
	return nil
}

// Addr returns the bound listen address, or the configured one before
// Start.
func (n *Node) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener != nil {
		return n.listener.Addr().String()
	}
	return n.listenAddr
}

// Done returns a channel that yields the Serve result once the server
// stops. It is nil before Start.
func (n *Node) Done() <-chan error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.served
}

// Stop gracefully stops the node: it reports NOT_SERVING, drains inbound
// calls, aborts pending fan-outs and closes peer connections.
func (n *Node) Stop() {
	n.health.Shutdown()
	if n.grpcServer != nil {
		n.logger.Info("stopping node")
		n.grpcServer.GracefulStop()
	}
	n.gossip.Close()
	n.clientMgr.Close()
}
