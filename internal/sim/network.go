package sim

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"gossipsim/internal/gossip"
	"gossipsim/internal/graph"
)

// Options configures a Network.
type Options struct {
	Mode        gossip.FanoutMode
	CallTimeout time.Duration
	MaxFanouts  int64
	Logger      *zap.Logger
	Clock       clock.Clock
	// Sink receives every event in addition to the network's recorder.
	Sink gossip.Sink
}

// Network is one gossip node per graph node.
type Network struct {
	Transport *LocalTransport
	Tracker   *gossip.Tracker
	Recorder  *gossip.Recorder

	nodes map[string]*gossip.Node
	order []string
	clock clock.Clock
}

// NewNetwork creates a node per vertex of g with its adjacency row as the
// neighbor table.
func NewNetwork(g *graph.Graph, opts Options) (*Network, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	w := &Network{
		Transport: NewLocalTransport(),
		Tracker:   gossip.NewTracker(),
		Recorder:  &gossip.Recorder{},
		nodes:     make(map[string]*gossip.Node, g.NumNodes()),
		order:     g.Nodes(),
		clock:     opts.Clock,
	}
	sink := gossip.MultiSink{w.Tracker, w.Recorder, opts.Sink}

	for _, id := range w.order {
		adj := g.Neighbors(id)
		peers := make([]gossip.Peer, len(adj))
		for i, nb := range adj {
			peers[i] = gossip.Peer{ID: nb.ID, Addr: "local/" + nb.ID, LatencyMs: nb.Weight}
		}
		n, err := gossip.NewNode(gossip.Config{
			ID:          id,
			Neighbors:   peers,
			Transport:   w.Transport,
			Sink:        sink,
			Logger:      opts.Logger,
			Clock:       opts.Clock,
			Mode:        opts.Mode,
			CallTimeout: opts.CallTimeout,
			MaxFanouts:  opts.MaxFanouts,
		})
		if err != nil {
			w.Close()
			return nil, err
		}
		w.nodes[id] = n
		w.Transport.Add(n)
	}
	return w, nil
}

// Node returns the node with id.
func (n *Network) Node(id string) (*gossip.Node, bool) {
	node, ok := n.nodes[id]
	return node, ok
}

// Len returns the number of nodes.
func (n *Network) Len() int { return len(n.order) }

// Trigger starts dissemination of m at origin with a self-delivery.
func (n *Network) Trigger(ctx context.Context, origin string, m gossip.Message) error {
	node, ok := n.nodes[origin]
	if !ok {
		return fmt.Errorf("unknown origin %s", origin)
	}
	if m.Origin == "" {
		m.Origin = origin
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = n.clock.Now()
	}
	_, err := node.Deliver(ctx, gossip.Delivery{
		Message:  m,
		SenderID: origin,
		SentAt:   n.clock.Now(),
	})
	return err
}

// Wait blocks until want nodes have the message, then until every
// fan-out scheduled so far has finished.
func (n *Network) Wait(ctx context.Context, message string, want int) error {
	if err := n.Tracker.Wait(ctx, message, want); err != nil {
		return fmt.Errorf("%d of %d nodes reached: %w", n.Tracker.Arrivals(message), want, err)
	}
	// Every arrival registered its fan-out before it was recorded, and later
	// deliveries of message are duplicates, so one pass is enough. Other
	// messages may be in flight at the same time.
	for _, id := range n.order {
		if err := n.nodes[id].WaitMessage(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

// Close stops every node.
func (n *Network) Close() {
	for _, id := range n.order {
		if node, ok := n.nodes[id]; ok {
			node.Close()
		}
	}
}

// Summary describes the dissemination of one message.
type Summary struct {
	Message    string
	Nodes      int
	Reached    int
	Duplicates int
	// FirstArrival is each reached node's first arrival relative to the
	// initiate event.
	FirstArrival map[string]time.Duration
	// Senders is the neighbor each node first received the message from.
	Senders    map[string]string
	MaxArrival time.Duration
}

// Coverage is the reached fraction of nodes.
func (s Summary) Coverage() float64 {
	if s.Nodes == 0 {
		return 0
	}
	return float64(s.Reached) / float64(s.Nodes)
}

// Slowest returns node ids ordered by first arrival, latest first.
func (s Summary) Slowest() []string {
	ids := make([]string, 0, len(s.FirstArrival))
	for id := range s.FirstArrival {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if s.FirstArrival[ids[i]] != s.FirstArrival[ids[j]] {
			return s.FirstArrival[ids[i]] > s.FirstArrival[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Summarize builds the summary of message from events.
func Summarize(events []gossip.Event, message string, nodes int) Summary {
	s := Summary{
		Message:      message,
		Nodes:        nodes,
		FirstArrival: make(map[string]time.Duration),
		Senders:      make(map[string]string),
	}
	var start time.Time
	for _, e := range events {
		if e.Message == message && e.Kind == gossip.Initiate {
			start = e.ReceivedAt
			break
		}
	}
	for _, e := range events {
		if e.Message != message {
			continue
		}
		if e.Kind == gossip.Duplicate {
			s.Duplicates++
			continue
		}
		if _, seen := s.FirstArrival[e.ReceiverID]; seen {
			continue
		}
		s.Reached++
		at := time.Duration(0)
		if !start.IsZero() {
			at = e.ReceivedAt.Sub(start)
		}
		s.FirstArrival[e.ReceiverID] = at
		s.Senders[e.ReceiverID] = e.SenderID
		if at > s.MaxArrival {
			s.MaxArrival = at
		}
	}
	return s
}
