package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultCallTimeout bounds every outbound deliver call.
	DefaultCallTimeout = 2 * time.Second
	// DefaultMaxFanouts bounds the fan-outs a node runs at once.
	DefaultMaxFanouts = 64
)

var (
	// ErrPeerUnreachable wraps a failed outbound deliver call.
	ErrPeerUnreachable = errors.New("gossip: peer unreachable")
	// ErrInvalidDelivery is returned for a delivery without message or sender.
	ErrInvalidDelivery = errors.New("gossip: invalid delivery")
	// ErrClosed is returned by Deliver after Close.
	ErrClosed = errors.New("gossip: node closed")
)

// Transport issues outbound deliver calls.
type Transport interface {
	Deliver(ctx context.Context, to Peer, d Delivery) (Ack, error)
}

// Observer is notified about fan-out activity. Implementations must be safe
// for concurrent use.
type Observer interface {
	FanoutStarted()
	FanoutFinished(elapsed time.Duration)
	PeerUnreachable(peer Peer, err error)
}

type nopObserver struct{}

func (nopObserver) FanoutStarted()               {}
func (nopObserver) FanoutFinished(time.Duration) {}
func (nopObserver) PeerUnreachable(Peer, error)  {}

// FanoutMode selects how a node schedules the calls of one fan-out.
type FanoutMode string

const (
	// Parallel delays every neighbor by its own link latency, all counted
	// from the start of the fan-out.
	Parallel FanoutMode = "parallel"
	// Sequential delays and sends one neighbor after the other, so delays
	// accumulate.
	Sequential FanoutMode = "sequential"
)

// ParseFanoutMode parses "parallel" or "sequential"; empty means Parallel.
func ParseFanoutMode(s string) (FanoutMode, error) {
	switch FanoutMode(s) {
	case "", Parallel:
		return Parallel, nil
	case Sequential:
		return Sequential, nil
	}
	return "", fmt.Errorf("unknown fan-out mode %q", s)
}

// Config configures a Node.
type Config struct {
	ID        string
	Neighbors []Peer
	Transport Transport

	Sink     Sink
	Observer Observer
	Logger   *zap.Logger
	Clock    clock.Clock

	Mode FanoutMode
	// CallTimeout bounds each outbound call; 0 means DefaultCallTimeout.
	CallTimeout time.Duration
	// MaxFanouts bounds concurrent fan-outs; 0 means DefaultMaxFanouts.
	MaxFanouts int64
}

// Status is a point-in-time view of a node.
type Status struct {
	ID         string
	Neighbors  []Peer
	Received   int
	Initiating bool
}

// Node is one gossip participant. Its neighbor table is fixed at creation.
type Node struct {
	id        string
	neighbors []Peer
	transport Transport
	sink      Sink
	observer  Observer
	logger    *zap.Logger
	clock     clock.Clock
	mode      FanoutMode
	timeout   time.Duration
	slots     *semaphore.Weighted

	// mu guards received, initiated, closed, inflight and idle. The
	// received check and insert happen under one critical section.
	mu        sync.Mutex
	received  map[string]struct{}
	initiated bool
	closed    bool
	// inflight counts running fan-outs per message; idle is closed and
	// replaced whenever one finishes.
	inflight map[string]int
	idle     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a node. Neighbors are copied.
func NewNode(cfg Config) (*Node, error) {
	if cfg.ID == "" {
		return nil, errors.New("gossip: node id required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("gossip: transport required")
	}
	mode, err := ParseFanoutMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	for _, p := range cfg.Neighbors {
		if p.ID == cfg.ID {
			return nil, fmt.Errorf("gossip: node %s lists itself as neighbor", cfg.ID)
		}
		if p.LatencyMs < 0 {
			return nil, fmt.Errorf("gossip: negative latency %.2f to %s", p.LatencyMs, p.ID)
		}
	}

	if cfg.Sink == nil {
		cfg.Sink = discard{}
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxFanouts <= 0 {
		cfg.MaxFanouts = DefaultMaxFanouts
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		id:        cfg.ID,
		neighbors: append([]Peer(nil), cfg.Neighbors...),
		transport: cfg.Transport,
		sink:      cfg.Sink,
		observer:  cfg.Observer,
		logger:    cfg.Logger.Named("gossip").With(zap.String("node_id", cfg.ID)),
		clock:     cfg.Clock,
		mode:      mode,
		timeout:   cfg.CallTimeout,
		slots:     semaphore.NewWeighted(cfg.MaxFanouts),
		received:  make(map[string]struct{}),
		inflight:  make(map[string]int),
		idle:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// ID returns the node id.
func (n *Node) ID() string { return n.id }

// Neighbors returns a copy of the neighbor table.
func (n *Node) Neighbors() []Peer { return append([]Peer(nil), n.neighbors...) }

// Has reports whether the node has processed message.
func (n *Node) Has(message string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.received[message]
	return ok
}

// Status returns a snapshot of the node state.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{
		ID:         n.id,
		Neighbors:  n.Neighbors(),
		Received:   len(n.received),
		Initiating: n.initiated,
	}
}

// Deliver processes one inbound delivery. A first self-delivery initiates
// the message, a first delivery from a neighbor receives it, and anything
// already seen is a duplicate. The first two schedule a fan-out and return
// without waiting for it; duplicates never forward.
//
// ctx only bounds the wait for a free fan-out slot.
func (n *Node) Deliver(ctx context.Context, d Delivery) (Ack, error) {
	if d.Message.ID == "" || d.SenderID == "" {
		return Ack{}, fmt.Errorf("%w: message and sender are required", ErrInvalidDelivery)
	}

	// Reserve a fan-out slot before claiming the message so a claimed
	// message always gets its fan-out. The received set never shrinks, so a
	// message seen here is still seen under the lock below.
	reserved := false
	if !n.Has(d.Message.ID) {
		if err := n.slots.Acquire(ctx, 1); err != nil {
			return Ack{}, err
		}
		reserved = true
	}

	now := n.clock.Now()
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		if reserved {
			n.slots.Release(1)
		}
		return Ack{}, ErrClosed
	}
	kind := Received
	if _, seen := n.received[d.Message.ID]; seen {
		kind = Duplicate
	} else {
		n.received[d.Message.ID] = struct{}{}
		// A self-delivery after the message arrived from a peer falls into
		// the duplicate branch above, so a node fans out at most once.
		if d.SenderID == n.id {
			kind = Initiate
			n.initiated = true
		}
		n.inflight[d.Message.ID]++
		n.wg.Add(1)
	}
	n.mu.Unlock()

	if kind == Duplicate && reserved {
		n.slots.Release(1)
	}

	e := n.event(d, kind, now)
	n.sink.Record(e)

	if kind != Duplicate {
		go func() {
			defer n.wg.Done()
			defer n.slots.Release(1)
			defer n.fanoutDone(d.Message.ID)
			n.fanout(d.Message, d.SenderID, kind == Initiate)
		}()
	}
	return Ack{Details: e.Detail}, nil
}

func (n *Node) event(d Delivery, kind EventKind, now time.Time) Event {
	e := Event{
		Message:    d.Message.ID,
		SenderID:   d.SenderID,
		ReceiverID: n.id,
		ReceivedAt: now,
		LatencyMs:  d.LatencyMs,
		Kind:       kind,
	}
	switch kind {
	case Initiate:
		e.Detail = fmt.Sprintf("node %s initiated message %s", n.id, d.Message.ID)
	case Duplicate:
		e.Detail = fmt.Sprintf("node %s ignored duplicate %s from %s", n.id, d.Message.ID, d.SenderID)
	case Received:
		ms := float64(now.Sub(d.SentAt)) / float64(time.Millisecond)
		e.PropagationTimeMs = &ms
		e.Detail = fmt.Sprintf("node %s received %s from %s after %.2f ms", n.id, d.Message.ID, d.SenderID, ms)
	}
	return e
}

// fanout forwards m to every neighbor except the sender and returns once
// every call finished or the node closed.
func (n *Node) fanout(m Message, sender string, origin bool) {
	start := n.clock.Now()
	n.observer.FanoutStarted()
	defer func() {
		n.observer.FanoutFinished(n.clock.Since(start))
		if origin {
			n.mu.Lock()
			n.initiated = false
			n.mu.Unlock()
		}
	}()

	targets := make([]Peer, 0, len(n.neighbors))
	for _, p := range n.neighbors {
		if p.ID != sender {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return
	}

	var (
		mu   sync.Mutex
		errs error
	)
	collect := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}

	switch n.mode {
	case Sequential:
		for _, p := range targets {
			if !n.sleep(p.LatencyMs) {
				return
			}
			collect(n.send(p, m))
		}
	default:
		var wg sync.WaitGroup
		for _, p := range targets {
			wg.Add(1)
			go func(p Peer) {
				defer wg.Done()
				if n.sleep(p.LatencyMs) {
					collect(n.send(p, m))
				}
			}(p)
		}
		wg.Wait()
	}

	if errs != nil {
		failed := multierr.Errors(errs)
		n.logger.Warn("fan-out incomplete",
			zap.String("message", m.ID),
			zap.Int("failed", len(failed)),
			zap.Int("targets", len(targets)),
			zap.Error(errs))
	}
}

// sleep waits for the link latency. It returns false if the node closed.
func (n *Node) sleep(ms float64) bool {
	if ms <= 0 {
		return n.ctx.Err() == nil
	}
	t := n.clock.Timer(time.Duration(ms * float64(time.Millisecond)))
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-n.ctx.Done():
		return false
	}
}

func (n *Node) send(p Peer, m Message) error {
	ctx, cancel := n.clock.WithTimeout(n.ctx, n.timeout)
	defer cancel()

	d := Delivery{
		Message:   m,
		SenderID:  n.id,
		SentAt:    n.clock.Now(),
		LatencyMs: p.LatencyMs,
	}
	if _, err := n.transport.Deliver(ctx, p, d); err != nil {
		err = fmt.Errorf("%w: %s (%s): %v", ErrPeerUnreachable, p.ID, p.Addr, err)
		n.logger.Warn("peer unreachable",
			zap.String("peer_id", p.ID),
			zap.String("peer_addr", p.Addr),
			zap.String("message", m.ID),
			zap.Error(err))
		n.observer.PeerUnreachable(p, err)
		return err
	}
	return nil
}

func (n *Node) fanoutDone(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.inflight[message]--; n.inflight[message] <= 0 {
		delete(n.inflight, message)
	}
	close(n.idle)
	n.idle = make(chan struct{})
}

// Wait blocks until no fan-out is running. Deliveries may continue
// concurrently; Wait returns at the first moment the node is idle.
func (n *Node) Wait() {
	_ = n.waitIdle(context.Background(), func() bool { return len(n.inflight) == 0 })
}

// WaitMessage blocks until no fan-out of message is running or ctx is
// done.
func (n *Node) WaitMessage(ctx context.Context, message string) error {
	return n.waitIdle(ctx, func() bool { return n.inflight[message] == 0 })
}

// waitIdle waits until done reports true; done runs with mu held.
func (n *Node) waitIdle(ctx context.Context, done func() bool) error {
	for {
		n.mu.Lock()
		if done() {
			n.mu.Unlock()
			return nil
		}
		ch := n.idle
		n.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Close stops accepting deliveries, aborts pending link delays and waits
// for in-flight fan-outs to return.
func (n *Node) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.cancel()
	n.wg.Wait()
}
