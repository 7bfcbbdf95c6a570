package it

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gossipsim/internal/gossip"
	"gossipsim/internal/node"
	"gossipsim/internal/topology"
)

// DefaultBinary is where the tests look for the gossipd binary.
const DefaultBinary = "./gossipd"

// Cluster runs one gossipd process per topology node on the loopback
// interface.
type Cluster struct {
	binaryPath string
	dir        string
	clients    *node.ClientManager

	mu    sync.Mutex
	nodes []*Node
}

// Node is one gossipd process.
type Node struct {
	ID   string
	Addr string

	cmd     *exec.Cmd
	logFile *os.File
	stdout  *lockedBuffer
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// NewCluster creates a harness writing topology and log files under dir.
func NewCluster(binaryPath, dir string) (*Cluster, error) {
	if binaryPath == "" {
		binaryPath = DefaultBinary
	}
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("binary not found at %s, build it first with 'go build -o gossipd ./cmd/gossipd'", binaryPath)
	}
	binaryPath, err := filepath.Abs(binaryPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create harness directory: %w", err)
	}
	clients, err := node.NewClientManager(0)
	if err != nil {
		return nil, err
	}
	return &Cluster{binaryPath: binaryPath, dir: dir, clients: clients}, nil
}

// Start writes t to disk and launches one process per node. It returns once
// every node reports SERVING on the health service.
func (c *Cluster) Start(ctx context.Context, t *topology.Topology, extraArgs ...string) error {
	topoPath := filepath.Join(c.dir, "topology.json")
	if err := topology.WriteFile(topoPath, t); err != nil {
		return err
	}

	ids := t.Graph.Nodes()
	addrs := make(map[string]string, len(ids))
	peers := make([]string, 0, len(ids))
	for _, id := range ids {
		port, err := freePort()
		if err != nil {
			return err
		}
		addrs[id] = fmt.Sprintf("127.0.0.1:%d", port)
		peers = append(peers, id+"="+addrs[id])
	}

	c.mu.Lock()
	for _, id := range ids {
		n, err := c.launch(ctx, id, addrs[id], topoPath, strings.Join(peers, ","), extraArgs)
		if err != nil {
			c.mu.Unlock()
			c.Stop()
			return err
		}
		c.nodes = append(c.nodes, n)
	}
	nodes := append([]*Node(nil), c.nodes...)
	c.mu.Unlock()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		eg.Go(func() error {
			return waitServing(egCtx, n, 10*time.Second)
		})
	}
	if err := eg.Wait(); err != nil {
		c.Stop()
		return err
	}
	return nil
}

func (c *Cluster) launch(ctx context.Context, id, addr, topoPath, peers string, extra []string) (*Node, error) {
	logPath := filepath.Join(c.dir, fmt.Sprintf("node-%s.log", id))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	args := append([]string{
		"-node-id", id,
		"-listen-addr", addr,
		"-topology-file", topoPath,
		"-peers", peers,
	}, extra...)
	cmd := exec.CommandContext(ctx, c.binaryPath, args...)
	out := &lockedBuffer{}
	cmd.Stdout = out
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to start node %s: %w", id, err)
	}
	return &Node{ID: id, Addr: addr, cmd: cmd, logFile: logFile, stdout: out}, nil
}

// waitServing polls the standard health service of n until it reports
// SERVING.
func waitServing(ctx context.Context, n *Node, timeout time.Duration) error {
	conn, err := grpc.NewClient(n.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for node %s to be ready", n.ID)
			}
			healthCtx, cancel := context.WithTimeout(ctx, time.Second)
			resp, err := client.Check(healthCtx, &healthpb.HealthCheckRequest{})
			cancel()
			if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
				return nil
			}
		}
	}
}

// Trigger makes id the origin of message.
func (c *Cluster) Trigger(ctx context.Context, id, message string) error {
	n := c.GetNode(id)
	if n == nil {
		return fmt.Errorf("node %s not found", id)
	}
	now := time.Now()
	_, err := c.clients.Deliver(ctx, gossip.Peer{ID: id, Addr: n.Addr}, gossip.Delivery{
		Message:  gossip.Message{ID: message, Origin: id, CreatedAt: now},
		SenderID: id,
		SentAt:   now,
	})
	return err
}

// Events parses the event stream every node wrote to stdout so far.
func (c *Cluster) Events() ([]gossip.Event, error) {
	c.mu.Lock()
	nodes := append([]*Node(nil), c.nodes...)
	c.mu.Unlock()

	var out []gossip.Event
	for _, n := range nodes {
		sc := bufio.NewScanner(bytes.NewReader(n.stdout.Bytes()))
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var e gossip.Event
			if err := json.Unmarshal(line, &e); err != nil {
				return nil, fmt.Errorf("node %s: bad event line %q: %w", n.ID, line, err)
			}
			out = append(out, e)
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WaitArrivals polls the event streams until message reached want nodes.
func (c *Cluster) WaitArrivals(ctx context.Context, message string, want int) ([]gossip.Event, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		events, err := c.Events()
		if err != nil {
			return nil, err
		}
		reached := make(map[string]bool)
		for _, e := range events {
			if e.Message == message && e.Kind.First() {
				reached[e.ReceiverID] = true
			}
		}
		if len(reached) >= want {
			return events, nil
		}
		select {
		case <-ctx.Done():
			return events, fmt.Errorf("message %s reached %d of %d nodes: %w", message, len(reached), want, ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetNode returns a node by ID.
func (c *Cluster) GetNode(nodeID string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}

// KillNode kills a specific node.
func (c *Cluster) KillNode(nodeID string) error {
	n := c.GetNode(nodeID)
	if n == nil {
		return fmt.Errorf("node %s not found", nodeID)
	}
	if n.cmd != nil && n.cmd.Process != nil {
		if err := n.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill node %s: %w", nodeID, err)
		}
		_ = n.cmd.Wait()
	}
	return nil
}

// Clients returns the harness client manager.
func (c *Cluster) Clients() *node.ClientManager { return c.clients }

// Stop stops all nodes in the cluster.
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		n.Stop()
	}
	c.nodes = nil
	c.clients.Close()
}

// Stop stops a single node.
func (n *Node) Stop() {
	if n.cmd != nil && n.cmd.Process != nil {
		_ = n.cmd.Process.Kill()
		_ = n.cmd.Wait()
	}
	if n.logFile != nil {
		n.logFile.Close()
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
