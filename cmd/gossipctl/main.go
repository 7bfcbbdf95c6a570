// Command gossipctl talks to running gossipd nodes.
//
//	gossipctl trigger -addr 127.0.0.1:5050 -id 0 [-message text]
//	gossipctl status  -addr 127.0.0.1:5050
//	gossipctl wait    -etcd 127.0.0.1:2379 -n 10
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"gossipsim/internal/gossip"
	"gossipsim/internal/logging"
	"gossipsim/internal/node"
	"gossipsim/internal/registry"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger, err := logging.New(logging.Options{Level: "info"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "gossipctl: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	switch os.Args[1] {
	case "trigger":
		err = trigger(os.Args[2:], logger)
	case "status":
		err = status(os.Args[2:])
	case "wait":
		err = wait(os.Args[2:], logger)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal(os.Args[1]+" failed", zap.Error(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: gossipctl trigger|status|wait [flags]")
}

// trigger makes the node at addr the origin of a new message: it delivers
// the message to the node with the node itself as sender.
func trigger(args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:5050", "origin node address")
	id := fs.String("id", "", "origin node id")
	message := fs.String("message", "", "message content; a fresh uuid when empty")
	timeout := fs.Duration("timeout", 5*time.Second, "call timeout")
	_ = fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	clients, err := node.NewClientManager(1)
	if err != nil {
		return err
	}
	defer clients.Close()

	now := time.Now()
	m := gossip.NewMessage(*id, now)
	if *message != "" {
		m.ID = *message
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ack, err := clients.Deliver(ctx, gossip.Peer{ID: *id, Addr: *addr}, gossip.Delivery{
		Message:  m,
		SenderID: *id,
		SentAt:   now,
	})
	if err != nil {
		return err
	}
	logger.Info("triggered",
		zap.String("message", m.ID),
		zap.String("origin", *id),
		zap.String("addr", *addr),
		zap.String("details", ack.Details))
	fmt.Println(m.ID)
	return nil
}

func status(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addrs := fs.String("addr", "127.0.0.1:5050", "comma-separated node addresses")
	timeout := fs.Duration("timeout", 5*time.Second, "call timeout")
	_ = fs.Parse(args)

	clients, err := node.NewClientManager(0)
	if err != nil {
		return err
	}
	defer clients.Close()

	enc := json.NewEncoder(os.Stdout)
	for _, addr := range strings.Split(*addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		resp, err := clients.Status(ctx, addr)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", addr, err)
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return nil
}

// wait blocks until n nodes registered themselves in etcd.
func wait(args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("wait", flag.ExitOnError)
	endpoints := fs.String("etcd", "127.0.0.1:2379", "comma-separated etcd endpoints")
	prefix := fs.String("prefix", "/gossip/nodes", "registration key prefix")
	n := fs.Int("n", 1, "number of ready nodes to wait for")
	timeout := fs.Duration("timeout", time.Minute, "overall timeout")
	_ = fs.Parse(args)

	cli, err := registry.Dial(strings.Split(*endpoints, ","), 5*time.Second)
	if err != nil {
		return err
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	reg := registry.New(cli, *prefix, 0, logger)
	if err := reg.WaitReady(ctx, *n); err != nil {
		return err
	}
	ready, err := reg.Ready(ctx)
	if err != nil {
		return err
	}
	logger.Info("nodes ready", zap.Int("count", len(ready)))
	return nil
}
