// Package registry records gossip node readiness in etcd. Each node puts
// <prefix>/<id> = addr under a lease kept alive while it runs; an
// orchestrator waits until N keys exist.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Dial connects to etcd.
func Dial(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("registry: no etcd endpoints")
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// Registry registers nodes under a key prefix.
type Registry struct {
	cli    *clientv3.Client
	prefix string
	ttl    int64
	logger *zap.Logger

	lease  clientv3.LeaseID
	cancel context.CancelFunc
}

// New returns a registry on cli. ttl is the lease TTL in seconds.
func New(cli *clientv3.Client, prefix string, ttl int64, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cli:    cli,
		prefix: Prefix(prefix),
		ttl:    ttl,
		logger: logger.Named("registry"),
	}
}

// Prefix normalizes a key prefix to end with a single slash.
func Prefix(p string) string {
	return strings.TrimRight(p, "/") + "/"
}

// Key returns the key of node id under prefix.
func Key(prefix, id string) string {
	return Prefix(prefix) + id
}

// Register puts the node key under a fresh lease and keeps the lease alive
// until Deregister.
func (r *Registry) Register(ctx context.Context, id, addr string) error {
	lease, err := r.cli.Grant(ctx, r.ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}
	if _, err := r.cli.Put(ctx, Key(r.prefix, id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", id, err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("registry: keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
		if kaCtx.Err() == nil {
			r.logger.Warn("lease keepalive stopped", zap.String("node_id", id))
		}
	}()

	r.lease = lease.ID
	r.cancel = cancel
	r.logger.Info("registered", zap.String("node_id", id), zap.String("addr", addr))
	return nil
}

// Deregister revokes the lease, removing the node key.
func (r *Registry) Deregister(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	r.cancel = nil
	_, err := r.cli.Revoke(ctx, r.lease)
	return err
}

// Ready returns the registered nodes as id -> addr.
func (r *Registry) Ready(ctx context.Context) (map[string]string, error) {
	resp, err := r.cli.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out[strings.TrimPrefix(string(kv.Key), r.prefix)] = string(kv.Value)
	}
	return out, nil
}

// CountReady returns the number of registered nodes.
func (r *Registry) CountReady(ctx context.Context) (int, error) {
	resp, err := r.cli.Get(ctx, r.prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

// WaitReady blocks until at least n nodes are registered or ctx is done.
func (r *Registry) WaitReady(ctx context.Context, n int) error {
	resp, err := r.cli.Get(ctx, r.prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return err
	}
	ready := make(map[string]struct{}, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ready[string(kv.Key)] = struct{}{}
	}
	if len(ready) >= n {
		return nil
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wch := r.cli.Watch(wctx, r.prefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
	for wr := range wch {
		if err := wr.Err(); err != nil {
			return err
		}
		for _, ev := range wr.Events {
			switch ev.Type {
			case clientv3.EventTypePut:
				ready[string(ev.Kv.Key)] = struct{}{}
			case clientv3.EventTypeDelete:
				delete(ready, string(ev.Kv.Key))
			}
		}
		r.logger.Debug("nodes ready", zap.Int("ready", len(ready)), zap.Int("want", n))
		if len(ready) >= n {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("registry: watch closed")
}
