package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "/gossip/nodes/3", Key("/gossip/nodes", "3"))
	assert.Equal(t, "/gossip/nodes/3", Key("/gossip/nodes//", "3"))
	assert.Equal(t, "/gossip/nodes/", Prefix("/gossip/nodes"))
}

func TestDial_NoEndpoints(t *testing.T) {
	_, err := Dial(nil, 0)
	assert.Error(t, err)
}

// Runs against a live etcd when GOSSIP_TEST_ETCD lists endpoints.
func TestRegistry_WaitReady(t *testing.T) {
	endpoints := os.Getenv("GOSSIP_TEST_ETCD")
	if endpoints == "" {
		t.Skip("GOSSIP_TEST_ETCD not set")
	}
	cli, err := Dial(strings.Split(endpoints, ","), 5*time.Second)
	require.NoError(t, err)
	defer cli.Close()

	prefix := "/gossip-test/" + t.Name() + "/" + time.Now().Format("150405.000000")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	waiter := New(cli, prefix, 5, nil)
	done := make(chan error, 1)
	go func() { done <- waiter.WaitReady(ctx, 3) }()

	var regs []*Registry
	for _, id := range []string{"0", "1", "2"} {
		r := New(cli, prefix, 5, nil)
		require.NoError(t, r.Register(ctx, id, "127.0.0.1:50"+id))
		regs = append(regs, r)
	}
	require.NoError(t, <-done)

	n, err := waiter.CountReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ready, err := waiter.Ready(ctx)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:501", ready["1"])

	for _, r := range regs {
		require.NoError(t, r.Deregister(ctx))
	}
	n, err = waiter.CountReady(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
