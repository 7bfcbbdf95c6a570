package gossip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	To Peer
	D  Delivery
}

type recordingTransport struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
}

func (t *recordingTransport) Deliver(ctx context.Context, to Peer, d Delivery) (Ack, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call{To: to, D: d})
	if err := t.fail[to.ID]; err != nil {
		return Ack{}, err
	}
	return Ack{Details: "ok"}, nil
}

func (t *recordingTransport) targets() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.calls))
	for _, c := range t.calls {
		out = append(out, c.To.ID)
	}
	return out
}

type countingObserver struct {
	mu          sync.Mutex
	started     int
	finished    int
	unreachable []string
}

func (o *countingObserver) FanoutStarted() {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *countingObserver) FanoutFinished(time.Duration) {
	o.mu.Lock()
	o.finished++
	o.mu.Unlock()
}

func (o *countingObserver) PeerUnreachable(p Peer, _ error) {
	o.mu.Lock()
	o.unreachable = append(o.unreachable, p.ID)
	o.mu.Unlock()
}

func newTestNode(t *testing.T, cfg Config) *Node {
	t.Helper()
	n, err := NewNode(cfg)
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n
}

func neighbors(ids ...string) []Peer {
	out := make([]Peer, len(ids))
	for i, id := range ids {
		out[i] = Peer{ID: id, Addr: id + ":5050"}
	}
	return out
}

func TestDeliver_DuplicateDoesNotForward(t *testing.T) {
	tr := &recordingTransport{}
	rec := &Recorder{}
	obs := &countingObserver{}
	n := newTestNode(t, Config{ID: "n", Neighbors: neighbors("a", "b", "c"), Transport: tr, Sink: rec, Observer: obs})

	d := Delivery{Message: Message{ID: "M1"}, SenderID: "a", SentAt: time.Now()}
	_, err := n.Deliver(context.Background(), d)
	require.NoError(t, err)
	n.Wait()

	ack, err := n.Deliver(context.Background(), d)
	require.NoError(t, err)
	n.Wait()

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, Received, events[0].Kind)
	assert.NotNil(t, events[0].PropagationTimeMs)
	assert.Equal(t, Duplicate, events[1].Kind)
	assert.Nil(t, events[1].PropagationTimeMs)
	assert.Equal(t, events[1].Detail, ack.Details)

	assert.ElementsMatch(t, []string{"b", "c"}, tr.targets())
	assert.Equal(t, 1, obs.started)
	assert.Equal(t, 1, obs.finished)
}

func TestDeliver_InitiateOnlyOnFirstSelfDelivery(t *testing.T) {
	tr := &recordingTransport{}
	rec := &Recorder{}
	n := newTestNode(t, Config{ID: "0", Neighbors: neighbors("1", "3"), Transport: tr, Sink: rec})

	d := Delivery{Message: Message{ID: "M1", Origin: "0"}, SenderID: "0", SentAt: time.Now()}
	_, err := n.Deliver(context.Background(), d)
	require.NoError(t, err)
	_, err = n.Deliver(context.Background(), d)
	require.NoError(t, err)
	n.Wait()

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, Initiate, events[0].Kind)
	assert.Equal(t, Duplicate, events[1].Kind)
	assert.ElementsMatch(t, []string{"1", "3"}, tr.targets())
	assert.False(t, n.Status().Initiating)
	assert.True(t, n.Has("M1"))
}

func TestDeliver_ConcurrentFirstDeliveriesFanOutOnce(t *testing.T) {
	tr := &recordingTransport{}
	tracker := NewTracker()
	n := newTestNode(t, Config{ID: "n", Neighbors: neighbors("a", "b"), Transport: tr, Sink: tracker})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := n.Deliver(context.Background(), Delivery{Message: Message{ID: "M"}, SenderID: "x", SentAt: time.Now()})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	n.Wait()

	assert.Equal(t, 1, tracker.Arrivals("M"))
	assert.Equal(t, 49, tracker.Duplicates("M"))
	assert.ElementsMatch(t, []string{"a", "b"}, tr.targets())
}

func TestDeliver_PropagationTimeFromSentAt(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &Recorder{}
	n := newTestNode(t, Config{ID: "n", Transport: &recordingTransport{}, Sink: rec, Clock: mock})

	_, err := n.Deliver(context.Background(), Delivery{
		Message:   Message{ID: "M1"},
		SenderID:  "a",
		SentAt:    mock.Now().Add(-15 * time.Millisecond),
		LatencyMs: 15,
	})
	require.NoError(t, err)
	n.Wait()

	events := rec.Events()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].PropagationTimeMs)
	assert.InDelta(t, 15.0, *events[0].PropagationTimeMs, 1e-9)
	assert.Equal(t, 15.0, events[0].LatencyMs)
	assert.Equal(t, "n", events[0].ReceiverID)
	assert.Equal(t, mock.Now(), events[0].ReceivedAt)
}

func TestDeliver_UnreachablePeerDoesNotStopFanout(t *testing.T) {
	for _, mode := range []FanoutMode{Parallel, Sequential} {
		t.Run(string(mode), func(t *testing.T) {
			tr := &recordingTransport{fail: map[string]error{"b": errors.New("connection refused")}}
			obs := &countingObserver{}
			n := newTestNode(t, Config{ID: "n", Neighbors: neighbors("a", "b", "c"), Transport: tr, Observer: obs, Mode: mode})

			_, err := n.Deliver(context.Background(), Delivery{Message: Message{ID: "M"}, SenderID: "n", SentAt: time.Now()})
			require.NoError(t, err)
			n.Wait()

			assert.ElementsMatch(t, []string{"a", "b", "c"}, tr.targets())
			assert.Equal(t, []string{"b"}, obs.unreachable)
		})
	}
}

func TestDeliver_SendStampsSenderAndLatency(t *testing.T) {
	tr := &recordingTransport{}
	n := newTestNode(t, Config{ID: "n", Neighbors: []Peer{{ID: "a", LatencyMs: 1}}, Transport: tr})

	before := time.Now()
	_, err := n.Deliver(context.Background(), Delivery{Message: Message{ID: "M", Origin: "z"}, SenderID: "z", SentAt: before})
	require.NoError(t, err)
	n.Wait()

	require.Len(t, tr.calls, 1)
	c := tr.calls[0]
	assert.Equal(t, "n", c.D.SenderID)
	assert.Equal(t, 1.0, c.D.LatencyMs)
	assert.Equal(t, "z", c.D.Message.Origin)
	assert.True(t, c.D.SentAt.Sub(before) >= time.Millisecond)
}

func TestDeliver_Invalid(t *testing.T) {
	n := newTestNode(t, Config{ID: "n", Transport: &recordingTransport{}})

	_, err := n.Deliver(context.Background(), Delivery{SenderID: "a"})
	assert.True(t, errors.Is(err, ErrInvalidDelivery))
	_, err = n.Deliver(context.Background(), Delivery{Message: Message{ID: "M"}})
	assert.True(t, errors.Is(err, ErrInvalidDelivery))
}

func TestDeliver_AfterClose(t *testing.T) {
	n, err := NewNode(Config{ID: "n", Transport: &recordingTransport{}})
	require.NoError(t, err)
	n.Close()

	_, err = n.Deliver(context.Background(), Delivery{Message: Message{ID: "M"}, SenderID: "a"})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestClose_AbortsPendingDelays(t *testing.T) {
	tr := &recordingTransport{}
	n, err := NewNode(Config{ID: "n", Neighbors: []Peer{{ID: "a", LatencyMs: 60_000}}, Transport: tr})
	require.NoError(t, err)

	_, err = n.Deliver(context.Background(), Delivery{Message: Message{ID: "M"}, SenderID: "n"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		n.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not abort the pending link delay")
	}
	assert.Empty(t, tr.targets())
}

func TestNewNode_Validation(t *testing.T) {
	_, err := NewNode(Config{Transport: &recordingTransport{}})
	assert.Error(t, err)
	_, err = NewNode(Config{ID: "n"})
	assert.Error(t, err)
	_, err = NewNode(Config{ID: "n", Transport: &recordingTransport{}, Neighbors: neighbors("n")})
	assert.Error(t, err)
	_, err = NewNode(Config{ID: "n", Transport: &recordingTransport{}, Mode: "bogus"})
	assert.Error(t, err)
}

// hangingTransport never answers calls to the peers in hang; it returns only
// when the caller's context ends.
type hangingTransport struct {
	recordingTransport
	hang map[string]bool
	at   sync.Map
}

func (t *hangingTransport) Deliver(ctx context.Context, to Peer, d Delivery) (Ack, error) {
	if t.hang[to.ID] {
		<-ctx.Done()
		return Ack{}, ctx.Err()
	}
	t.at.Store(to.ID, time.Now())
	return t.recordingTransport.Deliver(ctx, to, d)
}

func TestDeliver_HungPeerBoundedByCallTimeout(t *testing.T) {
	const timeout = 100 * time.Millisecond
	tr := &hangingTransport{hang: map[string]bool{"b": true}}
	obs := &countingObserver{}
	peers := []Peer{{ID: "b", Addr: "b:5050", LatencyMs: 5}, {ID: "c", Addr: "c:5050", LatencyMs: 5}}
	n := newTestNode(t, Config{ID: "n", Neighbors: peers, Transport: tr, Observer: obs, Mode: Sequential, CallTimeout: timeout})

	start := time.Now()
	_, err := n.Deliver(context.Background(), Delivery{Message: Message{ID: "M"}, SenderID: "n", SentAt: start})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := tr.at.Load("c")
		return ok
	}, 2*time.Second, 5*time.Millisecond, "c never received while b hung")
	n.Wait()

	v, _ := tr.at.Load("c")
	elapsed := v.(time.Time).Sub(start)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"b"}, obs.unreachable)
	assert.Equal(t, 1, obs.finished)
}

// gatedTransport blocks calls for gated messages until release is closed.
type gatedTransport struct {
	recordingTransport
	gated   string
	release chan struct{}
}

func (t *gatedTransport) Deliver(ctx context.Context, to Peer, d Delivery) (Ack, error) {
	if d.Message.ID == t.gated {
		select {
		case <-t.release:
		case <-ctx.Done():
			return Ack{}, ctx.Err()
		}
	}
	return t.recordingTransport.Deliver(ctx, to, d)
}

func TestWaitMessage_IgnoresOtherMessages(t *testing.T) {
	tr := &gatedTransport{gated: "slow", release: make(chan struct{})}
	n := newTestNode(t, Config{ID: "n", Neighbors: neighbors("a"), Transport: tr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := n.Deliver(ctx, Delivery{Message: Message{ID: "slow"}, SenderID: "n"})
	require.NoError(t, err)
	_, err = n.Deliver(ctx, Delivery{Message: Message{ID: "fast"}, SenderID: "n"})
	require.NoError(t, err)

	require.NoError(t, n.WaitMessage(ctx, "fast"))
	assert.Equal(t, []string{"a"}, tr.targets())

	short, cancelShort := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancelShort()
	assert.ErrorIs(t, n.WaitMessage(short, "slow"), context.DeadlineExceeded)

	close(tr.release)
	require.NoError(t, n.WaitMessage(ctx, "slow"))
	assert.ElementsMatch(t, []string{"a", "a"}, tr.targets())
	n.Wait()
}

func TestWait_ConcurrentWithDeliveries(t *testing.T) {
	tr := &recordingTransport{}
	n := newTestNode(t, Config{ID: "n", Neighbors: neighbors("a", "b"), Transport: tr})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := n.Deliver(context.Background(), Delivery{Message: Message{ID: string(rune('A' + i))}, SenderID: "a"})
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			n.Wait()
		}()
	}
	wg.Wait()
	n.Wait()
	assert.Len(t, tr.targets(), 20)
}

func TestDeliver_SelfAfterPeerIsDuplicate(t *testing.T) {
	tr := &recordingTransport{}
	rec := &Recorder{}
	n := newTestNode(t, Config{ID: "n", Neighbors: neighbors("a", "b"), Transport: tr, Sink: rec})

	_, err := n.Deliver(context.Background(), Delivery{Message: Message{ID: "M"}, SenderID: "a"})
	require.NoError(t, err)
	_, err = n.Deliver(context.Background(), Delivery{Message: Message{ID: "M"}, SenderID: "n"})
	require.NoError(t, err)
	n.Wait()

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, Received, events[0].Kind)
	assert.Equal(t, Duplicate, events[1].Kind)
	assert.Equal(t, []string{"b"}, tr.targets())
	assert.False(t, n.Status().Initiating)
}
