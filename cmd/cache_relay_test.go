package cmd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nockbridge/bridge-go/chainobs"
	"github.com/nockbridge/bridge-go/database"
	"github.com/nockbridge/bridge-go/monitor"
	"github.com/nockbridge/bridge-go/notifier"
	"github.com/nockbridge/bridge-go/statesync"
	"github.com/nockbridge/bridge-go/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	bridge []*store.BridgeMetrics
	chains []*store.ChainMetrics
	heads  []*store.ChainState
}

func (p *recordingPublisher) PublishBridgeMetrics(_ context.Context, s *store.BridgeMetrics) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bridge = append(p.bridge, s)
	return nil
}

func (p *recordingPublisher) PublishChainMetrics(_ context.Context, s *store.ChainMetrics) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chains = append(p.chains, s)
	return nil
}

func (p *recordingPublisher) PublishChainHead(_ context.Context, cs *store.ChainState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heads = append(p.heads, cs)
	return nil
}

func newRelayFixture(t *testing.T) (*monitor.Monitor, *statesync.Synchronizer) {
	db, err := database.OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := store.New(db, nil)
	require.NoError(t, err)

	require.NoError(t, st.PutChainState(store.RandChainState("nockchain", 1)))
	require.NoError(t, st.PutChainState(store.RandChainState("solana", 1)))

	sy, err := statesync.New(st, &statesync.Config{SourceChain: "nockchain", DestChain: "solana"})
	require.NoError(t, err)

	src := chainobs.NewSimulatedObserver("nockchain", 100, 1000)
	dst := chainobs.NewSimulatedObserver("solana", 200, 1000)
	mon, err := monitor.New(st, sy, []chainobs.Observer{src, dst}, notifier.Nop{},
		&monitor.Config{SourceChain: "nockchain", DestChain: "solana"})
	require.NoError(t, err)

	return mon, sy
}

func TestCacheRelayPublishesView(t *testing.T) {
	mon, sy := newRelayFixture(t)
	ctx := context.Background()

	_, err := mon.CollectChainMetrics(ctx, "nockchain")
	require.NoError(t, err)
	_, err = mon.CollectBridgeMetrics(ctx)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	relay := newCacheRelay(pub, mon, sy, []string{"nockchain", "solana"}, time.Second)
	relay.publishOnce(ctx)

	assert.Len(t, pub.bridge, 1)
	assert.Len(t, pub.chains, 1)
	assert.Len(t, pub.heads, 2)
}

// Before any collection the relay has nothing to say; it must publish
// nothing rather than empty payloads.
func TestCacheRelaySkipsEmptyView(t *testing.T) {
	mon, sy := newRelayFixture(t)

	pub := &recordingPublisher{}
	relay := newCacheRelay(pub, mon, sy, []string{"nockchain", "solana"}, time.Second)
	relay.publishOnce(context.Background())

	assert.Len(t, pub.bridge, 0)
	assert.Len(t, pub.chains, 0)
	// chain heads come from the recovered store state and are available
	assert.Len(t, pub.heads, 2)
}

func TestCacheRelayLoopStops(t *testing.T) {
	mon, sy := newRelayFixture(t)

	relay := newCacheRelay(&recordingPublisher{}, mon, sy, []string{"nockchain"}, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- relay.Loop(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay loop did not stop")
	}
}
