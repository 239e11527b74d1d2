package statesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nockbridge/bridge-go/chainobs"
)

func TestPollerFeedsChannel(t *testing.T) {
	out := make(chan *ChainObservation, 8)
	obs := chainobs.NewSimulatedObserver("nockchain", 100, 1000)
	p := NewPoller([]chainobs.Observer{obs}, out, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	var got []*ChainObservation
	deadline := time.After(time.Second)
	for len(got) < 3 {
		select {
		case o := <-out:
			got = append(got, o)
		case <-deadline:
			t.Fatal("poller produced too few observations")
		}
	}
	cancel()
	<-done

	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, "nockchain", got[0].Chain)
	// heights advance monotonically across polls
	assert.Equal(t, 1, got[1].BlockHeight.Cmp(got[0].BlockHeight))
	assert.NotZero(t, got[0].ObservedAt)
}

func TestPollerSkipsFailedReads(t *testing.T) {
	out := make(chan *ChainObservation, 8)
	obs := chainobs.NewSimulatedObserver("nockchain", 100, 1000)
	obs.FailNext(assert.AnError)
	p := NewPoller([]chainobs.Observer{obs}, out, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p.Start(ctx)

	// first read failed silently; later reads still arrived
	require.NotEmpty(t, out)
	first := <-out
	assert.Equal(t, int64(101), first.BlockHeight.Int64())
}
