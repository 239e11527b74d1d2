package chainobs

import (
	"context"
	"math/big"
	"sync"

	"github.com/nockbridge/bridge-go/common"
)

// SimulatedObserver produces a deterministic advancing chain. Used by
// tests and by local runs without a live RPC endpoint.
type SimulatedObserver struct {
	chain string

	mu       sync.Mutex
	height   *big.Int
	balance  *big.Int
	pending  int
	failNext error // when set, the next Observe returns it once

	// BlockStep advances the height per observation; 0 freezes the chain
	// to simulate a stalled source.
	BlockStep int64
}

func NewSimulatedObserver(chain string, startHeight, startBalance int64) *SimulatedObserver {
	return &SimulatedObserver{
		chain:     chain,
		height:    big.NewInt(startHeight),
		balance:   big.NewInt(startBalance),
		pending:   3,
		BlockStep: 1,
	}
}

func (o *SimulatedObserver) ChainID() string {
	return o.chain
}

// SetBalance lets a test move the bridge balance between observations.
func (o *SimulatedObserver) SetBalance(v int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.balance = big.NewInt(v)
}

// FailNext makes the next Observe call fail once with err wrapped in
// ErrUpstreamUnavailable.
func (o *SimulatedObserver) FailNext(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failNext = err
}

func (o *SimulatedObserver) Observe(_ context.Context) (*Observation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.failNext != nil {
		err := o.failNext
		o.failNext = nil
		return nil, errUpstream(o.chain, err)
	}

	o.height = new(big.Int).Add(o.height, big.NewInt(o.BlockStep))
	return &Observation{
		Chain:          o.chain,
		BlockHeight:    new(big.Int).Set(o.height),
		BlockTime:      common.NowMillis(),
		BridgeBalance:  new(big.Int).Set(o.balance),
		PendingCount:   o.pending,
		ValidatorCount: 21,
	}, nil
}
