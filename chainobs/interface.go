// Chain observation sources. A source supplies block height, block time,
// pending/validator counts and the bridge-held balance on demand. Sources
// are untrusted and possibly stale or unreachable; callers degrade rather
// than crash when one fails.
package chainobs

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

var ErrUpstreamUnavailable = errors.New("chain observation source unavailable")

func errUpstream(chain string, err error) error {
	return fmt.Errorf("%w: chain=%s: %v", ErrUpstreamUnavailable, chain, err)
}

// Observation is a raw chain reading, before any monotone guard.
type Observation struct {
	Chain          string
	BlockHeight    *big.Int
	BlockTime      int64 // unix millis of the head block
	BridgeBalance  *big.Int
	PendingCount   int
	ValidatorCount int
}

type Observer interface {
	ChainID() string
	// Observe fetches the chain's current bridge-relevant reading. All
	// network calls honor ctx; failures come back wrapped in
	// ErrUpstreamUnavailable.
	Observe(ctx context.Context) (*Observation, error)
}
