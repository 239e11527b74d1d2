package statesync

import (
	"math/big"

	"github.com/nockbridge/bridge-go/store"
)

// ChainObservation is one poller's view of a chain, handed to the
// synchronizer over its observation channel. Pollers are untrusted; the
// synchronizer applies the monotone guard before anything is persisted.
type ChainObservation struct {
	Chain          string
	BlockHeight    *big.Int
	BlockTime      int64 // unix millis of the head block
	BridgeBalance  *big.Int
	PendingCount   int
	ValidatorCount int
	ObservedAt     int64
}

// TxUpdate requests a transaction status transition (or creation, when the
// id is unknown).
type TxUpdate struct {
	ID          string
	SourceChain string
	DestChain   string
	Amount      *big.Int
	Status      store.TxStatus
	SourceTxRef string
	DestTxRef   string
}

type StateUpdatedEvent struct {
	State *store.ChainState
}

type TransactionUpdatedEvent struct {
	Tx       *store.TransactionState
	Previous store.TxStatus // empty on creation
}

type InconsistencyKind string

const (
	InconsistencyPendingTimeout InconsistencyKind = "pending_timeout"
	InconsistencyBalanceDrift   InconsistencyKind = "balance_drift"
)

// InconsistencyEvent flags divergence between the two chains or a stuck
// transfer. Consumed by the monitor; never silently dropped there.
type InconsistencyEvent struct {
	Kind       InconsistencyKind
	Chains     []string
	TxID       string
	Message    string
	DetectedAt int64
}
