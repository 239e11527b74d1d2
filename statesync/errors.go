package statesync

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/nockbridge/bridge-go/store"
)

var (
	ErrObservationInvalid = errors.New("observation is missing chain, height or balance")
	ErrAmountInvalid      = errors.New("transaction amount invalid")
	ErrChainUnknown       = errors.New("chain is not a side of this bridge")
)

func ErrStaleObservation(chain string, held, observed *big.Int) error {
	return fmt.Errorf("stale observation for %s: held height=%v observed=%v", chain, held, observed)
}

func ErrTerminalTransition(id string, from, to store.TxStatus) error {
	return fmt.Errorf("transaction %s: illegal transition %s -> %s", id, from, to)
}
