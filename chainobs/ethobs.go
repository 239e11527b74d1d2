package chainobs

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const defaultCallTimeout = 10 * time.Second

type ethereumClient interface {
	ethereum.ChainReader
	ethereum.ChainStateReader
	ethereum.PendingStateReader
}

type EthObserverConfig struct {
	Chain string
	URL   string
	// BridgeAddress is the account holding the bridge's funds on this
	// chain; its balance is the bridge balance.
	BridgeAddress string
	CallTimeout   time.Duration
}

// EthObserver reads an EVM-compatible chain over json-rpc. Every call is
// bounded by the configured timeout so a stuck RPC cannot hold a poller
// past its tick.
type EthObserver struct {
	chain         string
	client        ethereumClient
	bridgeAddress ethcommon.Address
	callTimeout   time.Duration
}

func NewEthObserver(cfg *EthObserverConfig) (*EthObserver, error) {
	client, err := ethclient.Dial(cfg.URL)
	if err != nil {
		return nil, errUpstream(cfg.Chain, err)
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	return &EthObserver{
		chain:         cfg.Chain,
		client:        client,
		bridgeAddress: ethcommon.HexToAddress(cfg.BridgeAddress),
		callTimeout:   timeout,
	}, nil
}

func (o *EthObserver) ChainID() string {
	return o.chain
}

func (o *EthObserver) Observe(ctx context.Context) (*Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	header, err := o.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errUpstream(o.chain, err)
	}

	balance, err := o.client.BalanceAt(ctx, o.bridgeAddress, header.Number)
	if err != nil {
		return nil, errUpstream(o.chain, err)
	}

	pending, err := o.client.PendingTransactionCount(ctx)
	if err != nil {
		return nil, errUpstream(o.chain, err)
	}

	return &Observation{
		Chain:         o.chain,
		BlockHeight:   new(big.Int).Set(header.Number),
		BlockTime:     int64(header.Time) * 1000,
		BridgeBalance: balance,
		PendingCount:  int(pending),
		// EVM chains expose no validator count over plain json-rpc;
		// left 0 rather than invented
		ValidatorCount: 0,
	}, nil
}
