package statesync

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/chainobs"
	"github.com/nockbridge/bridge-go/common"
)

const defaultPollInterval = 10 * time.Second

// Poller drives one observer per chain on a fixed interval and feeds the
// readings into the synchronizer's observation channel. Failed reads are
// logged and skipped; the monitor sees the gap through its own collection
// path, so the poller never retries eagerly.
type Poller struct {
	observers []chainobs.Observer
	out       chan<- *ChainObservation
	interval  time.Duration
}

func NewPoller(observers []chainobs.Observer, out chan<- *ChainObservation, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{observers: observers, out: out, interval: interval}
}

// Start runs one polling loop per observer and blocks until ctx is
// cancelled and all loops have drained.
func (p *Poller) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, obs := range p.observers {
		wg.Add(1)
		go func(obs chainobs.Observer) {
			defer wg.Done()
			p.pollLoop(ctx, obs)
		}(obs)
	}
	wg.Wait()
}

func (p *Poller) pollLoop(ctx context.Context, obs chainobs.Observer) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx, obs)
	for {
		select {
		case <-ctx.Done():
			logger.WithField("chain", obs.ChainID()).Info("poller stopped")
			return
		case <-ticker.C:
			p.pollOnce(ctx, obs)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, obs chainobs.Observer) {
	reading, err := obs.Observe(ctx)
	if err != nil {
		logger.WithFields(logger.Fields{"chain": obs.ChainID(), "error": err}).Warn("chain poll failed")
		return
	}

	o := &ChainObservation{
		Chain:          reading.Chain,
		BlockHeight:    reading.BlockHeight,
		BlockTime:      reading.BlockTime,
		BridgeBalance:  reading.BridgeBalance,
		PendingCount:   reading.PendingCount,
		ValidatorCount: reading.ValidatorCount,
		ObservedAt:     common.NowMillis(),
	}

	select {
	case p.out <- o:
	case <-ctx.Done():
	default:
		logger.WithField("chain", o.Chain).Warn("observation channel full, reading dropped")
	}
}
