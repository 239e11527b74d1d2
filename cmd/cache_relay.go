// Relay = latest monitor/synchronizer view -> shared coordination cache.
// Peer processes read the bridge through redis instead of hitting the
// http reporter.

package cmd

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/monitor"
	"github.com/nockbridge/bridge-go/statesync"
	"github.com/nockbridge/bridge-go/store"
)

// cachePublisher is the slice of the coordination cache the relay needs.
type cachePublisher interface {
	PublishBridgeMetrics(ctx context.Context, sample *store.BridgeMetrics) error
	PublishChainMetrics(ctx context.Context, sample *store.ChainMetrics) error
	PublishChainHead(ctx context.Context, cs *store.ChainState) error
}

type cacheRelay struct {
	pub    cachePublisher
	mon    *monitor.Monitor
	sync   *statesync.Synchronizer
	chains []string
	every  time.Duration
}

func newCacheRelay(pub cachePublisher, mon *monitor.Monitor, sy *statesync.Synchronizer, chains []string, every time.Duration) *cacheRelay {
	return &cacheRelay{pub: pub, mon: mon, sync: sy, chains: chains, every: every}
}

// Loop publishes the latest view on a fixed cadence until ctx is done.
// Publish failures are logged and retried next tick; the cache is a
// convenience, never a dependency.
func (r *cacheRelay) Loop(ctx context.Context) error {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.publishOnce(ctx)
		}
	}
}

func (r *cacheRelay) publishOnce(ctx context.Context) {
	snap, err := r.mon.Snapshot()
	if err != nil {
		logger.Warnf("cache relay: snapshot failed: %v", err)
		return
	}

	if snap.BridgeMetrics != nil {
		if err := r.pub.PublishBridgeMetrics(ctx, snap.BridgeMetrics); err != nil {
			logger.Warnf("cache relay: bridge metrics publish failed: %v", err)
		}
	}
	for _, sample := range snap.ChainMetrics {
		if err := r.pub.PublishChainMetrics(ctx, sample); err != nil {
			logger.Warnf("cache relay: chain metrics publish failed: %v", err)
		}
	}
	for _, chain := range r.chains {
		cs, ok := r.sync.GetChainState(chain)
		if !ok {
			continue
		}
		if err := r.pub.PublishChainHead(ctx, cs); err != nil {
			logger.Warnf("cache relay: chain head publish failed: %v", err)
		}
	}
}
