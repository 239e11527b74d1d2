package monitor

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/store"
)

// Run drives all monitoring loops until ctx is cancelled: one chain
// poller per observer, the bridge sampler, alert maintenance, baseline
// recalculation, the periodic broadcast flush, and the synchronizer event
// consumer. Every loop owns its ticker, so a stalled chain RPC delays
// only its own chain's samples.
func (m *Monitor) Run(ctx context.Context) error {
	logger.Info("starting realtime monitor")
	defer logger.Info("stopping realtime monitor")

	var wg sync.WaitGroup

	for chain := range m.observers {
		wg.Add(1)
		go func(chain string) {
			defer wg.Done()
			m.tickEvery(ctx, m.cfg.ChainInterval, func() {
				if _, err := m.CollectChainMetrics(ctx, chain); err != nil {
					logger.WithFields(logger.Fields{"chain": chain, "error": err}).Error("chain metrics collection failed")
				}
			})
		}(chain)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.tickEvery(ctx, m.cfg.BridgeInterval, func() {
			if _, err := m.CollectBridgeMetrics(ctx); err != nil {
				logger.WithField("error", err).Warn("bridge metrics collection failed")
			}
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.tickEvery(ctx, m.cfg.MaintenanceInterval, m.pruneAlerts)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.tickEvery(ctx, m.cfg.BaselineInterval, m.recalcBaselines)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.tickEvery(ctx, m.cfg.BroadcastInterval, m.flushSnapshot)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.consumeSyncEvents(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// tickEvery runs fn on a fixed interval. fn is responsible for catching
// its own failures; a bad tick never stops the loop.
func (m *Monitor) tickEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// flushSnapshot pushes the current full picture to subscribers as a
// keep-alive refresh between incremental events.
func (m *Monitor) flushSnapshot() {
	if m.hub.SubscriberCount() == 0 {
		return
	}
	snap, err := m.Snapshot()
	if err != nil {
		logger.WithField("error", err).Error("snapshot flush failed")
		return
	}
	m.hub.Broadcast(Event{Type: EventMetricsUpdated, Data: snap})
}

// consumeSyncEvents relays synchronizer events to subscribers and turns
// inconsistency reports into alerts. A consistency violation always
// produces an alert.
func (m *Monitor) consumeSyncEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-m.sync.StateUpdatedEvents():
			m.hub.Broadcast(Event{Type: EventStateUpdated, Data: ev.State})

		case ev := <-m.sync.TransactionUpdatedEvents():
			m.hub.Broadcast(Event{Type: EventTransactionUpdated, Data: ev.Tx})
			if ev.Tx.Status == store.TxStatusFailed && ev.Previous != store.TxStatusFailed {
				m.raiseRule(store.AlertTransactionFailure, store.SeverityMedium, ev.Tx.SourceChain,
					"cross-chain transfer failed",
					map[string]interface{}{"tx_id": ev.Tx.ID})
			}

		case ev := <-m.sync.InconsistencyEvents():
			if _, err := m.CreateAlert(store.AlertStateInconsistency, store.SeverityHigh, "bridge",
				ev.Message, map[string]interface{}{
					"kind":   string(ev.Kind),
					"chains": ev.Chains,
					"tx_id":  ev.TxID,
				}); err != nil {
				logger.WithField("error", err).Error("failed to alert on inconsistency")
			}
		}
	}
}
