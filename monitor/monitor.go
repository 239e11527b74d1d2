package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/chainobs"
	"github.com/nockbridge/bridge-go/common"
	"github.com/nockbridge/bridge-go/notifier"
	"github.com/nockbridge/bridge-go/statesync"
	"github.com/nockbridge/bridge-go/store"
)

const dailyWindowMs = 24 * 60 * 60 * 1000

func ErrChainStateUnavailable(chain string) error {
	return fmt.Errorf("bridge metrics need both chains: no current state for %s", chain)
}

var ErrObserverUnknown = errors.New("no observer registered for chain")

// Monitor derives health and risk signals from chain and bridge state,
// owns the alert lifecycle, and pushes every change to realtime
// subscribers. It is the only writer to the alerts and metrics regions.
type Monitor struct {
	st    *store.Store
	sync  *statesync.Synchronizer
	notif notifier.Notifier
	hub   *Hub
	cfg   *Config

	observers map[string]chainobs.Observer

	mu           sync.Mutex
	open         map[alertKey]*openAlert
	lastRaised   map[alertKey]int64
	lastHeight   map[string]*big.Int
	lastBlock    map[string]int64 // chain -> head block time millis
	lastAdvance  map[string]int64 // chain -> when the height last moved
	staleFlagged map[string]bool
	failingSince map[string]int64 // chain -> when failed polls began
	baselines    map[string]float64 // chain -> baseline inter-block millis
	latestChain  map[string]*store.ChainMetrics
	latestBridge *store.BridgeMetrics
}

func New(st *store.Store, sy *statesync.Synchronizer, observers []chainobs.Observer, notif notifier.Notifier, cfg *Config) (*Monitor, error) {
	if notif == nil {
		notif = notifier.Nop{}
	}

	m := &Monitor{
		st:           st,
		sync:         sy,
		notif:        notif,
		hub:          NewHub(),
		cfg:          cfg.withDefaults(),
		observers:    make(map[string]chainobs.Observer),
		open:         make(map[alertKey]*openAlert),
		lastRaised:   make(map[alertKey]int64),
		lastHeight:   make(map[string]*big.Int),
		lastBlock:    make(map[string]int64),
		lastAdvance:  make(map[string]int64),
		staleFlagged: make(map[string]bool),
		failingSince: make(map[string]int64),
		baselines:    make(map[string]float64),
		latestChain:  make(map[string]*store.ChainMetrics),
	}
	for _, obs := range observers {
		m.observers[obs.ChainID()] = obs
	}

	// resume the open-alert index across restarts
	active, err := st.GetActiveAlerts()
	if err != nil {
		return nil, err
	}
	for _, a := range active {
		m.open[alertKey{a.Type, a.Origin}] = &openAlert{id: a.ID, raisedAt: a.CreatedAt}
	}
	promOpenAlerts.Set(float64(len(active)))

	return m, nil
}

func (m *Monitor) Hub() *Hub {
	return m.hub
}

// CollectChainMetrics polls one chain, derives a sample, persists it and
// runs the chain rules. On upstream failure it returns a best-effort
// sample tagged with error status instead of failing: monitoring has to
// survive source flakiness.
func (m *Monitor) CollectChainMetrics(ctx context.Context, chain string) (*store.ChainMetrics, error) {
	obs, ok := m.observers[chain]
	if !ok {
		return nil, ErrObserverUnknown
	}

	now := common.NowMillis()
	reading, err := obs.Observe(ctx)

	var sample *store.ChainMetrics
	if err != nil {
		promCollectFailures.WithLabelValues(chain).Inc()
		logger.WithFields(logger.Fields{"chain": chain, "error": err}).Warn("chain observation failed")

		sample = &store.ChainMetrics{
			Chain:       chain,
			BlockHeight: m.heldHeight(chain),
			SyncStatus:  store.SyncStatusError,
			Timestamp:   now,
		}

		// a single blip is not a stale chain; the alert waits until the
		// view has been frozen past the sync-delay threshold
		m.mu.Lock()
		ref := m.lastAdvance[chain]
		if ref == 0 {
			if m.failingSince[chain] == 0 {
				m.failingSince[chain] = now
			}
			ref = m.failingSince[chain]
		}
		m.mu.Unlock()
		if now-ref > m.cfg.Thresholds.SyncDelay.Milliseconds() {
			m.flagStale(chain, now, "chain observation source unreachable")
		}
	} else {
		m.mu.Lock()
		delete(m.failingSince, chain)
		m.mu.Unlock()
		sample = m.deriveChainSample(chain, reading, now)
	}

	if err := m.st.SaveMetrics(store.MetricsKindChain(chain), sample.Timestamp, sample); err != nil {
		logger.WithFields(logger.Fields{"chain": chain, "error": err}).Error("failed to persist chain metrics")
	}

	m.mu.Lock()
	m.latestChain[chain] = sample
	m.mu.Unlock()

	promChainSyncStatus.WithLabelValues(chain).Set(boolToGauge(sample.SyncStatus == store.SyncStatusSynced))
	if sample.BlockHeight != nil {
		promChainHeight.WithLabelValues(chain).Set(float64(sample.BlockHeight.Int64()))
	}

	m.hub.Broadcast(Event{Type: EventMetricsUpdated, Data: sample})
	return sample, nil
}

func (m *Monitor) deriveChainSample(chain string, reading *chainobs.Observation, now int64) *store.ChainMetrics {
	m.mu.Lock()
	prevHeight := m.lastHeight[chain]
	prevBlock := m.lastBlock[chain]
	lastAdvance := m.lastAdvance[chain]
	baseline := m.baselines[chain]
	m.mu.Unlock()

	sample := &store.ChainMetrics{
		Chain:          chain,
		BlockHeight:    reading.BlockHeight,
		PendingCount:   reading.PendingCount,
		ValidatorCount: reading.ValidatorCount,
		Timestamp:      now,
	}

	advanced := prevHeight == nil || reading.BlockHeight.Cmp(prevHeight) > 0

	switch {
	case prevHeight == nil:
		sample.SyncStatus = store.SyncStatusSyncing
	case advanced:
		sample.SyncStatus = store.SyncStatusSynced
	case now-lastAdvance > m.cfg.Thresholds.SyncDelay.Milliseconds():
		sample.SyncStatus = store.SyncStatusLagging
	default:
		sample.SyncStatus = store.SyncStatusSynced
	}

	if advanced && prevBlock > 0 && reading.BlockTime > prevBlock {
		sample.BlockTimeMs = reading.BlockTime - prevBlock
	}

	m.mu.Lock()
	m.lastHeight[chain] = reading.BlockHeight
	if advanced {
		m.lastBlock[chain] = reading.BlockTime
		m.lastAdvance[chain] = now
		m.staleFlagged[chain] = false
	}
	m.mu.Unlock()

	// rule: stalled chain, once per stale episode
	if sample.SyncStatus == store.SyncStatusLagging {
		m.flagStale(chain, now, "chain height has not advanced past the sync-delay threshold")
	}

	// rule: inter-block time far off its baseline
	if baseline > 0 && sample.BlockTimeMs > 0 {
		deviation := 100 * (float64(sample.BlockTimeMs) - baseline) / baseline
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > m.cfg.Thresholds.BlockTimeDeviationPct {
			m.raiseRule(store.AlertBlockTimeAnomaly, store.SeverityMedium, chain,
				fmt.Sprintf("block time %dms deviates %.0f%% from baseline %.0fms",
					sample.BlockTimeMs, deviation, baseline),
				map[string]interface{}{"block_time_ms": sample.BlockTimeMs, "baseline_ms": baseline})
		}
	}

	return sample
}

// flagStale raises one sync_delay alert per stale episode, not one per
// missed tick.
func (m *Monitor) flagStale(chain string, now int64, msg string) {
	m.mu.Lock()
	already := m.staleFlagged[chain]
	m.staleFlagged[chain] = true
	m.mu.Unlock()
	if already {
		return
	}

	m.raiseRule(store.AlertSyncDelay, store.SeverityHigh, chain, msg,
		map[string]interface{}{"flagged_at": now})
}

func (m *Monitor) heldHeight(chain string) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h := m.lastHeight[chain]; h != nil {
		return new(big.Int).Set(h)
	}
	return big.NewInt(0)
}

// CollectBridgeMetrics derives a whole-bridge sample. Unlike chain
// metrics this hard-fails when either chain's state is missing: bridge
// health is meaningless with one side dark.
func (m *Monitor) CollectBridgeMetrics(ctx context.Context) (*store.BridgeMetrics, error) {
	_, ok := m.sync.GetChainState(m.cfg.SourceChain)
	if !ok {
		return nil, ErrChainStateUnavailable(m.cfg.SourceChain)
	}
	dst, ok := m.sync.GetChainState(m.cfg.DestChain)
	if !ok {
		return nil, ErrChainStateUnavailable(m.cfg.DestChain)
	}

	now := common.NowMillis()

	counts, err := m.st.CountTransactions()
	if err != nil {
		return nil, err
	}
	confirmed, err := m.st.GetTransactionsByStatus(store.TxStatusConfirmed, 0)
	if err != nil {
		return nil, err
	}
	dayTxs, err := m.st.GetTransactionsSince(now - dailyWindowMs)
	if err != nil {
		return nil, err
	}

	totalVolume := big.NewInt(0)
	for _, tx := range confirmed {
		totalVolume.Add(totalVolume, tx.Amount)
	}

	dailyVolume := big.NewInt(0)
	var dayTotal, dayFailed, dayConfirmed int
	var processingSum int64
	for _, tx := range dayTxs {
		dayTotal++
		switch tx.Status {
		case store.TxStatusFailed:
			dayFailed++
		case store.TxStatusConfirmed:
			dayConfirmed++
			dailyVolume.Add(dailyVolume, tx.Amount)
			processingSum += tx.UpdatedAt - tx.CreatedAt
		}
	}

	var failureRate float64
	if dayTotal > 0 {
		failureRate = 100 * float64(dayFailed) / float64(dayTotal)
	}
	var avgProcessing int64
	if dayConfirmed > 0 {
		avgProcessing = processingSum / int64(dayConfirmed)
	}

	pendingVolume := big.NewInt(0)
	for _, tx := range m.sync.GetPendingTransactions() {
		pendingVolume.Add(pendingVolume, tx.Amount)
	}

	sample := &store.BridgeMetrics{
		TotalVolume:          totalVolume,
		DailyVolume:          dailyVolume,
		TotalTransactions:    counts.Total,
		PendingTransactions:  counts.Pending,
		FailedTransactions:   counts.Failed,
		AvgProcessingMs:      avgProcessing,
		LiquidityUtilization: liquidityUtilization(pendingVolume, dst.BridgeBalance),
		FeeRevenue:           feeRevenue(totalVolume, m.cfg.Thresholds.FeeRatePct),
		Timestamp:            now,
	}
	sample.HealthScore = m.healthScore(failureRate, counts.Pending, sample.LiquidityUtilization)

	if err := m.st.SaveMetrics(store.MetricsKindBridge, now, sample); err != nil {
		logger.WithField("error", err).Error("failed to persist bridge metrics")
	}

	m.mu.Lock()
	m.latestBridge = sample
	m.mu.Unlock()

	promHealthScore.Set(sample.HealthScore)
	promLiquidityUtilization.Set(sample.LiquidityUtilization)
	promPendingTransfers.Set(float64(counts.Pending))

	m.evaluateBridgeRules(sample, failureRate)
	m.hub.Broadcast(Event{Type: EventMetricsUpdated, Data: sample})
	return sample, nil
}

// liquidityUtilization is the share of liquidity already committed to
// in-flight transfers against what the destination side still holds.
func liquidityUtilization(pending, available *big.Int) float64 {
	total := new(big.Int).Add(pending, available)
	if total.Sign() <= 0 {
		return 0
	}
	p, _ := new(big.Float).Quo(new(big.Float).SetInt(pending), new(big.Float).SetInt(total)).Float64()
	return common.Clamp(100*p, 0, 100)
}

func feeRevenue(volume *big.Int, ratePct float64) *big.Int {
	// rate carried in basis points to stay in integer math
	bps := big.NewInt(int64(ratePct * 100))
	out := new(big.Int).Mul(volume, bps)
	return out.Div(out, big.NewInt(10_000))
}

func (m *Monitor) healthScore(failureRate float64, pending int, utilization float64) float64 {
	score := 100.0
	score -= 2 * failureRate

	congestion := m.cfg.Thresholds.CongestionPending
	if congestion > 0 {
		score -= common.Clamp(20*float64(pending)/float64(congestion), 0, 20)
	}

	m.mu.Lock()
	for _, sample := range m.latestChain {
		if sample.SyncStatus != store.SyncStatusSynced {
			score -= 15
		}
	}
	m.mu.Unlock()

	if utilization > m.cfg.Thresholds.LiquidityPct {
		score -= 10
	}
	return common.Clamp(score, 0, 100)
}

func (m *Monitor) evaluateBridgeRules(sample *store.BridgeMetrics, failureRate float64) {
	t := m.cfg.Thresholds

	if failureRate > t.FailureRatePct {
		m.raiseRule(store.AlertTransactionFailure, store.SeverityHigh, "bridge",
			fmt.Sprintf("failure rate %.1f%% exceeds %.1f%%", failureRate, t.FailureRatePct),
			map[string]interface{}{"failure_rate": failureRate})
	}
	if sample.LiquidityUtilization > t.LiquidityPct {
		m.raiseRule(store.AlertLiquidityLow, store.SeverityHigh, "bridge",
			fmt.Sprintf("liquidity utilization %.1f%% exceeds %.1f%%", sample.LiquidityUtilization, t.LiquidityPct),
			map[string]interface{}{"utilization": sample.LiquidityUtilization})
	}
	if sample.PendingTransactions > t.CongestionPending {
		m.raiseRule(store.AlertBridgeCongestion, store.SeverityMedium, "bridge",
			fmt.Sprintf("%d transfers pending, congestion threshold is %d", sample.PendingTransactions, t.CongestionPending),
			map[string]interface{}{"pending": sample.PendingTransactions})
	}
	if sample.HealthScore < t.HealthFloor {
		m.raiseRule(store.AlertHealthDegraded, store.SeverityCritical, "bridge",
			fmt.Sprintf("health score %.0f below floor %.0f", sample.HealthScore, t.HealthFloor),
			map[string]interface{}{"health_score": sample.HealthScore})
	}
}

// recalcBaselines refreshes each chain's expected inter-block time from
// the last hour of samples.
func (m *Monitor) recalcBaselines() {
	now := common.NowMillis()
	for chain := range m.observers {
		points, err := m.st.GetMetricsHistory(store.MetricsKindChain(chain), now-3600_000, now)
		if err != nil {
			logger.WithFields(logger.Fields{"chain": chain, "error": err}).Error("baseline recalculation failed")
			continue
		}

		var sum, n float64
		for _, p := range points {
			var sample store.ChainMetrics
			if err := json.Unmarshal(p.Payload, &sample); err != nil {
				continue
			}
			if sample.BlockTimeMs > 0 {
				sum += float64(sample.BlockTimeMs)
				n++
			}
		}
		if n > 0 {
			m.mu.Lock()
			m.baselines[chain] = sum / n
			m.mu.Unlock()
		}
	}
}

// SnapshotPayload is the full-state payload a subscriber receives before
// incremental updates begin.
type SnapshotPayload struct {
	ActiveAlerts  []*store.MonitoringAlert       `json:"active_alerts"`
	ChainMetrics  map[string]*store.ChainMetrics `json:"chain_metrics"`
	BridgeMetrics *store.BridgeMetrics           `json:"bridge_metrics"`
}

func (m *Monitor) Snapshot() (*SnapshotPayload, error) {
	active, err := m.st.GetActiveAlerts()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	chains := make(map[string]*store.ChainMetrics, len(m.latestChain))
	for chain, sample := range m.latestChain {
		chains[chain] = sample
	}
	return &SnapshotPayload{
		ActiveAlerts:  active,
		ChainMetrics:  chains,
		BridgeMetrics: m.latestBridge,
	}, nil
}

func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
