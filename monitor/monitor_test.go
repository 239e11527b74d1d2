package monitor

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nockbridge/bridge-go/chainobs"
	"github.com/nockbridge/bridge-go/database"
	"github.com/nockbridge/bridge-go/statesync"
	"github.com/nockbridge/bridge-go/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*store.MonitoringAlert
}

func (r *recordingNotifier) Notify(a *store.MonitoringAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type fixture struct {
	st    *store.Store
	sync  *statesync.Synchronizer
	mon   *Monitor
	src   *chainobs.SimulatedObserver
	dst   *chainobs.SimulatedObserver
	notif *recordingNotifier
}

func newFixture(t *testing.T, cfg *Config, seed func(st *store.Store)) *fixture {
	db, err := database.OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := store.New(db, nil)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	if seed != nil {
		seed(st)
	}

	sy, err := statesync.New(st, &statesync.Config{SourceChain: "nockchain", DestChain: "solana"})
	require.NoError(t, err)

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SourceChain = "nockchain"
	cfg.DestChain = "solana"

	src := chainobs.NewSimulatedObserver("nockchain", 100, 1000)
	dst := chainobs.NewSimulatedObserver("solana", 200, 1000)
	notif := &recordingNotifier{}

	mon, err := New(st, sy, []chainobs.Observer{src, dst}, notif, cfg)
	require.NoError(t, err)

	return &fixture{st: st, sync: sy, mon: mon, src: src, dst: dst, notif: notif}
}

func TestCollectChainMetricsHealthy(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	first, err := f.mon.CollectChainMetrics(ctx, "nockchain")
	require.NoError(t, err)
	assert.Equal(t, store.SyncStatusSyncing, first.SyncStatus)

	// samples are keyed per millisecond
	time.Sleep(2 * time.Millisecond)
	second, err := f.mon.CollectChainMetrics(ctx, "nockchain")
	require.NoError(t, err)
	assert.Equal(t, store.SyncStatusSynced, second.SyncStatus)
	assert.Equal(t, int64(102), second.BlockHeight.Int64())

	// sample persisted into the metrics region
	points, err := f.st.GetMetricsHistory(store.MetricsKindChain("nockchain"), 0, second.Timestamp+1)
	require.NoError(t, err)
	assert.Len(t, points, 2)

	// healthy chain raises nothing
	active, err := f.st.GetActiveAlerts()
	require.NoError(t, err)
	assert.Len(t, active, 0)
}

// An unreachable source degrades to an error-tagged sample instead of a
// failure, and a single blip does not raise sync_delay.
func TestCollectChainMetricsDegrades(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.src.FailNext(assert.AnError)
	sample, err := f.mon.CollectChainMetrics(context.Background(), "nockchain")
	require.NoError(t, err)
	assert.Equal(t, store.SyncStatusError, sample.SyncStatus)

	alerts, err := f.st.GetAlertsByType(store.AlertSyncDelay, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 0)
}

// An unreachable source only becomes a sync_delay alert once the view
// has been frozen past the threshold, and then once per episode.
func TestUnreachableSourceAlertsAfterDelay(t *testing.T) {
	cfg := &Config{Thresholds: DefaultThresholds()}
	cfg.Thresholds.SyncDelay = 10 * time.Millisecond
	f := newFixture(t, cfg, nil)
	ctx := context.Background()

	f.src.FailNext(assert.AnError)
	_, err := f.mon.CollectChainMetrics(ctx, "nockchain")
	require.NoError(t, err)

	alerts, err := f.st.GetAlertsByType(store.AlertSyncDelay, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 0)

	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		f.src.FailNext(assert.AnError)
		_, err := f.mon.CollectChainMetrics(ctx, "nockchain")
		require.NoError(t, err)
	}

	alerts, err = f.st.GetAlertsByType(store.AlertSyncDelay, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, store.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, "nockchain", alerts[0].Origin)
}

// A stalled chain produces exactly one sync_delay alert per episode,
// regardless of how many ticks observe the stall.
func TestStaleChainAlertsOnce(t *testing.T) {
	cfg := &Config{Thresholds: DefaultThresholds()}
	cfg.Thresholds.SyncDelay = 10 * time.Millisecond
	f := newFixture(t, cfg, nil)
	ctx := context.Background()

	_, err := f.mon.CollectChainMetrics(ctx, "solana")
	require.NoError(t, err)
	f.dst.BlockStep = 0 // chain stops advancing

	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		sample, err := f.mon.CollectChainMetrics(ctx, "solana")
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, store.SyncStatusLagging, sample.SyncStatus)
		}
		time.Sleep(15 * time.Millisecond)
	}

	alerts, err := f.st.GetAlertsByType(store.AlertSyncDelay, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, store.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, "solana", alerts[0].Origin)
}

func TestBridgeMetricsNeedsBothChains(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.mon.CollectBridgeMetrics(context.Background())
	assert.Error(t, err)
}

func TestBridgeMetricsComputation(t *testing.T) {
	seed := func(st *store.Store) {
		cs := store.RandChainState("nockchain", 1)
		require.NoError(t, st.PutChainState(cs))
		dst := store.RandChainState("solana", 1)
		dst.BridgeBalance = big.NewInt(900)
		require.NoError(t, st.PutChainState(dst))

		pending := store.RandTransaction("nockchain", "solana", store.TxStatusPending)
		pending.Amount = big.NewInt(100)
		require.NoError(t, st.SaveTransaction(pending))

		confirmed := store.RandTransaction("nockchain", "solana", store.TxStatusConfirmed)
		confirmed.Amount = big.NewInt(10_000)
		confirmed.UpdatedAt = confirmed.CreatedAt + 200
		require.NoError(t, st.SaveTransaction(confirmed))
	}
	f := newFixture(t, nil, seed)

	sample, err := f.mon.CollectBridgeMetrics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sample.TotalTransactions)
	assert.Equal(t, 1, sample.PendingTransactions)
	assert.Equal(t, int64(10_000), sample.TotalVolume.Int64())
	assert.Equal(t, int64(200), sample.AvgProcessingMs)
	// pending 100 against available 900 = 10% committed
	assert.InDelta(t, 10, sample.LiquidityUtilization, 0.01)
	// 0.3% of 10k volume
	assert.Equal(t, int64(30), sample.FeeRevenue.Int64())
	assert.Greater(t, sample.HealthScore, 90.0)

	// persisted append-only
	points, err := f.st.GetMetricsHistory(store.MetricsKindBridge, 0, sample.Timestamp+1)
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestLiquidityRuleFires(t *testing.T) {
	seed := func(st *store.Store) {
		require.NoError(t, st.PutChainState(store.RandChainState("nockchain", 1)))
		dst := store.RandChainState("solana", 1)
		dst.BridgeBalance = big.NewInt(10)
		require.NoError(t, st.PutChainState(dst))

		pending := store.RandTransaction("nockchain", "solana", store.TxStatusPending)
		pending.Amount = big.NewInt(990)
		require.NoError(t, st.SaveTransaction(pending))
	}
	f := newFixture(t, nil, seed)

	sample, err := f.mon.CollectBridgeMetrics(context.Background())
	require.NoError(t, err)
	assert.Greater(t, sample.LiquidityUtilization, 80.0)

	alerts, err := f.st.GetAlertsByType(store.AlertLiquidityLow, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	// high severity went to the external channel
	assert.Eventually(t, func() bool { return f.notif.count() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestHubDelivery(t *testing.T) {
	f := newFixture(t, nil, nil)

	sub := f.mon.Hub().Subscribe()
	defer f.mon.Hub().Unsubscribe(sub)

	_, err := f.mon.CollectChainMetrics(context.Background(), "nockchain")
	require.NoError(t, err)

	select {
	case ev := <-sub.C:
		assert.Equal(t, EventMetricsUpdated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSnapshotPayload(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.mon.CollectChainMetrics(context.Background(), "nockchain")
	require.NoError(t, err)
	_, err = f.mon.CreateAlert(store.AlertSecurityIncident, store.SeverityLow, "bridge", "drill", nil)
	require.NoError(t, err)

	snap, err := f.mon.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.ActiveAlerts, 1)
	assert.Contains(t, snap.ChainMetrics, "nockchain")
}
