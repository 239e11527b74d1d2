// Server = chain observers + synchronizer + monitor + db/store + http reporter.
// All components are configured via environment variables (strings!).

package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/chainobs"
	"github.com/nockbridge/bridge-go/coordcache"
	"github.com/nockbridge/bridge-go/database"
	"github.com/nockbridge/bridge-go/monitor"
	"github.com/nockbridge/bridge-go/notifier"
	"github.com/nockbridge/bridge-go/reporter"
	"github.com/nockbridge/bridge-go/statesync"
	"github.com/nockbridge/bridge-go/store"
)

// Default params for server.
// More often we don't recommend users to tweak those.
// So we list them here.
const (
	frequencyToPollChains   = 10 * time.Second
	frequencyToPublishCache = 10 * time.Second
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type BridgeServerConfig struct {
	// chain side
	SourceChain      string // eg. nockchain
	DestChain        string // eg. solana
	SourceRpcUrl     string // json rpc url; empty = simulated observer
	DestRpcUrl       string // json rpc url; empty = simulated observer
	SourceBridgeAddr string // bridge contract/account address on the source chain
	DestBridgeAddr   string // bridge contract/account address on the dest chain

	// store side
	DbFilePath string // db file path

	// coordination cache (optional)
	RedisUrl      string // empty = no shared cache
	RedisPassword string
	CacheKeyHex   string // 32-byte AEAD key, hex encoded

	// notification side (optional)
	WebhookUrl string // empty = no external notifications

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080

	// Tuning knobs below. Every zero value falls back to the component's
	// built-in default, so an empty config still runs.

	// polling / publishing cadence
	ChainPollInterval    time.Duration // how often observers are polled
	CachePublishInterval time.Duration // how often the shared cache is refreshed

	// store side
	StoreCacheTTL      time.Duration // read cache entry lifetime
	StoreCacheCapacity int           // read cache entries per region
	RedisTTL           time.Duration // shared cache entry lifetime

	// synchronizer side
	PendingCeiling time.Duration // pending transfer age before it is flagged
	BalanceWindow  time.Duration // allowed lag for cross-chain balance drift

	// monitor side
	ChainMetricsInterval  time.Duration
	BridgeMetricsInterval time.Duration
	AlertRetention        time.Duration // how long resolved alerts are kept
	DedupWindow           time.Duration // hold-off before re-raising a rule alert

	// alert thresholds
	SyncDelay             time.Duration
	BlockTimeDeviationPct float64
	FailureRatePct        float64
	LiquidityPct          float64
	HealthFloor           float64
	CongestionPending     int
	FeeRatePct            float64

	// maintenance side
	SnapshotInterval time.Duration
	MetricsRetention time.Duration
	SnapshotsToKeep  int
}

func (bsc *BridgeServerConfig) pollInterval() time.Duration {
	if bsc.ChainPollInterval > 0 {
		return bsc.ChainPollInterval
	}
	return frequencyToPollChains
}

func (bsc *BridgeServerConfig) publishInterval() time.Duration {
	if bsc.CachePublishInterval > 0 {
		return bsc.CachePublishInterval
	}
	return frequencyToPublishCache
}

func (bsc *BridgeServerConfig) storeConfig() *store.Config {
	return &store.Config{
		CacheTTL:      bsc.StoreCacheTTL,
		CacheCapacity: bsc.StoreCacheCapacity,
	}
}

func (bsc *BridgeServerConfig) syncConfig() *statesync.Config {
	return &statesync.Config{
		SourceChain:    bsc.SourceChain,
		DestChain:      bsc.DestChain,
		PendingCeiling: bsc.PendingCeiling,
		BalanceWindow:  bsc.BalanceWindow,
	}
}

func (bsc *BridgeServerConfig) monitorConfig() *monitor.Config {
	// threshold overrides apply one by one on top of the defaults; a
	// partially filled set must not zero out the rest
	t := monitor.DefaultThresholds()
	if bsc.SyncDelay > 0 {
		t.SyncDelay = bsc.SyncDelay
	}
	if bsc.BlockTimeDeviationPct > 0 {
		t.BlockTimeDeviationPct = bsc.BlockTimeDeviationPct
	}
	if bsc.FailureRatePct > 0 {
		t.FailureRatePct = bsc.FailureRatePct
	}
	if bsc.LiquidityPct > 0 {
		t.LiquidityPct = bsc.LiquidityPct
	}
	if bsc.HealthFloor > 0 {
		t.HealthFloor = bsc.HealthFloor
	}
	if bsc.CongestionPending > 0 {
		t.CongestionPending = bsc.CongestionPending
	}
	if bsc.FeeRatePct > 0 {
		t.FeeRatePct = bsc.FeeRatePct
	}

	return &monitor.Config{
		SourceChain:    bsc.SourceChain,
		DestChain:      bsc.DestChain,
		Thresholds:     t,
		ChainInterval:  bsc.ChainMetricsInterval,
		BridgeInterval: bsc.BridgeMetricsInterval,
		AlertRetention: bsc.AlertRetention,
		DedupWindow:    bsc.DedupWindow,
	}
}

func (bsc *BridgeServerConfig) maintenanceConfig() *store.MaintenanceConfig {
	return &store.MaintenanceConfig{
		SnapshotInterval: bsc.SnapshotInterval,
		MetricsRetention: bsc.MetricsRetention,
		SnapshotsToKeep:  bsc.SnapshotsToKeep,
	}
}

// BridgeServer holds the objects that consists of the bridge server.
type BridgeServer struct {
	MyStore    *store.Store
	MySync     *statesync.Synchronizer
	MyPoller   *statesync.Poller
	MyMonitor  *monitor.Monitor
	MyReporter *reporter.HttpReporter
	MyCache    *coordcache.Cache // nil when no redis configured
}

// NewBridgeServer creates a new bridge server.
// ctx is used for parental context to cancel the operation of bridge server.
// wg is used to wait for all the goroutines inside the server (poller, synchronizer, monitor) to finish.
func NewBridgeServer(bsc *BridgeServerConfig, ctx context.Context, wg *sync.WaitGroup) (*BridgeServer, error) {
	// 0) open the db file & create the store
	db, err := database.OpenFileDB(bsc.DbFilePath)
	if err != nil {
		logger.Fatalf("cannot open db file %s: %v", bsc.DbFilePath, err)
		return nil, err
	}
	myStore, err := store.New(db, bsc.storeConfig())
	if err != nil {
		logger.Fatalf("cannot create store: %v", err)
		return nil, err
	}

	// 1) create the synchronizer (recovers previous state from the store)
	mySync, err := statesync.New(myStore, bsc.syncConfig())
	if err != nil {
		logger.Fatalf("cannot create synchronizer: %v", err)
		return nil, err
	}

	// 2) one observer per chain, real rpc or simulated
	srcObserver, err := SetupObserver(bsc.SourceChain, bsc.SourceRpcUrl, bsc.SourceBridgeAddr)
	if err != nil {
		logger.Fatalf("cannot create %s observer: %v", bsc.SourceChain, err)
		return nil, err
	}
	dstObserver, err := SetupObserver(bsc.DestChain, bsc.DestRpcUrl, bsc.DestBridgeAddr)
	if err != nil {
		logger.Fatalf("cannot create %s observer: %v", bsc.DestChain, err)
		return nil, err
	}
	observers := []chainobs.Observer{srcObserver, dstObserver}

	// 3) poller feeds the synchronizer's observation channel
	myPoller := statesync.NewPoller(observers, mySync.GetObservationChannel(), bsc.pollInterval())

	// 4) external notifications
	var notif notifier.Notifier = notifier.Nop{}
	if bsc.WebhookUrl != "" {
		notif = notifier.NewWebhook(bsc.WebhookUrl, 0)
	}

	// 5) the monitor derives metrics and raises alerts
	myMonitor, err := monitor.New(myStore, mySync, observers, notif, bsc.monitorConfig())
	if err != nil {
		logger.Fatalf("cannot create monitor: %v", err)
		return nil, err
	}

	// 6) optional shared cache for peer processes; a dead redis degrades
	// to running without one
	var myCache *coordcache.Cache
	if bsc.RedisUrl != "" {
		myCache, err = SetupCoordCache(bsc.RedisUrl, bsc.RedisPassword, bsc.CacheKeyHex, bsc.RedisTTL)
		if err != nil {
			logger.Warnf("coordination cache unavailable, continuing without: %v", err)
			myCache = nil
		}
	}

	// Important: turn on the components!
	wg.Add(1)
	go func() {
		defer wg.Done()
		myPoller.Start(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mySync.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatalf("synchronizer stopped: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myMonitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatalf("monitor stopped: %v", err)
		}
	}()

	// relay the latest view into the shared cache for peer processes
	if myCache != nil {
		relay := newCacheRelay(myCache, myMonitor, mySync,
			[]string{bsc.SourceChain, bsc.DestChain}, bsc.publishInterval())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("cache relay stopped: %v", err)
			}
		}()
	}

	// store maintenance: periodic snapshots + retention sweeps
	maint := store.NewMaintenance(myStore, bsc.maintenanceConfig())
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := maint.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("store maintenance stopped: %v", err)
		}
	}()

	// Don't forget to call wg.Wait() in the main routine.

	// 7) http reporter publishes everything
	myReporter := reporter.NewHttpReporter(bsc.HttpIp, bsc.HttpPort, myStore, myMonitor)
	go myReporter.Run()

	return &BridgeServer{
		MyStore:    myStore,
		MySync:     mySync,
		MyPoller:   myPoller,
		MyMonitor:  myMonitor,
		MyReporter: myReporter,
		MyCache:    myCache,
	}, nil
}

// StartBridgeServerAndWait runs the server until SIGINT/SIGTERM, then
// shuts down in order: stop the loops, take a final snapshot, close the
// store.
func StartBridgeServerAndWait(bsc *BridgeServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up a signal channel to listen for Ctrl-C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Infof("received signal: %v, cancelling context...", sig)
		cancel()
	}()

	var wg sync.WaitGroup

	server, err := NewBridgeServer(bsc, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create bridge server: %v", err)
		return
	}

	// wait for all routines to finish
	wg.Wait()

	// final snapshot so the next start recovers the latest view
	if _, err := server.MyStore.CreateSnapshot("shutdown"); err != nil {
		logger.Errorf("failed to take shutdown snapshot: %v", err)
	}
	if server.MyCache != nil {
		server.MyCache.Close()
	}
	server.MyStore.Close()
	logger.Info("bridge server stopped")
}
