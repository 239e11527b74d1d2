package monitor

import "time"

// Default worker intervals. Each concern runs its own ticker so a slow
// chain RPC cannot starve alert pruning or broadcasting.
const (
	DefaultChainInterval       = 10 * time.Second
	DefaultBridgeInterval      = 15 * time.Second
	DefaultMaintenanceInterval = 30 * time.Second
	DefaultBaselineInterval    = 60 * time.Second
	DefaultBroadcastInterval   = 5 * time.Second

	DefaultAlertRetention = 24 * time.Hour
	DefaultDedupWindow    = 5 * time.Minute
)

// Thresholds drive the rule evaluators.
type Thresholds struct {
	// BlockTimeDeviationPct flags a chain whose observed inter-block time
	// deviates from its baseline by more than this percentage.
	BlockTimeDeviationPct float64
	// FailureRatePct flags the bridge when failed/total over the daily
	// window exceeds this percentage.
	FailureRatePct float64
	// SyncDelay flags a chain whose height has not advanced for this long.
	SyncDelay time.Duration
	// LiquidityPct flags the bridge when liquidity utilization exceeds
	// this percentage.
	LiquidityPct float64
	// HealthFloor flags the bridge when the health score drops below it.
	HealthFloor float64
	// CongestionPending flags the bridge when pending transfers exceed it.
	CongestionPending int
	// FeeRatePct values accumulated fee revenue as this share of volume.
	FeeRatePct float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		BlockTimeDeviationPct: 50,
		FailureRatePct:        5,
		SyncDelay:             60 * time.Second,
		LiquidityPct:          80,
		HealthFloor:           50,
		CongestionPending:     100,
		FeeRatePct:            0.3,
	}
}

type Config struct {
	SourceChain string
	DestChain   string

	Thresholds Thresholds

	ChainInterval       time.Duration
	BridgeInterval      time.Duration
	MaintenanceInterval time.Duration
	BaselineInterval    time.Duration
	BroadcastInterval   time.Duration

	// AlertRetention bounds how long resolved alerts are kept.
	AlertRetention time.Duration
	// DedupWindow is how long a rule holds off re-raising the same alert
	// type for the same origin while one is already open.
	DedupWindow time.Duration
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.Thresholds == (Thresholds{}) {
		out.Thresholds = DefaultThresholds()
	}
	if out.ChainInterval <= 0 {
		out.ChainInterval = DefaultChainInterval
	}
	if out.BridgeInterval <= 0 {
		out.BridgeInterval = DefaultBridgeInterval
	}
	if out.MaintenanceInterval <= 0 {
		out.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if out.BaselineInterval <= 0 {
		out.BaselineInterval = DefaultBaselineInterval
	}
	if out.BroadcastInterval <= 0 {
		out.BroadcastInterval = DefaultBroadcastInterval
	}
	if out.AlertRetention <= 0 {
		out.AlertRetention = DefaultAlertRetention
	}
	if out.DedupWindow <= 0 {
		out.DedupWindow = DefaultDedupWindow
	}
	return &out
}
