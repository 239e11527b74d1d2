package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promChainHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_chain_block_height",
			Help: "Latest observed block height per chain",
		},
		[]string{"chain"},
	)

	promChainSyncStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_chain_synced",
			Help: "1 when the chain reports synced, 0 otherwise",
		},
		[]string{"chain"},
	)

	promHealthScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_health_score",
			Help: "Composite bridge health score, 0-100",
		},
	)

	promLiquidityUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_liquidity_utilization",
			Help: "Share of bridge liquidity committed, 0-100",
		},
	)

	promPendingTransfers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_pending_transfers",
			Help: "Cross-chain transfers currently pending",
		},
	)

	promAlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_alerts_raised_total",
			Help: "Alerts raised by type and severity",
		},
		[]string{"type", "severity"},
	)

	promOpenAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_open_alerts",
			Help: "Alerts currently unresolved",
		},
	)

	promCollectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_collect_failures_total",
			Help: "Metric collection failures per chain",
		},
		[]string{"chain"},
	)
)
