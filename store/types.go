package store

import (
	"encoding/json"
	"math/big"
)

// ChainState is one chain's bridge-relevant snapshot as seen by a poller.
// The "current" record per chain carries a monotonically non-decreasing
// Version; history rows are immutable once written, keyed chain+capturedAt.
type ChainState struct {
	Chain         string   `json:"chain"`
	BlockHeight   *big.Int `json:"block_height"`
	BlockTime     int64    `json:"block_time"` // unix millis of the observed head block
	BridgeBalance *big.Int `json:"bridge_balance"`
	Version       uint64   `json:"version"`
	CapturedAt    int64    `json:"captured_at"` // unix millis
}

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// Terminal statuses are immutable; the synchronizer refuses any
// terminal -> non-terminal transition.
func (s TxStatus) Terminal() bool {
	return s == TxStatusConfirmed || s == TxStatusFailed
}

// TransactionState is one cross-chain transfer and its lifecycle.
type TransactionState struct {
	ID          string   `json:"id"`
	SourceChain string   `json:"source_chain"`
	DestChain   string   `json:"dest_chain"`
	Amount      *big.Int `json:"amount"`
	Status      TxStatus `json:"status"`
	SourceTxRef string   `json:"source_tx_ref,omitempty"`
	DestTxRef   string   `json:"dest_tx_ref,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// Clone returns an independent copy. Shared readers hold pointers into
// the cache and the synchronizer's pending set; writers must mutate a
// clone, never the shared record.
func (t *TransactionState) Clone() *TransactionState {
	out := *t
	if t.Amount != nil {
		out.Amount = new(big.Int).Set(t.Amount)
	}
	return &out
}

type AlertType string

const (
	AlertBlockTimeAnomaly   AlertType = "block_time_anomaly"
	AlertTransactionFailure AlertType = "transaction_failure"
	AlertBridgeCongestion   AlertType = "bridge_congestion"
	AlertLiquidityLow       AlertType = "liquidity_low"
	AlertSyncDelay          AlertType = "sync_delay"
	AlertSecurityIncident   AlertType = "security_incident"
	AlertStateInconsistency AlertType = "state_inconsistency"
	AlertHealthDegraded     AlertType = "health_degraded"
)

type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// MonitoringAlert lifecycle: created -> (optionally) acknowledged ->
// resolved. Resolved is terminal; only resolver identity/notes may be
// recorded after resolution.
type MonitoringAlert struct {
	ID             string                 `json:"id"`
	Type           AlertType              `json:"type"`
	Severity       AlertSeverity          `json:"severity"`
	Origin         string                 `json:"origin"` // chain id or "bridge"
	Message        string                 `json:"message"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Acknowledged   bool                   `json:"acknowledged"`
	CreatedAt      int64                  `json:"created_at"`
	ResolvedAt     int64                  `json:"resolved_at,omitempty"` // 0 while open
	ResolvedBy     string                 `json:"resolved_by,omitempty"`
	ResolutionNote string                 `json:"resolution_note,omitempty"`
}

func (a *MonitoringAlert) Resolved() bool {
	return a.ResolvedAt != 0
}

type SyncStatus string

const (
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusLagging SyncStatus = "lagging"
	SyncStatusError   SyncStatus = "error"
)

// ChainMetrics is an append-only per-chain sample.
type ChainMetrics struct {
	Chain          string     `json:"chain"`
	BlockHeight    *big.Int   `json:"block_height"`
	BlockTimeMs    int64      `json:"block_time_ms"` // observed inter-block time
	TxCount        int        `json:"tx_count"`
	PendingCount   int        `json:"pending_count"`
	ValidatorCount int        `json:"validator_count"`
	SyncStatus     SyncStatus `json:"sync_status"`
	Timestamp      int64      `json:"timestamp"`
}

// BridgeMetrics is an append-only whole-bridge sample.
type BridgeMetrics struct {
	TotalVolume          *big.Int `json:"total_volume"`
	DailyVolume          *big.Int `json:"daily_volume"`
	TotalTransactions    int      `json:"total_transactions"`
	PendingTransactions  int      `json:"pending_transactions"`
	FailedTransactions   int      `json:"failed_transactions"`
	AvgProcessingMs      int64    `json:"avg_processing_ms"`
	HealthScore          float64  `json:"health_score"`          // 0-100
	LiquidityUtilization float64  `json:"liquidity_utilization"` // 0-100
	FeeRevenue           *big.Int `json:"fee_revenue"`
	Timestamp            int64    `json:"timestamp"`
}

// Metrics region keys. Chain samples are stored under "chain:<id>" so a
// range scan over one chain's history is a contiguous prefix scan.
const MetricsKindBridge = "bridge"

func MetricsKindChain(chain string) string {
	return "chain:" + chain
}

// MetricsPoint is one row of the metrics time series, payload left raw so
// the store stays agnostic of the sample type.
type MetricsPoint struct {
	Kind      string          `json:"kind"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// StateSnapshot bundles all current chain states, a 24h transaction window
// and recent metrics. Checksum covers the serialized snapshot with the
// checksum field itself zeroed, and is verified before any restore.
type StateSnapshot struct {
	ID           string              `json:"id"`
	Reason       string              `json:"reason"`
	CreatedAt    int64               `json:"created_at"`
	ChainStates  []*ChainState       `json:"chain_states"`
	Transactions []*TransactionState `json:"transactions"`
	Metrics      []MetricsPoint      `json:"metrics"`
	Checksum     string              `json:"checksum"`
}
