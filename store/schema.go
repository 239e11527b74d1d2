package store

// Logical regions map to one table each. Keys encode natural sort order
// (chain+capturedAt, kind+ts) so range queries are contiguous index scans.
// Status and chain lookups go through real sqlite indexes, which are
// superseded in place on UPDATE; a status change can never leave a stale
// index entry behind.
var (
	chainStateCurrentTable = `CREATE TABLE IF NOT EXISTS chain_state_current (
		chain TEXT PRIMARY KEY NOT NULL,
		height TEXT NOT NULL,
		blockTime INTEGER NOT NULL,
		balance TEXT NOT NULL,
		version INTEGER NOT NULL,
		capturedAt INTEGER NOT NULL,
		CONSTRAINT chk_chain CHECK (chain != '')
	);`

	chainStateHistoryTable = `CREATE TABLE IF NOT EXISTS chain_state_history (
		chain TEXT NOT NULL,
		capturedAt INTEGER NOT NULL,
		height TEXT NOT NULL,
		blockTime INTEGER NOT NULL,
		balance TEXT NOT NULL,
		version INTEGER NOT NULL,
		PRIMARY KEY (chain, capturedAt)
	);`

	transactionsTable = `CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY NOT NULL,
		sourceChain TEXT NOT NULL,
		destChain TEXT NOT NULL,
		amount TEXT NOT NULL,
		status VARCHAR(10) NOT NULL,
		sourceTxRef TEXT,
		destTxRef TEXT,
		createdAt INTEGER NOT NULL,
		updatedAt INTEGER NOT NULL,
		CONSTRAINT chk_status CHECK (status IN ('pending', 'confirmed', 'failed')),
		CONSTRAINT chk_id CHECK (id != '')
	);
	CREATE INDEX IF NOT EXISTS idx_tx_status ON transactions (status, updatedAt);
	CREATE INDEX IF NOT EXISTS idx_tx_source ON transactions (sourceChain, createdAt);`

	alertsTable = `CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY NOT NULL,
		type TEXT NOT NULL,
		severity VARCHAR(10) NOT NULL,
		origin TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata TEXT,
		acknowledged INTEGER NOT NULL DEFAULT 0,
		createdAt INTEGER NOT NULL,
		resolvedAt INTEGER NOT NULL DEFAULT 0,
		resolvedBy TEXT,
		resolutionNote TEXT,
		CONSTRAINT chk_severity CHECK (severity IN ('low', 'medium', 'high', 'critical')),
		CONSTRAINT chk_id CHECK (id != '')
	);
	CREATE INDEX IF NOT EXISTS idx_alert_type ON alerts (type, createdAt);
	CREATE INDEX IF NOT EXISTS idx_alert_severity ON alerts (severity, createdAt);
	CREATE INDEX IF NOT EXISTS idx_alert_open ON alerts (resolvedAt, createdAt);`

	metricsTable = `CREATE TABLE IF NOT EXISTS metrics (
		kind TEXT NOT NULL,
		ts INTEGER NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (kind, ts)
	);`

	snapshotsTable = `CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY NOT NULL,
		createdAt INTEGER NOT NULL,
		reason TEXT NOT NULL,
		payload BLOB NOT NULL,
		checksum CHAR(64) NOT NULL,
		CONSTRAINT chk_checksum CHECK (length(checksum) = 64)
	);`
)
