package store

import (
	"database/sql"
	"encoding/json"
	"math/big"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/database"
)

const (
	DefaultCacheTTL      = 60 * time.Second
	DefaultCacheCapacity = 1024
)

type Config struct {
	CacheTTL      time.Duration
	CacheCapacity int
}

func (c *Config) withDefaults() *Config {
	out := &Config{CacheTTL: DefaultCacheTTL, CacheCapacity: DefaultCacheCapacity}
	if c == nil {
		return out
	}
	if c.CacheTTL > 0 {
		out.CacheTTL = c.CacheTTL
	}
	if c.CacheCapacity > 0 {
		out.CacheCapacity = c.CacheCapacity
	}
	return out
}

// Store is the single writer-of-record for durable bridge state. It owns
// physical layout, read caching and snapshot mechanics, and asserts no
// business invariants beyond checksum integrity.
type Store struct {
	db        *sql.DB
	stmtCache *database.StmtCache

	// hot-read caches; durable write always precedes cache population
	csCache *ttlCache[*ChainState]
	txCache *ttlCache[*TransactionState]
}

func New(db *sql.DB, cfg *Config) (*Store, error) {
	ddl := chainStateCurrentTable + chainStateHistoryTable + transactionsTable +
		alertsTable + metricsTable + snapshotsTable
	if _, err := db.Exec(ddl); err != nil {
		return nil, storageErr("create tables", err)
	}

	c := cfg.withDefaults()
	return &Store{
		db:        db,
		stmtCache: database.NewStmtCache(db),
		csCache:   newTTLCache[*ChainState](c.CacheCapacity, c.CacheTTL),
		txCache:   newTTLCache[*TransactionState](c.CacheCapacity, c.CacheTTL),
	}, nil
}

// Close releases the prepared statements and the underlying db handle.
func (s *Store) Close() {
	s.stmtCache.Clear()
	if err := s.db.Close(); err != nil {
		logger.WithField("error", err).Error("failed to close db handle")
	}
}

// ---- chain-states region ----

// PutChainState replaces the chain's current record and appends an
// immutable history row in one transaction. The cache is refreshed only
// after the commit, so a crash in between re-reads the durable value.
func (s *Store) PutChainState(cs *ChainState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("put chain state", err)
	}
	defer tx.Rollback()

	curr := `INSERT OR REPLACE INTO chain_state_current
		(chain, height, blockTime, balance, version, capturedAt) VALUES (?, ?, ?, ?, ?, ?)`
	hist := `INSERT OR IGNORE INTO chain_state_history
		(chain, capturedAt, height, blockTime, balance, version) VALUES (?, ?, ?, ?, ?, ?)`

	height := cs.BlockHeight.String()
	balance := cs.BridgeBalance.String()
	if _, err := tx.Exec(curr, cs.Chain, height, cs.BlockTime, balance, cs.Version, cs.CapturedAt); err != nil {
		return storageErr("put chain state", err)
	}
	if _, err := tx.Exec(hist, cs.Chain, cs.CapturedAt, height, cs.BlockTime, balance, cs.Version); err != nil {
		return storageErr("put chain state history", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("put chain state", err)
	}

	s.csCache.add(cs.Chain, cs)
	return nil
}

// GetChainState returns the chain's most recent record. Absence is a
// normal (nil, false, nil) result.
func (s *Store) GetChainState(chain string) (*ChainState, bool, error) {
	if cs, ok := s.csCache.get(chain); ok {
		return cs, true, nil
	}

	query := `SELECT chain, height, blockTime, balance, version, capturedAt
		FROM chain_state_current WHERE chain = ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, storageErr("get chain state", err)
	}

	cs, err := scanChainState(stmt.QueryRow(chain))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, storageErr("get chain state", err)
	}

	s.csCache.add(chain, cs)
	return cs, true, nil
}

// GetChainStateHistory returns history rows for chain within [from, to]
// millis, time-ordered, at most limit rows (0 = no limit). reverse flips
// to newest-first.
func (s *Store) GetChainStateHistory(chain string, from, to int64, limit int, reverse bool) ([]*ChainState, error) {
	order := "ASC"
	if reverse {
		order = "DESC"
	}
	query := `SELECT chain, height, blockTime, balance, version, capturedAt
		FROM chain_state_history WHERE chain = ? AND capturedAt >= ? AND capturedAt <= ?
		ORDER BY capturedAt ` + order + ` LIMIT ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, storageErr("get chain state history", err)
	}

	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := stmt.Query(chain, from, to, limit)
	if err != nil {
		return nil, storageErr("get chain state history", err)
	}
	defer rows.Close()

	var out []*ChainState
	for rows.Next() {
		cs, err := scanChainState(rows)
		if err != nil {
			return nil, storageErr("get chain state history", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChainState(row rowScanner) (*ChainState, error) {
	var (
		cs              ChainState
		height, balance string
	)
	if err := row.Scan(&cs.Chain, &height, &cs.BlockTime, &balance, &cs.Version, &cs.CapturedAt); err != nil {
		return nil, err
	}
	cs.BlockHeight, _ = new(big.Int).SetString(height, 10)
	cs.BridgeBalance, _ = new(big.Int).SetString(balance, 10)
	return &cs, nil
}

// ---- transactions region ----

// SaveTransaction writes the primary record; the status and source-chain
// access paths are sqlite indexes on the same row, so record and index
// become visible atomically and a status change supersedes the old index
// entry instead of appending beside it.
func (s *Store) SaveTransaction(t *TransactionState) error {
	query := `INSERT OR REPLACE INTO transactions
		(id, sourceChain, destChain, amount, status, sourceTxRef, destTxRef, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return storageErr("save transaction", err)
	}
	if _, err := stmt.Exec(
		t.ID, t.SourceChain, t.DestChain, t.Amount.String(), string(t.Status),
		t.SourceTxRef, t.DestTxRef, t.CreatedAt, t.UpdatedAt,
	); err != nil {
		return storageErr("save transaction", err)
	}

	// cache an independent copy so later caller mutations cannot leak
	// into concurrent readers
	s.txCache.add(t.ID, t.Clone())
	return nil
}

func (s *Store) GetTransaction(id string) (*TransactionState, bool, error) {
	if t, ok := s.txCache.get(id); ok {
		return t, true, nil
	}

	query := `SELECT id, sourceChain, destChain, amount, status, sourceTxRef, destTxRef, createdAt, updatedAt
		FROM transactions WHERE id = ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, storageErr("get transaction", err)
	}

	t, err := scanTransaction(stmt.QueryRow(id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, storageErr("get transaction", err)
	}

	s.txCache.add(id, t)
	return t, true, nil
}

func (s *Store) GetTransactionsByStatus(status TxStatus, limit int) ([]*TransactionState, error) {
	query := `SELECT id, sourceChain, destChain, amount, status, sourceTxRef, destTxRef, createdAt, updatedAt
		FROM transactions WHERE status = ? ORDER BY updatedAt DESC LIMIT ?`
	return s.queryTransactions("get transactions by status", query, string(status), limitOrAll(limit))
}

func (s *Store) GetTransactionsByChain(sourceChain string, limit int) ([]*TransactionState, error) {
	query := `SELECT id, sourceChain, destChain, amount, status, sourceTxRef, destTxRef, createdAt, updatedAt
		FROM transactions WHERE sourceChain = ? ORDER BY createdAt DESC LIMIT ?`
	return s.queryTransactions("get transactions by chain", query, sourceChain, limitOrAll(limit))
}

// GetTransactionsSince returns transactions created at or after the given
// millis timestamp. Used for snapshot bundling and cold-start replay.
func (s *Store) GetTransactionsSince(sinceMs int64) ([]*TransactionState, error) {
	query := `SELECT id, sourceChain, destChain, amount, status, sourceTxRef, destTxRef, createdAt, updatedAt
		FROM transactions WHERE createdAt >= ? ORDER BY createdAt ASC LIMIT ?`
	return s.queryTransactions("get transactions since", query, sinceMs, -1)
}

// TxCounts aggregates the transactions region by status.
type TxCounts struct {
	Total   int
	Pending int
	Failed  int
}

func (s *Store) CountTransactions() (TxCounts, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT status, COUNT(*) FROM transactions GROUP BY status`)
	if err != nil {
		return TxCounts{}, storageErr("count transactions", err)
	}
	rows, err := stmt.Query()
	if err != nil {
		return TxCounts{}, storageErr("count transactions", err)
	}
	defer rows.Close()

	var counts TxCounts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return TxCounts{}, storageErr("count transactions", err)
		}
		counts.Total += n
		switch TxStatus(status) {
		case TxStatusPending:
			counts.Pending += n
		case TxStatusFailed:
			counts.Failed += n
		}
	}
	return counts, rows.Err()
}

func (s *Store) queryTransactions(op, query string, args ...interface{}) ([]*TransactionState, error) {
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, storageErr(op, err)
	}
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []*TransactionState
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (*TransactionState, error) {
	var (
		t                      TransactionState
		amount, status         string
		sourceTxRef, destTxRef sql.NullString
	)
	if err := row.Scan(&t.ID, &t.SourceChain, &t.DestChain, &amount, &status,
		&sourceTxRef, &destTxRef, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Amount, _ = new(big.Int).SetString(amount, 10)
	t.Status = TxStatus(status)
	t.SourceTxRef = sourceTxRef.String
	t.DestTxRef = destTxRef.String
	return &t, nil
}

// ---- alerts region ----

func (s *Store) SaveAlert(a *MonitoringAlert) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return storageErr("save alert", err)
	}

	query := `INSERT OR REPLACE INTO alerts
		(id, type, severity, origin, message, metadata, acknowledged, createdAt, resolvedAt, resolvedBy, resolutionNote)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return storageErr("save alert", err)
	}
	ack := 0
	if a.Acknowledged {
		ack = 1
	}
	if _, err := stmt.Exec(
		a.ID, string(a.Type), string(a.Severity), a.Origin, a.Message, string(meta),
		ack, a.CreatedAt, a.ResolvedAt, a.ResolvedBy, a.ResolutionNote,
	); err != nil {
		return storageErr("save alert", err)
	}
	return nil
}

func (s *Store) GetAlert(id string) (*MonitoringAlert, bool, error) {
	query := alertSelect + ` WHERE id = ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, storageErr("get alert", err)
	}

	a, err := scanAlert(stmt.QueryRow(id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, storageErr("get alert", err)
	}
	return a, true, nil
}

func (s *Store) GetAlertsByType(typ AlertType, limit int) ([]*MonitoringAlert, error) {
	query := alertSelect + ` WHERE type = ? ORDER BY createdAt DESC LIMIT ?`
	return s.queryAlerts("get alerts by type", query, string(typ), limitOrAll(limit))
}

func (s *Store) GetAlertsBySeverity(sev AlertSeverity, limit int) ([]*MonitoringAlert, error) {
	query := alertSelect + ` WHERE severity = ? ORDER BY createdAt DESC LIMIT ?`
	return s.queryAlerts("get alerts by severity", query, string(sev), limitOrAll(limit))
}

// GetActiveAlerts returns unresolved alerts, oldest first.
func (s *Store) GetActiveAlerts() ([]*MonitoringAlert, error) {
	query := alertSelect + ` WHERE resolvedAt = 0 ORDER BY createdAt ASC LIMIT -1`
	return s.queryAlerts("get active alerts", query)
}

// DeleteResolvedAlertsBefore purges alerts resolved before cutoff millis
// and reports how many went away.
func (s *Store) DeleteResolvedAlertsBefore(cutoffMs int64) (int64, error) {
	query := `DELETE FROM alerts WHERE resolvedAt > 0 AND resolvedAt < ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return 0, storageErr("delete resolved alerts", err)
	}
	res, err := stmt.Exec(cutoffMs)
	if err != nil {
		return 0, storageErr("delete resolved alerts", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const alertSelect = `SELECT id, type, severity, origin, message, metadata, acknowledged, createdAt, resolvedAt, resolvedBy, resolutionNote FROM alerts`

func (s *Store) queryAlerts(op, query string, args ...interface{}) ([]*MonitoringAlert, error) {
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, storageErr(op, err)
	}
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []*MonitoringAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(row rowScanner) (*MonitoringAlert, error) {
	var (
		a                        MonitoringAlert
		typ, sev                 string
		meta                     sql.NullString
		ack                      int
		resolvedBy, resolvedNote sql.NullString
	)
	if err := row.Scan(&a.ID, &typ, &sev, &a.Origin, &a.Message, &meta,
		&ack, &a.CreatedAt, &a.ResolvedAt, &resolvedBy, &resolvedNote); err != nil {
		return nil, err
	}
	a.Type = AlertType(typ)
	a.Severity = AlertSeverity(sev)
	a.Acknowledged = ack != 0
	a.ResolvedBy = resolvedBy.String
	a.ResolutionNote = resolvedNote.String
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &a.Metadata); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

// ---- metrics region ----

// SaveMetrics appends one sample under kind+timestamp. Samples are never
// updated in place.
func (s *Store) SaveMetrics(kind string, ts int64, sample interface{}) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return storageErr("save metrics", err)
	}

	query := `INSERT OR IGNORE INTO metrics (kind, ts, payload) VALUES (?, ?, ?)`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return storageErr("save metrics", err)
	}
	if _, err := stmt.Exec(kind, ts, string(payload)); err != nil {
		return storageErr("save metrics", err)
	}
	return nil
}

// GetMetricsHistory returns samples of a kind within [from, to] millis,
// oldest first. The kind+ts primary key makes this a prefix scan.
func (s *Store) GetMetricsHistory(kind string, from, to int64) ([]MetricsPoint, error) {
	query := `SELECT kind, ts, payload FROM metrics
		WHERE kind = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, storageErr("get metrics history", err)
	}
	rows, err := stmt.Query(kind, from, to)
	if err != nil {
		return nil, storageErr("get metrics history", err)
	}
	defer rows.Close()

	var out []MetricsPoint
	for rows.Next() {
		var (
			p       MetricsPoint
			payload string
		)
		if err := rows.Scan(&p.Kind, &p.Timestamp, &payload); err != nil {
			return nil, storageErr("get metrics history", err)
		}
		p.Payload = json.RawMessage(payload)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PruneMetricsBefore deletes samples older than cutoff millis, all kinds.
func (s *Store) PruneMetricsBefore(cutoffMs int64) (int64, error) {
	query := `DELETE FROM metrics WHERE ts < ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return 0, storageErr("prune metrics", err)
	}
	res, err := stmt.Exec(cutoffMs)
	if err != nil {
		return 0, storageErr("prune metrics", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.WithFields(logger.Fields{"deleted": n, "cutoff": cutoffMs}).Info("pruned metric samples")
	}
	return n, nil
}

// ListChains returns every chain id with a current state record.
func (s *Store) ListChains() ([]string, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT chain FROM chain_state_current ORDER BY chain ASC`)
	if err != nil {
		return nil, storageErr("list chains", err)
	}
	rows, err := stmt.Query()
	if err != nil {
		return nil, storageErr("list chains", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var chain string
		if err := rows.Scan(&chain); err != nil {
			return nil, storageErr("list chains", err)
		}
		out = append(out, chain)
	}
	return out, rows.Err()
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
