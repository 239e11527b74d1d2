package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/common"
)

const (
	// transaction window bundled into every snapshot
	snapshotTxWindow = 24 * time.Hour
	// metrics tail bundled into every snapshot
	snapshotMetricsWindow = time.Hour

	DefaultSnapshotsToKeep = 10
)

// checksumSnapshot hashes the canonical JSON form of the snapshot with the
// checksum field zeroed, so the stored value can be recomputed on restore.
func checksumSnapshot(snap *StateSnapshot) (string, error) {
	shadow := *snap
	shadow.Checksum = ""
	raw, err := json.Marshal(&shadow)
	if err != nil {
		return "", err
	}
	return common.ByteSliceToPureHexStr(crypto.Keccak256(raw)), nil
}

// CreateSnapshot bundles all current chain states, the last 24h of
// transactions and the recent metrics tail, checksums the bundle and
// persists it. Returns the snapshot id.
func (s *Store) CreateSnapshot(reason string) (string, error) {
	now := common.NowMillis()
	snap := &StateSnapshot{
		ID:        uuid.NewString(),
		Reason:    reason,
		CreatedAt: now,
	}

	chains, err := s.ListChains()
	if err != nil {
		return "", err
	}
	for _, chain := range chains {
		cs, ok, err := s.GetChainState(chain)
		if err != nil {
			return "", err
		}
		if ok {
			snap.ChainStates = append(snap.ChainStates, cs)
		}
	}

	txs, err := s.GetTransactionsSince(now - snapshotTxWindow.Milliseconds())
	if err != nil {
		return "", err
	}
	snap.Transactions = txs

	metricsFrom := now - snapshotMetricsWindow.Milliseconds()
	kinds := []string{MetricsKindBridge}
	for _, chain := range chains {
		kinds = append(kinds, MetricsKindChain(chain))
	}
	for _, kind := range kinds {
		points, err := s.GetMetricsHistory(kind, metricsFrom, now)
		if err != nil {
			return "", err
		}
		snap.Metrics = append(snap.Metrics, points...)
	}

	checksum, err := checksumSnapshot(snap)
	if err != nil {
		return "", storageErr("create snapshot", err)
	}
	snap.Checksum = checksum

	payload, err := json.Marshal(snap)
	if err != nil {
		return "", storageErr("create snapshot", err)
	}

	query := `INSERT INTO snapshots (id, createdAt, reason, payload, checksum) VALUES (?, ?, ?, ?, ?)`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return "", storageErr("create snapshot", err)
	}
	if _, err := stmt.Exec(snap.ID, snap.CreatedAt, snap.Reason, payload, checksum); err != nil {
		return "", storageErr("create snapshot", err)
	}

	logger.WithFields(logger.Fields{
		"id":           snap.ID,
		"reason":       reason,
		"chain_states": len(snap.ChainStates),
		"transactions": len(snap.Transactions),
		"metrics":      len(snap.Metrics),
	}).Info("created state snapshot")

	return snap.ID, nil
}

// GetSnapshot loads and decodes a stored snapshot without verifying it.
func (s *Store) GetSnapshot(id string) (*StateSnapshot, error) {
	query := `SELECT payload, checksum FROM snapshots WHERE id = ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, storageErr("get snapshot", err)
	}

	var (
		payload  []byte
		checksum string
	)
	if err := stmt.QueryRow(id).Scan(&payload, &checksum); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, storageErr("get snapshot", err)
	}

	var snap StateSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, storageErr("decode snapshot", err)
	}
	// the column is authoritative; a payload edit cannot smuggle in a
	// matching embedded checksum
	snap.Checksum = checksum
	return &snap, nil
}

// LatestSnapshotID returns the id of the newest stored snapshot.
func (s *Store) LatestSnapshotID() (string, bool, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT id FROM snapshots ORDER BY createdAt DESC LIMIT 1`)
	if err != nil {
		return "", false, storageErr("latest snapshot", err)
	}
	var id string
	if err := stmt.QueryRow().Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, storageErr("latest snapshot", err)
	}
	return id, true, nil
}

// RestoreFromSnapshot verifies the stored checksum and, only on success,
// replays chain states and transactions through the normal save paths so
// every index stays consistent. A checksum mismatch writes nothing.
func (s *Store) RestoreFromSnapshot(id string) (*StateSnapshot, error) {
	snap, err := s.GetSnapshot(id)
	if err != nil {
		return nil, err
	}

	computed, err := checksumSnapshot(snap)
	if err != nil {
		return nil, storageErr("restore snapshot", err)
	}
	if computed != snap.Checksum {
		logger.WithFields(logger.Fields{
			"id":       id,
			"stored":   snap.Checksum,
			"computed": computed,
		}).Error("snapshot checksum mismatch, refusing restore")
		return nil, ErrSnapshotChecksumMismatch(id, snap.Checksum, computed)
	}

	for _, cs := range snap.ChainStates {
		if err := s.PutChainState(cs); err != nil {
			return nil, err
		}
	}
	for _, t := range snap.Transactions {
		if err := s.SaveTransaction(t); err != nil {
			return nil, err
		}
	}
	for _, p := range snap.Metrics {
		if err := s.SaveMetrics(p.Kind, p.Timestamp, p.Payload); err != nil {
			return nil, err
		}
	}

	logger.WithFields(logger.Fields{
		"id":           id,
		"chain_states": len(snap.ChainStates),
		"transactions": len(snap.Transactions),
	}).Info("restored state from snapshot")

	return snap, nil
}

// PruneSnapshots keeps only the newest keep snapshots, deleting oldest
// first, and reports how many were removed.
func (s *Store) PruneSnapshots(keep int) (int64, error) {
	if keep <= 0 {
		keep = DefaultSnapshotsToKeep
	}
	query := `DELETE FROM snapshots WHERE id NOT IN
		(SELECT id FROM snapshots ORDER BY createdAt DESC LIMIT ?)`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return 0, storageErr("prune snapshots", err)
	}
	res, err := stmt.Exec(keep)
	if err != nil {
		return 0, storageErr("prune snapshots", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.WithFields(logger.Fields{"deleted": n, "kept": keep}).Info("pruned snapshots")
	}
	return n, nil
}
