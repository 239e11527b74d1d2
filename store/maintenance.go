package store

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/common"
)

const (
	DefaultSnapshotInterval = 10 * time.Minute
	DefaultSweepInterval    = time.Minute
	DefaultMetricsRetention = 7 * 24 * time.Hour
)

type MaintenanceConfig struct {
	SnapshotInterval time.Duration
	SweepInterval    time.Duration
	MetricsRetention time.Duration
	SnapshotsToKeep  int
}

func (c *MaintenanceConfig) withDefaults() *MaintenanceConfig {
	out := &MaintenanceConfig{
		SnapshotInterval: DefaultSnapshotInterval,
		SweepInterval:    DefaultSweepInterval,
		MetricsRetention: DefaultMetricsRetention,
		SnapshotsToKeep:  DefaultSnapshotsToKeep,
	}
	if c == nil {
		return out
	}
	if c.SnapshotInterval > 0 {
		out.SnapshotInterval = c.SnapshotInterval
	}
	if c.SweepInterval > 0 {
		out.SweepInterval = c.SweepInterval
	}
	if c.MetricsRetention > 0 {
		out.MetricsRetention = c.MetricsRetention
	}
	if c.SnapshotsToKeep > 0 {
		out.SnapshotsToKeep = c.SnapshotsToKeep
	}
	return out
}

// Maintenance runs the store's background upkeep: periodic snapshots, the
// metric retention sweep and snapshot pruning. Each tick catches and logs
// its own failure so a bad cycle never stops the loop.
type Maintenance struct {
	store *Store
	cfg   *MaintenanceConfig
}

func NewMaintenance(store *Store, cfg *MaintenanceConfig) *Maintenance {
	return &Maintenance{store: store, cfg: cfg.withDefaults()}
}

func (m *Maintenance) Loop(ctx context.Context) error {
	logger.Info("starting store maintenance")
	defer logger.Info("stopping store maintenance")

	snapTicker := time.NewTicker(m.cfg.SnapshotInterval)
	defer snapTicker.Stop()
	sweepTicker := time.NewTicker(m.cfg.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-snapTicker.C:
			if _, err := m.store.CreateSnapshot("scheduled"); err != nil {
				logger.WithField("error", err).Error("scheduled snapshot failed")
			}

		case <-sweepTicker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one retention pass. Exposed so shutdown and tests can force
// a cycle without waiting out the ticker.
func (m *Maintenance) Sweep() {
	cutoff := common.NowMillis() - m.cfg.MetricsRetention.Milliseconds()
	if _, err := m.store.PruneMetricsBefore(cutoff); err != nil {
		logger.WithField("error", err).Error("metrics retention sweep failed")
	}
	if _, err := m.store.PruneSnapshots(m.cfg.SnapshotsToKeep); err != nil {
		logger.WithField("error", err).Error("snapshot pruning failed")
	}
}
