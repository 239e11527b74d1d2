package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nockbridge/bridge-go/store"
)

func TestAlertLifecycle(t *testing.T) {
	f := newFixture(t, nil, nil)

	alert, err := f.mon.CreateAlert(store.AlertBridgeCongestion, store.SeverityMedium, "bridge",
		"queue building up", map[string]interface{}{"pending": 120})
	require.NoError(t, err)
	require.NotEmpty(t, alert.ID)
	assert.False(t, alert.Acknowledged)
	assert.False(t, alert.Resolved())

	acked, err := f.mon.Acknowledge(alert.ID)
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)

	// acknowledging twice is a no-op, not an error
	again, err := f.mon.Acknowledge(alert.ID)
	require.NoError(t, err)
	assert.True(t, again.Acknowledged)

	resolved, err := f.mon.Resolve(alert.ID, "oncall", "queue drained")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved())
	assert.Equal(t, "oncall", resolved.ResolvedBy)

	active, err := f.st.GetActiveAlerts()
	require.NoError(t, err)
	assert.Len(t, active, 0)
}

// Resolved alerts are terminal: both transitions out of them are refused
// with an explicit error, never silently accepted.
func TestResolvedAlertIsTerminal(t *testing.T) {
	f := newFixture(t, nil, nil)

	alert, err := f.mon.CreateAlert(store.AlertSecurityIncident, store.SeverityLow, "bridge", "drill", nil)
	require.NoError(t, err)

	// resolving straight from open, without an ack, is allowed
	_, err = f.mon.Resolve(alert.ID, "oncall", "")
	require.NoError(t, err)

	_, err = f.mon.Acknowledge(alert.ID)
	assert.ErrorIs(t, err, ErrAlertResolved)

	_, err = f.mon.Resolve(alert.ID, "oncall", "again")
	assert.ErrorIs(t, err, ErrAlertResolved)
}

func TestAlertNotFound(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.mon.GetAlert("no-such-id")
	assert.ErrorIs(t, err, ErrAlertNotFound)
	_, err = f.mon.Acknowledge("no-such-id")
	assert.ErrorIs(t, err, ErrAlertNotFound)
	_, err = f.mon.Resolve("no-such-id", "", "")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

// Rule-driven raises deduplicate while an alert of the same type and
// origin is open; explicit CreateAlert calls never deduplicate.
func TestRuleDeduplication(t *testing.T) {
	f := newFixture(t, nil, nil)

	for i := 0; i < 5; i++ {
		f.mon.raiseRule(store.AlertSyncDelay, store.SeverityHigh, "solana", "stalled", nil)
	}
	alerts, err := f.st.GetAlertsByType(store.AlertSyncDelay, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	// explicit creation bypasses dedup entirely
	_, err = f.mon.CreateAlert(store.AlertSyncDelay, store.SeverityHigh, "solana", "stalled", nil)
	require.NoError(t, err)
	alerts, err = f.st.GetAlertsByType(store.AlertSyncDelay, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

// Resolving the open alert does not immediately re-arm the rule: the
// dedup window still applies to a fresh raise of the same key.
func TestRuleDedupWindowAfterResolve(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.mon.raiseRule(store.AlertLiquidityLow, store.SeverityHigh, "bridge", "thin", nil)
	alerts, err := f.st.GetAlertsByType(store.AlertLiquidityLow, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	_, err = f.mon.Resolve(alerts[0].ID, "oncall", "topped up")
	require.NoError(t, err)

	f.mon.raiseRule(store.AlertLiquidityLow, store.SeverityHigh, "bridge", "thin", nil)
	alerts, err = f.st.GetAlertsByType(store.AlertLiquidityLow, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

// A restarted monitor rebuilds its dedup table from persisted open
// alerts, so a rule firing right after restart does not double-raise.
func TestOpenAlertsSurviveRestart(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.mon.CreateAlert(store.AlertBridgeCongestion, store.SeverityMedium, "bridge", "queue", nil)
	require.NoError(t, err)

	fresh, err := New(f.st, f.sync, nil, f.notif, &Config{SourceChain: "nockchain", DestChain: "solana"})
	require.NoError(t, err)

	fresh.raiseRule(store.AlertBridgeCongestion, store.SeverityMedium, "bridge", "queue", nil)
	alerts, err := f.st.GetAlertsByType(store.AlertBridgeCongestion, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}
