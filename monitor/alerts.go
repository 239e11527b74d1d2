package monitor

import (
	"errors"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/common"
	"github.com/nockbridge/bridge-go/store"
)

var (
	ErrAlertNotFound = errors.New("alert not found")
	// ErrAlertResolved: resolved is terminal; acknowledging or
	// re-resolving a resolved alert is an explicit error, not a no-op.
	ErrAlertResolved = errors.New("alert already resolved")
)

type alertKey struct {
	typ    store.AlertType
	origin string
}

type openAlert struct {
	id       string
	raisedAt int64
}

// CreateAlert raises an alert unconditionally. Creation is not
// deduplicated here; rule evaluators go through raiseRule, which applies
// the re-raise holdoff policy.
func (m *Monitor) CreateAlert(typ store.AlertType, sev store.AlertSeverity, origin, message string, metadata map[string]interface{}) (*store.MonitoringAlert, error) {
	alert := &store.MonitoringAlert{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  sev,
		Origin:    origin,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: common.NowMillis(),
	}

	if err := m.st.SaveAlert(alert); err != nil {
		return nil, err
	}

	key := alertKey{typ, origin}
	m.mu.Lock()
	m.open[key] = &openAlert{id: alert.ID, raisedAt: alert.CreatedAt}
	m.lastRaised[key] = alert.CreatedAt
	nOpen := len(m.open)
	m.mu.Unlock()

	promAlertsRaised.WithLabelValues(string(typ), string(sev)).Inc()
	promOpenAlerts.Set(float64(nOpen))

	logger.WithFields(logger.Fields{
		"id":       alert.ID,
		"type":     typ,
		"severity": sev,
		"origin":   origin,
	}).Warn(message)

	m.hub.Broadcast(Event{Type: EventAlertCreated, Data: alert})

	// high and critical go out to the external channels immediately;
	// delivery failure never blocks or fails creation
	if sev == store.SeverityHigh || sev == store.SeverityCritical {
		go func() {
			if err := m.notif.Notify(alert); err != nil {
				logger.WithFields(logger.Fields{"alert": alert.ID, "error": err}).Warn("alert notification failed")
			}
		}()
	}

	return alert, nil
}

// raiseRule is CreateAlert behind the dedup policy: nothing is raised
// while the same type+origin is already open, or was raised within the
// holdoff window.
func (m *Monitor) raiseRule(typ store.AlertType, sev store.AlertSeverity, origin, message string, metadata map[string]interface{}) {
	key := alertKey{typ, origin}
	now := common.NowMillis()

	m.mu.Lock()
	_, isOpen := m.open[key]
	withinWindow := now-m.lastRaised[key] < m.cfg.DedupWindow.Milliseconds()
	m.mu.Unlock()

	if isOpen || withinWindow {
		return
	}

	if _, err := m.CreateAlert(typ, sev, origin, message, metadata); err != nil {
		logger.WithFields(logger.Fields{"type": typ, "origin": origin, "error": err}).Error("failed to raise alert")
	}
}

func (m *Monitor) GetAlert(id string) (*store.MonitoringAlert, error) {
	alert, ok, err := m.st.GetAlert(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlertNotFound
	}
	return alert, nil
}

// Acknowledge marks an open alert as seen by an operator.
func (m *Monitor) Acknowledge(id string) (*store.MonitoringAlert, error) {
	alert, err := m.GetAlert(id)
	if err != nil {
		return nil, err
	}
	if alert.Resolved() {
		return nil, ErrAlertResolved
	}
	if alert.Acknowledged {
		return alert, nil
	}

	alert.Acknowledged = true
	if err := m.st.SaveAlert(alert); err != nil {
		return nil, err
	}

	m.hub.Broadcast(Event{Type: EventAlertUpdated, Data: alert})
	return alert, nil
}

// Resolve closes an alert. open -> resolved directly is fine; resolving
// a resolved alert is an error.
func (m *Monitor) Resolve(id, by, note string) (*store.MonitoringAlert, error) {
	alert, err := m.GetAlert(id)
	if err != nil {
		return nil, err
	}
	if alert.Resolved() {
		return nil, ErrAlertResolved
	}

	alert.ResolvedAt = common.NowMillis()
	alert.ResolvedBy = by
	alert.ResolutionNote = note
	if err := m.st.SaveAlert(alert); err != nil {
		return nil, err
	}

	key := alertKey{alert.Type, alert.Origin}
	m.mu.Lock()
	if oa, ok := m.open[key]; ok && oa.id == id {
		delete(m.open, key)
	}
	nOpen := len(m.open)
	m.mu.Unlock()
	promOpenAlerts.Set(float64(nOpen))

	logger.WithFields(logger.Fields{"id": id, "by": by}).Info("alert resolved")
	m.hub.Broadcast(Event{Type: EventAlertUpdated, Data: alert})
	return alert, nil
}

// pruneAlerts drops resolved alerts past the retention horizon.
func (m *Monitor) pruneAlerts() {
	cutoff := common.NowMillis() - m.cfg.AlertRetention.Milliseconds()
	if _, err := m.st.DeleteResolvedAlertsBefore(cutoff); err != nil {
		logger.WithField("error", err).Error("alert pruning failed")
	}
}
