// External notification channels for high and critical alerts. Delivery
// is best-effort: failures are logged, never retried indefinitely, and
// never block alert creation.
package notifier

import (
	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/store"
)

type Notifier interface {
	Notify(alert *store.MonitoringAlert) error
}

// Multi fans an alert out to several channels; one channel failing does
// not stop delivery to the rest.
type Multi struct {
	channels []Notifier
}

func NewMulti(channels ...Notifier) *Multi {
	return &Multi{channels: channels}
}

func (m *Multi) Notify(alert *store.MonitoringAlert) error {
	var lastErr error
	for _, ch := range m.channels {
		if err := ch.Notify(alert); err != nil {
			logger.WithFields(logger.Fields{
				"alert": alert.ID,
				"error": err,
			}).Warn("notification channel failed")
			lastErr = err
		}
	}
	return lastErr
}

// Nop satisfies Notifier when no channel is configured.
type Nop struct{}

func (Nop) Notify(*store.MonitoringAlert) error { return nil }
