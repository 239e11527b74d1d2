package monitor

// EventType names one kind of push to realtime subscribers.
type EventType string

const (
	EventAlertCreated       EventType = "alert_created"
	EventAlertUpdated       EventType = "alert_updated"
	EventMetricsUpdated     EventType = "metrics_updated"
	EventStateUpdated       EventType = "state_updated"
	EventTransactionUpdated EventType = "transaction_updated"
)

// Event is one push to realtime subscribers.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}
