package monitor

import (
	"sync"

	logger "github.com/sirupsen/logrus"
)

const subscriberBuffer = 32

// Subscriber is one connected realtime consumer. Events arrive on C; a
// subscriber that stops draining loses events, never blocks the hub.
type Subscriber struct {
	C  chan Event
	id int
}

// Hub fans events out to all connected subscribers. Delivery to one
// subscriber is independent of every other; a disconnect mid-broadcast
// affects only that subscriber.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*Subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*Subscriber)}
}

func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscriber{
		C:  make(chan Event, subscriberBuffer),
		id: h.nextID,
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
		close(sub.C)
	}
}

func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.C <- ev:
		default:
			logger.WithFields(logger.Fields{
				"subscriber": sub.id,
				"event":      ev.Type,
			}).Warn("subscriber buffer full, event dropped")
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
