package broadcast

import (
	"log/slog"
	"sync"

	"busline/internal/models"
)

// DefaultBuffer is the per-subscriber event buffer. A subscriber that falls
// this far behind is skipped: delivery is at-least-once only while the
// connection keeps up, and a client that missed events resynchronizes with a
// fresh snapshot on reconnect.
const DefaultBuffer = 64

// Hub fans seat events out to every connection watching a trip. Publish
// never blocks, so the lock manager's hot path is isolated from slow
// subscribers.
type Hub struct {
	mu    sync.RWMutex
	trips map[int64]map[string]*Subscription
}

// Subscription is one connection's registration of interest in a trip.
type Subscription struct {
	ConnectionID string
	TripID       int64
	C            chan models.SeatEvent

	hub  *Hub
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		trips: make(map[int64]map[string]*Subscription),
	}
}

// Subscribe registers a connection for a trip's events. A second subscribe
// with the same connection ID replaces the first.
func (h *Hub) Subscribe(connectionID string, tripID int64) *Subscription {
	sub := &Subscription{
		ConnectionID: connectionID,
		TripID:       tripID,
		C:            make(chan models.SeatEvent, DefaultBuffer),
		hub:          h,
	}

	h.mu.Lock()
	subs, ok := h.trips[tripID]
	if !ok {
		subs = make(map[string]*Subscription)
		h.trips[tripID] = subs
	}
	if old, ok := subs[connectionID]; ok {
		// Retire the replaced subscription through its own once so a later
		// Close on it stays a no-op instead of closing the channel twice.
		old.once.Do(func() { close(old.C) })
	}
	subs[connectionID] = sub
	h.mu.Unlock()

	return sub
}

// Close unsubscribes the connection and releases its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if subs, ok := s.hub.trips[s.TripID]; ok {
			if cur, ok := subs[s.ConnectionID]; ok && cur == s {
				delete(subs, s.ConnectionID)
				if len(subs) == 0 {
					delete(s.hub.trips, s.TripID)
				}
			}
		}
		s.hub.mu.Unlock()
		close(s.C)
	})
}

// Publish delivers the event to every subscriber of its trip without
// blocking. Slow subscribers are skipped and logged; lock table correctness
// is unaffected by delivery failures.
func (h *Hub) Publish(event models.SeatEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.trips[event.TripID] {
		select {
		case sub.C <- event:
		default:
			slog.Warn("Dropping seat event for slow subscriber",
				"connection_id", sub.ConnectionID,
				"trip_id", event.TripID,
				"event_type", event.Type)
		}
	}
}

// SubscriberCount reports how many connections watch a trip.
func (h *Hub) SubscriberCount(tripID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.trips[tripID])
}
