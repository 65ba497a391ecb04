package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/stan.go"

	"busline/internal/broadcast"
	"busline/internal/cache"
	"busline/internal/messaging"
	"busline/internal/models"
)

// Relay feeds seat events published by other service instances into the
// local broadcast hub, so subscribers of any replica see the same stream.
// Events stamped with this instance's own origin are skipped; they already
// went through the local hub when they were emitted.
type Relay struct {
	nats       *messaging.NATSClient
	hub        *broadcast.Hub
	cache      *cache.Client
	instanceID string

	subs []stan.Subscription
}

func NewRelay(nats *messaging.NATSClient, hub *broadcast.Hub, cacheClient *cache.Client, instanceID string) *Relay {
	return &Relay{
		nats:       nats,
		hub:        hub,
		cache:      cacheClient,
		instanceID: instanceID,
	}
}

// Start subscribes to every seat event subject. Without a NATS client the
// relay is inert and the instance serves its local view only.
func (r *Relay) Start() error {
	if r.nats == nil {
		return nil
	}
	subjects := []string{
		models.EventSeatLocked,
		models.EventSeatUnlocked,
		models.EventSeatConfirmed,
	}
	for _, subject := range subjects {
		sub, err := r.nats.Subscribe(subject, r.handle)
		if err != nil {
			r.Stop()
			return err
		}
		r.subs = append(r.subs, sub)
	}
	return nil
}

func (r *Relay) handle(msg *stan.Msg) {
	var event models.SeatEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		slog.Error("Failed to decode relayed seat event", "error", err, "subject", msg.Subject)
		return
	}
	if event.Origin == r.instanceID {
		return
	}

	if r.cache != nil {
		if err := r.cache.InvalidateTrip(context.Background(), event.TripID); err != nil {
			slog.Warn("Failed to invalidate snapshot cache for relayed event",
				"error", err, "trip_id", event.TripID)
		}
	}
	r.hub.Publish(event)
}

// Stop drops the subscriptions.
func (r *Relay) Stop() {
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("Failed to unsubscribe relay", "error", err)
		}
	}
	r.subs = nil
}
