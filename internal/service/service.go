package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"busline/internal/broadcast"
	"busline/internal/cache"
	"busline/internal/locktable"
	"busline/internal/messaging"
	"busline/internal/metrics"
	"busline/internal/models"
	"busline/internal/search"
)

// Catalog provides read-only trip and seat layout lookups. Implemented by
// repository.TripRepository; tests substitute an in-memory catalog.
type Catalog interface {
	GetTrip(ctx context.Context, id int64) (*models.Trip, error)
	GetSeat(ctx context.Context, tripID int64, seatID string) (*models.Seat, error)
	ListSeats(ctx context.Context, tripID int64) ([]models.Seat, error)
}

// BookingStore is the durable write target for confirmed bookings.
// Implemented by repository.BookingRepository.
type BookingStore interface {
	CreateConfirmed(ctx context.Context, booking *models.Booking, sales []models.SeatSale) error
	GetByID(ctx context.Context, id int64) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID int64) ([]models.SeatSale, error)
	ListActiveSales(ctx context.Context) ([]models.SeatSale, error)
}

// TripSearcher is the database fallback for trip search when Elasticsearch
// is not configured.
type TripSearcher interface {
	Search(ctx context.Context, query, date string, page, pageSize int) ([]models.Trip, error)
}

type Services struct {
	Holds    *HoldService
	Bookings *BookingService
	Snapshot *SnapshotService
	Trips    *TripService
}

// Deps carries everything the services need. NATS, Redis, Elasticsearch and
// Metrics are optional; a nil client degrades that concern with a log line
// instead of failing requests.
type Deps struct {
	Table    *locktable.Table
	Catalog  Catalog
	Bookings BookingStore
	Searcher TripSearcher

	Hub     *broadcast.Hub
	NATS    *messaging.NATSClient
	Cache   *cache.Client
	Search  *search.Client
	Metrics *metrics.Metrics

	HoldTTL         time.Duration
	FinalizeTimeout time.Duration

	// InstanceID stamps outgoing events so the NATS relay can tell local
	// events from remote ones.
	InstanceID string
}

func NewServices(deps Deps) *Services {
	if deps.InstanceID == "" {
		deps.InstanceID = uuid.New().String()
	}
	em := emitter{
		hub:     deps.Hub,
		nats:    deps.NATS,
		cache:   deps.Cache,
		metrics: deps.Metrics,
		origin:  deps.InstanceID,
	}

	return &Services{
		Holds: &HoldService{
			table:   deps.Table,
			catalog: deps.Catalog,
			emitter: em,
			holdTTL: deps.HoldTTL,
		},
		Bookings: &BookingService{
			table:           deps.Table,
			catalog:         deps.Catalog,
			store:           deps.Bookings,
			emitter:         em,
			finalizeTimeout: deps.FinalizeTimeout,
		},
		Snapshot: &SnapshotService{
			table:   deps.Table,
			catalog: deps.Catalog,
			cache:   deps.Cache,
		},
		Trips: &TripService{
			search:   deps.Search,
			searcher: deps.Searcher,
		},
	}
}

// emitter pushes one seat event to every delivery path: the local hub, the
// NATS relay, the snapshot cache invalidation and the metrics counters. The
// lock table mutation has already committed by the time emit runs; delivery
// failures are logged, never escalated.
type emitter struct {
	hub     *broadcast.Hub
	nats    *messaging.NATSClient
	cache   *cache.Client
	metrics *metrics.Metrics
	origin  string
}

func (e *emitter) emit(ctx context.Context, event models.SeatEvent) {
	event.ID = uuid.New().String()
	event.At = time.Now()
	event.Origin = e.origin

	if e.cache != nil {
		if err := e.cache.InvalidateTrip(ctx, event.TripID); err != nil {
			slog.Warn("Failed to invalidate snapshot cache",
				"error", err, "trip_id", event.TripID)
		}
	}

	if e.hub != nil {
		e.hub.Publish(event)
	}

	if e.metrics != nil {
		e.metrics.EventsPublished.WithLabelValues(event.Type).Inc()
	}

	if e.nats != nil {
		if err := e.nats.Publish(event.Type, event); err != nil {
			slog.Error("Failed to relay seat event",
				"error", err,
				"event_type", event.Type,
				"trip_id", event.TripID,
				"seat_id", event.SeatID)
		}
	}
}
