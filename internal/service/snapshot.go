package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"busline/internal/apperrors"
	"busline/internal/cache"
	"busline/internal/locktable"
	"busline/internal/models"
)

// SnapshotService produces the full seat-state view of a trip segment, used
// for initial render and reconnect resync. The lock table is authoritative;
// Redis holds a short-lived neutral projection that seat events invalidate.
type SnapshotService struct {
	table   *locktable.Table
	catalog Catalog
	cache   *cache.Client
}

// Get returns every seat of the trip with its state over the segment. The
// Mine flag marks seats held by the requesting session and is applied after
// the cached read, since the cached projection is session-neutral.
func (s *SnapshotService) Get(ctx context.Context, sessionID string, tripID int64, seg locktable.Segment) (*models.SnapshotResponse, error) {
	trip, err := s.catalog.GetTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	if trip == nil {
		return nil, apperrors.NewValidation("trip_id", "unknown trip")
	}
	if !seg.Valid() || seg.To >= trip.StopCount {
		return nil, apperrors.NewValidation("segment", fmt.Sprintf("segment %s outside trip stops", seg))
	}

	// The generation is captured before any table state is read, so a seat
	// event arriving mid-build keeps the stale result out of the cache.
	var gen uint64
	if s.cache != nil {
		if raw, err := s.cache.GetSnapshotRaw(ctx, tripID, seg.From, seg.To); err == nil {
			var snapshot models.SnapshotResponse
			if err := json.Unmarshal(raw, &snapshot); err == nil {
				s.markOwn(sessionID, &snapshot, seg)
				return &snapshot, nil
			}
		}
		gen = s.cache.Generation(tripID)
	}

	seats, err := s.catalog.ListSeats(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to list seats: %w", err)
	}

	snapshot := &models.SnapshotResponse{
		TripID:      tripID,
		SegmentFrom: seg.From,
		SegmentTo:   seg.To,
		Seats:       make([]models.SeatSnapshotItem, 0, len(seats)),
		TakenAt:     time.Now(),
	}
	for _, seat := range seats {
		item := models.SeatSnapshotItem{
			SeatID: seat.ID,
			Floor:  seat.Floor,
			Row:    seat.Row,
			Column: seat.Column,
			IsSeat: seat.IsSeat,
			State:  models.SeatStateAvailable,
			Price:  formatPrice(seat.Price),
		}
		if seat.IsSeat {
			key := locktable.Key{TripID: tripID, SeatID: seat.ID}
			switch state, _ := s.table.SeatState(key, seg); state {
			case locktable.StateHeld:
				item.State = models.SeatStateHeld
			case locktable.StateConfirmed:
				item.State = models.SeatStateConfirmed
			}
		}
		snapshot.Seats = append(snapshot.Seats, item)
	}

	if s.cache != nil {
		if err := s.cache.SetSnapshot(ctx, tripID, seg.From, seg.To, gen, snapshot); err != nil {
			slog.Warn("Failed to cache snapshot", "error", err, "trip_id", tripID)
		}
	}

	s.markOwn(sessionID, snapshot, seg)
	return snapshot, nil
}

// markOwn sets Mine on held seats whose current holder is the requesting
// session. Run on every response, cached or fresh, so the flag is never
// served from another session's view.
func (s *SnapshotService) markOwn(sessionID string, snapshot *models.SnapshotResponse, seg locktable.Segment) {
	if sessionID == "" {
		return
	}
	for i := range snapshot.Seats {
		item := &snapshot.Seats[i]
		if item.State != models.SeatStateHeld {
			item.Mine = false
			continue
		}
		key := locktable.Key{TripID: snapshot.TripID, SeatID: item.SeatID}
		_, holder := s.table.SeatState(key, seg)
		item.Mine = holder == sessionID
	}
}

func formatPrice(price *int64) string {
	if price == nil {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(*price)/100.0)
}
