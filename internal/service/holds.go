package service

import (
	"context"
	"fmt"
	"time"

	"busline/internal/apperrors"
	"busline/internal/locktable"
	"busline/internal/models"
)

// HoldService enforces the seat-hold protocol on top of the lock table:
// acquire, heartbeat, release, expiry sweep and session cleanup. Acquire
// fails fast; there is no queueing for a seat to free up.
type HoldService struct {
	table   *locktable.Table
	catalog Catalog
	emitter
	holdTTL time.Duration
}

// validateRef checks a trip/seat/segment reference against the catalog and
// returns the seat. Malformed references never reach the lock table.
func (s *HoldService) validateRef(ctx context.Context, tripID int64, seatID string, seg locktable.Segment) (*models.Seat, error) {
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

	seat, err := s.catalog.GetSeat(ctx, tripID, seatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get seat: %w", err)
	}
	if seat == nil {
		return nil, apperrors.NewValidation("seat_id", "unknown seat")
	}
	if !seat.IsSeat {
		return nil, apperrors.NewValidation("seat_id", "not a sellable seat")
	}
	return seat, nil
}

// Acquire grants a hold on the seat segment or reports it unavailable.
func (s *HoldService) Acquire(ctx context.Context, sessionID string, req *models.AcquireHoldRequest) (*models.AcquireHoldResponse, error) {
	seg := locktable.Segment{From: *req.SegmentFrom, To: *req.SegmentTo}
	if _, err := s.validateRef(ctx, req.TripID, req.SeatID, seg); err != nil {
		return nil, err
	}

	key := locktable.Key{TripID: req.TripID, SeatID: req.SeatID}
	hold, conflict := s.table.TryInsert(key, seg, sessionID, s.holdTTL)
	if conflict != nil {
		if s.metrics != nil {
			s.metrics.HoldConflicts.Inc()
		}
		return nil, apperrors.ErrSeatUnavailable
	}

	if s.metrics != nil {
		s.metrics.HoldsGranted.Inc()
	}
	s.emit(ctx, models.SeatEvent{
		Type:        models.EventSeatLocked,
		TripID:      req.TripID,
		SeatID:      req.SeatID,
		SegmentFrom: seg.From,
		SegmentTo:   seg.To,
	})

	return &models.AcquireHoldResponse{
		TripID:      req.TripID,
		SeatID:      req.SeatID,
		SegmentFrom: seg.From,
		SegmentTo:   seg.To,
		ExpiresAt:   hold.ExpiresAt,
		TTLSeconds:  int(s.holdTTL / time.Second),
	}, nil
}

// Heartbeat extends the expiry of a hold the session still owns. A lapsed
// or stolen hold is reported as NotOwner so the client can tell the user
// their selection expired.
func (s *HoldService) Heartbeat(ctx context.Context, sessionID string, req *models.HeartbeatRequest) (*models.HeartbeatResponse, error) {
	key := locktable.Key{TripID: req.TripID, SeatID: req.SeatID}
	seg := locktable.Segment{From: *req.SegmentFrom, To: *req.SegmentTo}

	hold, status := s.table.Renew(key, seg, sessionID, s.holdTTL)
	if status != locktable.StatusOk {
		return nil, apperrors.ErrNotOwner
	}
	return &models.HeartbeatResponse{ExpiresAt: hold.ExpiresAt}, nil
}

// Release voluntarily gives up a hold (user deselected the seat).
func (s *HoldService) Release(ctx context.Context, sessionID string, req *models.ReleaseHoldRequest) error {
	key := locktable.Key{TripID: req.TripID, SeatID: req.SeatID}
	seg := locktable.Segment{From: *req.SegmentFrom, To: *req.SegmentTo}

	_, status := s.table.Remove(key, seg, sessionID)
	if status != locktable.StatusOk {
		return apperrors.ErrNotOwner
	}

	if s.metrics != nil {
		s.metrics.HoldsReleased.WithLabelValues(models.ReasonReleased).Inc()
	}
	s.emit(ctx, models.SeatEvent{
		Type:        models.EventSeatUnlocked,
		TripID:      req.TripID,
		SeatID:      req.SeatID,
		SegmentFrom: seg.From,
		SegmentTo:   seg.To,
		Reason:      models.ReasonReleased,
	})
	return nil
}

// ExpireSweep removes every lapsed hold and announces each as unlocked with
// reason expired. Run on a fixed interval by the sweep job; idempotent.
func (s *HoldService) ExpireSweep(ctx context.Context) int {
	expired := s.table.SweepExpired(time.Now())
	for _, h := range expired {
		if s.metrics != nil {
			s.metrics.HoldsReleased.WithLabelValues(models.ReasonExpired).Inc()
		}
		s.emit(ctx, models.SeatEvent{
			Type:        models.EventSeatUnlocked,
			TripID:      h.Key.TripID,
			SeatID:      h.Key.SeatID,
			SegmentFrom: h.Segment.From,
			SegmentTo:   h.Segment.To,
			Reason:      models.ReasonExpired,
		})
	}
	return len(expired)
}

// ReleaseSession frees every hold owned by a session, used when the
// session's transport goes away for good.
func (s *HoldService) ReleaseSession(ctx context.Context, sessionID string) int {
	removed := s.table.RemoveAllByOwner(sessionID)
	for _, h := range removed {
		if s.metrics != nil {
			s.metrics.HoldsReleased.WithLabelValues(models.ReasonSessionClosed).Inc()
		}
		s.emit(ctx, models.SeatEvent{
			Type:        models.EventSeatUnlocked,
			TripID:      h.Key.TripID,
			SeatID:      h.Key.SeatID,
			SegmentFrom: h.Segment.From,
			SegmentTo:   h.Segment.To,
			Reason:      models.ReasonSessionClosed,
		})
	}
	return len(removed)
}

// UpdateGauges refreshes the hold/confirmed gauges from a table scan. Called
// from the sweep job rather than per request.
func (s *HoldService) UpdateGauges() {
	if s.metrics == nil {
		return
	}
	holds, confirmed := s.table.Counts()
	s.metrics.ActiveHolds.Set(float64(holds))
	s.metrics.ConfirmedSeats.Set(float64(confirmed))
}
