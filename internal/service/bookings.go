package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"busline/internal/apperrors"
	"busline/internal/locktable"
	"busline/internal/logger"
	"busline/internal/models"
	"busline/internal/repository"
)

// finalizeGrace is added on top of the finalize timeout when extending hold
// expiries before the durable write, so a hold can never lapse while its
// booking is mid-commit.
const finalizeGrace = 5 * time.Second

// BookingService converts a session's held seats into a durable booking, or
// fails cleanly with the seats that were lost. It is stateless orchestration
// over the lock table and the booking store.
type BookingService struct {
	table   *locktable.Table
	catalog Catalog
	store   BookingStore
	emitter
	finalizeTimeout time.Duration
}

// Finalize books the requested seats for the session, all or nothing.
//
// Phase 1 verifies, atomically against the lock table, that every seat is
// still actively held by the session, and extends the holds past the write
// deadline. Phase 2 persists the booking; the lock table is not locked
// during the write. Phase 3 converts the holds to confirmed and announces
// the sale. A persistence failure leaves the holds intact so the caller can
// retry finalize with the same selection.
func (s *BookingService) Finalize(ctx context.Context, sessionID string, req *models.FinalizeBookingRequest) (*models.FinalizeBookingResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.finalizeTimeout)
	defer cancel()

	seg := locktable.Segment{From: *req.SegmentFrom, To: *req.SegmentTo}

	trip, err := s.catalog.GetTrip(ctx, req.TripID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	if trip == nil {
		return nil, apperrors.NewValidation("trip_id", "unknown trip")
	}
	if !seg.Valid() || seg.To >= trip.StopCount {
		return nil, apperrors.NewValidation("segment", fmt.Sprintf("segment %s outside trip stops", seg))
	}

	seatIDs := dedupe(req.SeatIDs)
	var totalAmount int64
	claims := make([]locktable.Claim, 0, len(seatIDs))
	sales := make([]models.SeatSale, 0, len(seatIDs))
	for _, seatID := range seatIDs {
		seat, err := s.catalog.GetSeat(ctx, req.TripID, seatID)
		if err != nil {
			return nil, fmt.Errorf("failed to get seat: %w", err)
		}
		if seat == nil || !seat.IsSeat {
			return nil, apperrors.NewValidation("seat_ids", fmt.Sprintf("unknown seat %s", seatID))
		}
		if seat.Price != nil {
			totalAmount += *seat.Price
		}
		claims = append(claims, locktable.Claim{
			Key:     locktable.Key{TripID: req.TripID, SeatID: seatID},
			Segment: seg,
		})
		sales = append(sales, models.SeatSale{
			TripID:      req.TripID,
			SeatID:      seatID,
			SegmentFrom: seg.From,
			SegmentTo:   seg.To,
		})
	}

	// Phase 1: verify ownership and pin the holds past the write deadline.
	extendUntil := time.Now().Add(s.finalizeTimeout + finalizeGrace)
	if err := s.table.PrepareConfirm(sessionID, claims, extendUntil); err != nil {
		var ce *locktable.ConfirmError
		if errors.As(err, &ce) {
			s.countFinalize("rejected")
			return nil, s.rejection(ce.Failed)
		}
		return nil, err
	}

	// Phase 2: durable write. No lock table locks are held here.
	booking := &models.Booking{
		BookingRef:    uuid.New().String(),
		TripID:        req.TripID,
		SessionID:     sessionID,
		SegmentFrom:   seg.From,
		SegmentTo:     seg.To,
		Status:        models.BookingConfirmed,
		CustomerName:  req.Customer.Name,
		CustomerPhone: req.Customer.Phone,
		TotalAmount:   &totalAmount,
	}
	if err := s.store.CreateConfirmed(ctx, booking, sales); err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			// Timeout is failure, not success-unknown. The holds stay with
			// the session until their own TTL lapses.
			s.countFinalize("timeout")
			return nil, fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		case errors.Is(err, repository.ErrDuplicateSale):
			// Another instance sold a seat between our hold and our write.
			s.countFinalize("rejected")
			return nil, s.rejection(claims)
		default:
			// Holds stay intact (and extended); the caller retries
			// finalize, not acquire.
			s.countFinalize("persistence_failure")
			return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
		}
	}

	// Phase 3: the sale is durable; convert the holds and announce it.
	if err := s.table.ConfirmAll(sessionID, claims); err != nil {
		// The durable write is the source of truth. Seeding the confirmed
		// state directly keeps the runtime view consistent with it.
		logger.WithContext(ctx).Error("ConfirmAll failed after durable write, reseeding",
			"error", err, "booking_id", booking.ID)
		s.table.SeedConfirmed(claims)
	}

	for _, c := range claims {
		s.emit(ctx, models.SeatEvent{
			Type:        models.EventSeatConfirmed,
			TripID:      c.Key.TripID,
			SeatID:      c.Key.SeatID,
			SegmentFrom: c.Segment.From,
			SegmentTo:   c.Segment.To,
		})
	}

	s.countFinalize("success")
	if s.metrics != nil {
		s.metrics.FinalizeDuration.Observe(time.Since(start).Seconds())
	}

	return &models.FinalizeBookingResponse{
		ID:          booking.ID,
		BookingRef:  booking.BookingRef,
		TripID:      booking.TripID,
		SegmentFrom: booking.SegmentFrom,
		SegmentTo:   booking.SegmentTo,
		Seats:       seatIDs,
		Status:      booking.Status,
		TotalAmount: fmt.Sprintf("%.2f", float64(totalAmount)/100.0),
	}, nil
}

// rejection builds the per-seat failure report. Seats currently held or
// confirmed by another party are "taken"; seats now free lapsed from the
// caller's own selection. The caller reselects only the listed seats.
func (s *BookingService) rejection(failed []locktable.Claim) *apperrors.Rejection {
	seats := make([]string, 0, len(failed))
	code := apperrors.CodeNotOwner
	for _, c := range failed {
		seats = append(seats, c.Key.SeatID)
		if state, _ := s.table.SeatState(c.Key, c.Segment); state != locktable.StateFree {
			code = apperrors.CodeSeatUnavailable
		}
	}
	err := apperrors.ErrNotOwner
	if code == apperrors.CodeSeatUnavailable {
		err = apperrors.ErrSeatUnavailable
	}
	return &apperrors.Rejection{Code: code, Seats: seats, Err: err}
}

// Get looks up a booking by id, including its seats.
func (s *BookingService) Get(ctx context.Context, id int64) (*models.Booking, error) {
	booking, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, apperrors.ErrNotFound
	}
	return booking, nil
}

// Cancel reverses a confirmed booking. The seats return to available, not
// re-locked; clients see an unlocked event with reason cancelled.
func (s *BookingService) Cancel(ctx context.Context, req *models.CancelBookingRequest) error {
	sales, err := s.store.Cancel(ctx, req.BookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to cancel booking: %w", err)
	}

	claims := make([]locktable.Claim, 0, len(sales))
	for _, sale := range sales {
		claims = append(claims, locktable.Claim{
			Key:     locktable.Key{TripID: sale.TripID, SeatID: sale.SeatID},
			Segment: locktable.Segment{From: sale.SegmentFrom, To: sale.SegmentTo},
		})
	}
	s.table.Unconfirm(claims)

	for _, c := range claims {
		s.emit(ctx, models.SeatEvent{
			Type:        models.EventSeatUnlocked,
			TripID:      c.Key.TripID,
			SeatID:      c.Key.SeatID,
			SegmentFrom: c.Segment.From,
			SegmentTo:   c.Segment.To,
			Reason:      models.ReasonCancelled,
		})
	}
	return nil
}

// RestoreConfirmed seeds the lock table with every active seat sale, called
// once at startup so runtime state matches the durable store.
func (s *BookingService) RestoreConfirmed(ctx context.Context) error {
	sales, err := s.store.ListActiveSales(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sales: %w", err)
	}
	claims := make([]locktable.Claim, 0, len(sales))
	for _, sale := range sales {
		claims = append(claims, locktable.Claim{
			Key:     locktable.Key{TripID: sale.TripID, SeatID: sale.SeatID},
			Segment: locktable.Segment{From: sale.SegmentFrom, To: sale.SegmentTo},
		})
	}
	s.table.SeedConfirmed(claims)
	return nil
}

func (s *BookingService) countFinalize(outcome string) {
	if s.metrics != nil {
		s.metrics.FinalizeAttempts.WithLabelValues(outcome).Inc()
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
