package models

import "time"

// AcquireHoldRequest - request body for POST /api/holds
type AcquireHoldRequest struct {
	TripID      int64  `json:"trip_id" binding:"required"`
	SeatID      string `json:"seat_id" binding:"required"`
	SegmentFrom *int   `json:"segment_from" binding:"required"`
	SegmentTo   *int   `json:"segment_to" binding:"required"`
}

// AcquireHoldResponse - returned on a granted hold. TTLSeconds tells the
// client how often to heartbeat; ExpiresAt is authoritative.
type AcquireHoldResponse struct {
	TripID      int64     `json:"trip_id"`
	SeatID      string    `json:"seat_id"`
	SegmentFrom int       `json:"segment_from"`
	SegmentTo   int       `json:"segment_to"`
	ExpiresAt   time.Time `json:"expires_at"`
	TTLSeconds  int       `json:"ttl_seconds"`
}

// HeartbeatRequest - request body for PATCH /api/holds/heartbeat
type HeartbeatRequest struct {
	TripID      int64  `json:"trip_id" binding:"required"`
	SeatID      string `json:"seat_id" binding:"required"`
	SegmentFrom *int   `json:"segment_from" binding:"required"`
	SegmentTo   *int   `json:"segment_to" binding:"required"`
}

// HeartbeatResponse - new expiry after a successful renew
type HeartbeatResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// ReleaseHoldRequest - request body for PATCH /api/holds/release
type ReleaseHoldRequest struct {
	TripID      int64  `json:"trip_id" binding:"required"`
	SeatID      string `json:"seat_id" binding:"required"`
	SegmentFrom *int   `json:"segment_from" binding:"required"`
	SegmentTo   *int   `json:"segment_to" binding:"required"`
}

// CustomerInfo - passenger contact details captured at checkout
type CustomerInfo struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone" binding:"required"`
	Email string `json:"email"`
}

// FinalizeBookingRequest - request body for POST /api/bookings
type FinalizeBookingRequest struct {
	TripID      int64        `json:"trip_id" binding:"required"`
	SegmentFrom *int         `json:"segment_from" binding:"required"`
	SegmentTo   *int         `json:"segment_to" binding:"required"`
	SeatIDs     []string     `json:"seat_ids" binding:"required,min=1"`
	Customer    CustomerInfo `json:"customer" binding:"required"`
}

// FinalizeBookingResponse - the confirmed booking
type FinalizeBookingResponse struct {
	ID          int64    `json:"id"`
	BookingRef  string   `json:"booking_ref"`
	TripID      int64    `json:"trip_id"`
	SegmentFrom int      `json:"segment_from"`
	SegmentTo   int      `json:"segment_to"`
	Seats       []string `json:"seats"`
	Status      string   `json:"status"`
	TotalAmount string   `json:"total_amount"`
}

// CancelBookingRequest - request body for PATCH /api/bookings/cancel
type CancelBookingRequest struct {
	BookingID int64 `json:"booking_id" binding:"required"`
}

// SeatSnapshotItem - one seat's state in a trip snapshot
type SeatSnapshotItem struct {
	SeatID string `json:"seat_id"`
	Floor  int    `json:"floor"`
	Row    int    `json:"row"`
	Column int    `json:"column"`
	IsSeat bool   `json:"is_seat"`
	State  string `json:"state"`
	Mine   bool   `json:"mine,omitempty"` // held by the requesting session
	Price  string `json:"price"`
}

// SnapshotResponse - full seat state for a trip segment, used for initial
// render and reconnect resync
type SnapshotResponse struct {
	TripID      int64              `json:"trip_id"`
	SegmentFrom int                `json:"segment_from"`
	SegmentTo   int                `json:"segment_to"`
	Seats       []SeatSnapshotItem `json:"seats"`
	TakenAt     time.Time          `json:"taken_at"`
}

// ListTripsResponseItem - one trip in a search result
type ListTripsResponseItem struct {
	ID          int64     `json:"id"`
	RouteName   string    `json:"route_name"`
	CompanyName string    `json:"company_name"`
	DepartureAt time.Time `json:"departure_at"`
	TotalSeats  int       `json:"total_seats"`
}

// ListTripsResponse - trip search result list
type ListTripsResponse []ListTripsResponseItem

// ErrorResponse - JSON error body. Code carries the machine-readable error
// taxonomy value; Seats lists the seats that caused a finalize rejection so
// the UI can ask the user to reselect only those.
type ErrorResponse struct {
	Error string   `json:"error"`
	Code  string   `json:"code,omitempty"`
	Seats []string `json:"seats,omitempty"`
}
