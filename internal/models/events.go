package models

import "time"

// Seat event types. These travel both over the local broadcast hub and the
// NATS relay subjects of the same name.
const (
	EventSeatLocked    = "seat.locked"
	EventSeatUnlocked  = "seat.unlocked"
	EventSeatConfirmed = "seat.confirmed"
)

// Unlock reasons
const (
	ReasonReleased      = "released"
	ReasonExpired       = "expired"
	ReasonSessionClosed = "session_closed"
	ReasonCancelled     = "cancelled"
)

// SeatEvent is the single wire shape for all seat state changes pushed to
// subscribers of a trip.
type SeatEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	TripID      int64     `json:"trip_id"`
	SeatID      string    `json:"seat_id"`
	SegmentFrom int       `json:"segment_from"`
	SegmentTo   int       `json:"segment_to"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
	// Origin identifies the emitting instance so the NATS relay can skip
	// events that originated locally.
	Origin string `json:"origin,omitempty"`
}
