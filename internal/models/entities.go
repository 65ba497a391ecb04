package models

import (
	"time"
)

// Trip represents a scheduled bus trip. The stop sequence is fixed once the
// trip is published; seats are sold per segment of that sequence.
type Trip struct {
	ID            int64     `json:"id" db:"id"`
	RouteName     string    `json:"route_name" db:"route_name"`
	CompanyName   string    `json:"company_name" db:"company_name"`
	BusPlate      string    `json:"bus_plate" db:"bus_plate"`
	DepartureAt   time.Time `json:"departure_at" db:"departure_at"`
	StopCount     int       `json:"stop_count" db:"stop_count"`
	TotalSeats    int       `json:"total_seats" db:"total_seats"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// TripStop is one station in a trip's stop sequence. StopIndex is the
// position used in segment references: a passenger travelling from stop i to
// stop j occupies the seat over the half-open range [i, j).
type TripStop struct {
	TripID      int64     `json:"trip_id" db:"trip_id"`
	StopIndex   int       `json:"stop_index" db:"stop_index"`
	StationName string    `json:"station_name" db:"station_name"`
	ArrivalAt   time.Time `json:"arrival_at" db:"arrival_at"`
}

// Seat represents a physical seat position on a trip's vehicle.
type Seat struct {
	ID        string    `json:"id" db:"id"`
	TripID    int64     `json:"trip_id" db:"trip_id"`
	Floor     int       `json:"floor" db:"floor"`
	Row       int       `json:"row" db:"row_number"`
	Column    int       `json:"column" db:"col_number"`
	IsSeat    bool      `json:"is_seat" db:"is_seat"` // false for aisle/driver cells in the layout grid
	Price     *int64    `json:"price" db:"price"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Booking represents a confirmed or cancelled purchase of one or more seats
// on a single trip segment.
type Booking struct {
	ID            int64     `json:"id" db:"id"`
	BookingRef    string    `json:"booking_ref" db:"booking_ref"`
	TripID        int64     `json:"trip_id" db:"trip_id"`
	SessionID     string    `json:"session_id" db:"session_id"`
	SegmentFrom   int       `json:"segment_from" db:"segment_from"`
	SegmentTo     int       `json:"segment_to" db:"segment_to"`
	Status        string    `json:"status" db:"status"`
	CustomerName  string    `json:"customer_name" db:"customer_name"`
	CustomerPhone string    `json:"customer_phone" db:"customer_phone"`
	TotalAmount   *int64    `json:"total_amount" db:"total_amount"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
	Seats         []string  `json:"seats,omitempty"` // Not from DB, filled separately
}

// SeatSale is the durable record of one seat sold within a booking. The
// unique index on (trip_id, seat_id, segment range) in Postgres is the last
// line of defence against double sales.
type SeatSale struct {
	ID          int64     `json:"id" db:"id"`
	BookingID   int64     `json:"booking_id" db:"booking_id"`
	TripID      int64     `json:"trip_id" db:"trip_id"`
	SeatID      string    `json:"seat_id" db:"seat_id"`
	SegmentFrom int       `json:"segment_from" db:"segment_from"`
	SegmentTo   int       `json:"segment_to" db:"segment_to"`
	Active      bool      `json:"active" db:"active"`
	SoldAt      time.Time `json:"sold_at" db:"sold_at"`
}

// Booking statuses
const (
	BookingConfirmed = "CONFIRMED"
	BookingCancelled = "CANCELLED"
)

// Seat snapshot states as reported to clients
const (
	SeatStateAvailable = "available"
	SeatStateHeld      = "held"
	SeatStateConfirmed = "confirmed"
)
