package repository

import (
	"busline/internal/database"
)

type Repositories struct {
	Trips    *TripRepository
	Bookings *BookingRepository
}

func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Trips:    NewTripRepository(db),
		Bookings: NewBookingRepository(db),
	}
}
