package database

import (
	"fmt"
	"log/slog"
)

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createTripsTable,
		createTripStopsTable,
		createSeatsTable,
		createBookingsTable,
		createSeatSalesTable,
		createTripsDepartureIndex,
	}

	for i, migration := range migrations {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

const createTripsTable = `
CREATE TABLE IF NOT EXISTS trips (
    id SERIAL PRIMARY KEY,
    route_name VARCHAR(255) NOT NULL,
    company_name VARCHAR(255) NOT NULL,
    bus_plate VARCHAR(32) NOT NULL,
    departure_at TIMESTAMP NOT NULL,
    stop_count INTEGER NOT NULL,
    total_seats INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);`

const createTripStopsTable = `
CREATE TABLE IF NOT EXISTS trip_stops (
    trip_id INTEGER NOT NULL REFERENCES trips(id),
    stop_index INTEGER NOT NULL,
    station_name VARCHAR(255) NOT NULL,
    arrival_at TIMESTAMP NOT NULL,
    PRIMARY KEY (trip_id, stop_index)
);`

const createSeatsTable = `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";
CREATE TABLE IF NOT EXISTS seats (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    trip_id INTEGER NOT NULL REFERENCES trips(id),
    floor INTEGER NOT NULL DEFAULT 1,
    row_number INTEGER NOT NULL,
    col_number INTEGER NOT NULL,
    is_seat BOOLEAN NOT NULL DEFAULT TRUE,
    price BIGINT,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    UNIQUE (trip_id, floor, row_number, col_number)
);`

const createBookingsTable = `
CREATE TABLE IF NOT EXISTS bookings (
    id SERIAL PRIMARY KEY,
    booking_ref VARCHAR(64) UNIQUE NOT NULL,
    trip_id INTEGER NOT NULL REFERENCES trips(id),
    session_id VARCHAR(64) NOT NULL,
    segment_from INTEGER NOT NULL,
    segment_to INTEGER NOT NULL,
    status VARCHAR(20) NOT NULL,
    customer_name VARCHAR(255) NOT NULL,
    customer_phone VARCHAR(64) NOT NULL,
    total_amount BIGINT,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);`

// The partial unique index is the durable double-sale guard: two confirmed
// sales of one seat may never cover overlapping segments. Overlap itself is
// enforced by the lock table; the exact-range index catches replays and
// multi-instance races on the same hold.
const createSeatSalesTable = `
CREATE TABLE IF NOT EXISTS seat_sales (
    id SERIAL PRIMARY KEY,
    booking_id INTEGER NOT NULL REFERENCES bookings(id),
    trip_id INTEGER NOT NULL REFERENCES trips(id),
    seat_id UUID NOT NULL REFERENCES seats(id),
    segment_from INTEGER NOT NULL,
    segment_to INTEGER NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    sold_at TIMESTAMP NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS seat_sales_seat_segment_idx
    ON seat_sales (trip_id, seat_id, segment_from, segment_to)
    WHERE active;`

const createTripsDepartureIndex = `
CREATE INDEX IF NOT EXISTS trips_departure_at_idx ON trips (departure_at);`
