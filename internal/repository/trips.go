package repository

import (
	"context"
	"database/sql"
	"fmt"

	"busline/internal/database"
	"busline/internal/models"
)

// TripRepository reads the trip/seat catalog. The catalog is slow-changing
// and read-only to the seat-hold core; writes happen in the administrative
// back office, not here.
type TripRepository struct {
	db *database.DB
}

func NewTripRepository(db *database.DB) *TripRepository {
	return &TripRepository{db: db}
}

func (r *TripRepository) GetTrip(ctx context.Context, id int64) (*models.Trip, error) {
	trip := &models.Trip{}
	query := `
		SELECT id, route_name, company_name, bus_plate, departure_at,
		       stop_count, total_seats, created_at, updated_at
		FROM trips
		WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&trip.ID,
		&trip.RouteName,
		&trip.CompanyName,
		&trip.BusPlate,
		&trip.DepartureAt,
		&trip.StopCount,
		&trip.TotalSeats,
		&trip.CreatedAt,
		&trip.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return trip, err
}

func (r *TripRepository) GetSeat(ctx context.Context, tripID int64, seatID string) (*models.Seat, error) {
	seat := &models.Seat{}
	query := `
		SELECT id, trip_id, floor, row_number, col_number, is_seat, price, created_at
		FROM seats
		WHERE trip_id = $1 AND id = $2`

	err := r.db.QueryRowContext(ctx, query, tripID, seatID).Scan(
		&seat.ID,
		&seat.TripID,
		&seat.Floor,
		&seat.Row,
		&seat.Column,
		&seat.IsSeat,
		&seat.Price,
		&seat.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return seat, err
}

func (r *TripRepository) ListSeats(ctx context.Context, tripID int64) ([]models.Seat, error) {
	query := `
		SELECT id, trip_id, floor, row_number, col_number, is_seat, price, created_at
		FROM seats
		WHERE trip_id = $1
		ORDER BY floor, row_number, col_number`

	rows, err := r.db.QueryContext(ctx, query, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []models.Seat
	for rows.Next() {
		var seat models.Seat
		err := rows.Scan(
			&seat.ID,
			&seat.TripID,
			&seat.Floor,
			&seat.Row,
			&seat.Column,
			&seat.IsSeat,
			&seat.Price,
			&seat.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		seats = append(seats, seat)
	}

	return seats, rows.Err()
}

func (r *TripRepository) Search(ctx context.Context, query, date string, page, pageSize int) ([]models.Trip, error) {
	var trips []models.Trip
	var args []interface{}
	argIndex := 1

	q := `
		SELECT id, route_name, company_name, bus_plate, departure_at,
		       stop_count, total_seats, created_at, updated_at
		FROM trips
		WHERE 1=1`

	if query != "" {
		q += fmt.Sprintf(" AND (route_name ILIKE $%d OR company_name ILIKE $%d)", argIndex, argIndex)
		args = append(args, "%"+query+"%")
		argIndex++
	}

	if date != "" {
		q += fmt.Sprintf(" AND departure_at::date = $%d::date", argIndex)
		args = append(args, date)
		argIndex++
	}

	q += " ORDER BY departure_at"

	if page > 0 && pageSize > 0 {
		offset := (page - 1) * pageSize
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
		args = append(args, pageSize, offset)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var trip models.Trip
		err := rows.Scan(
			&trip.ID,
			&trip.RouteName,
			&trip.CompanyName,
			&trip.BusPlate,
			&trip.DepartureAt,
			&trip.StopCount,
			&trip.TotalSeats,
			&trip.CreatedAt,
			&trip.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}
