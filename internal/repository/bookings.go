package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"busline/internal/database"
	"busline/internal/models"
)

// ErrDuplicateSale is returned when the seat_sales unique index rejects a
// write, meaning another instance already sold one of the seats.
var ErrDuplicateSale = errors.New("seat already sold")

type BookingRepository struct {
	db *database.DB
}

func NewBookingRepository(db *database.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// CreateConfirmed writes a booking and its seat sales in one transaction.
// All seats of the booking commit together or not at all; the unique index
// on active (trip, seat, segment) rows turns a double sale into
// ErrDuplicateSale.
func (r *BookingRepository) CreateConfirmed(ctx context.Context, booking *models.Booking, sales []models.SeatSale) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO bookings (booking_ref, trip_id, session_id, segment_from, segment_to,
		                      status, customer_name, customer_phone, total_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowContext(ctx, query,
		booking.BookingRef,
		booking.TripID,
		booking.SessionID,
		booking.SegmentFrom,
		booking.SegmentTo,
		booking.Status,
		booking.CustomerName,
		booking.CustomerPhone,
		booking.TotalAmount,
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		return err
	}

	for i := range sales {
		sales[i].BookingID = booking.ID
		insertQuery := `
			INSERT INTO seat_sales (booking_id, trip_id, seat_id, segment_from, segment_to)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, sold_at`

		err = tx.QueryRowContext(ctx, insertQuery,
			sales[i].BookingID,
			sales[i].TripID,
			sales[i].SeatID,
			sales[i].SegmentFrom,
			sales[i].SegmentTo,
		).Scan(&sales[i].ID, &sales[i].SoldAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return fmt.Errorf("%w: seat %s", ErrDuplicateSale, sales[i].SeatID)
			}
			return err
		}
	}

	return tx.Commit()
}

func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*models.Booking, error) {
	booking := &models.Booking{}
	query := `
		SELECT id, booking_ref, trip_id, session_id, segment_from, segment_to,
		       status, customer_name, customer_phone, total_amount, created_at, updated_at
		FROM bookings
		WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&booking.ID,
		&booking.BookingRef,
		&booking.TripID,
		&booking.SessionID,
		&booking.SegmentFrom,
		&booking.SegmentTo,
		&booking.Status,
		&booking.CustomerName,
		&booking.CustomerPhone,
		&booking.TotalAmount,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	seats, err := r.getSeatIDs(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	booking.Seats = seats

	return booking, nil
}

func (r *BookingRepository) getSeatIDs(ctx context.Context, bookingID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seat_id FROM seat_sales WHERE booking_id = $1 AND active ORDER BY id`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		seats = append(seats, id)
	}
	return seats, rows.Err()
}

// Cancel marks the booking cancelled and deactivates its seat sales,
// returning the sales so the caller can free the seats in the lock table.
func (r *BookingRepository) Cancel(ctx context.Context, bookingID int64) ([]models.SeatSale, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		models.BookingCancelled, bookingID, models.BookingConfirmed)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE seat_sales SET active = FALSE
		WHERE booking_id = $1 AND active
		RETURNING id, booking_id, trip_id, seat_id, segment_from, segment_to, active, sold_at`,
		bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []models.SeatSale
	for rows.Next() {
		var s models.SeatSale
		if err := rows.Scan(&s.ID, &s.BookingID, &s.TripID, &s.SeatID,
			&s.SegmentFrom, &s.SegmentTo, &s.Active, &s.SoldAt); err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sales, tx.Commit()
}

// ListActiveSales returns every active seat sale, used at startup to rebuild
// the lock table's confirmed state.
func (r *BookingRepository) ListActiveSales(ctx context.Context) ([]models.SeatSale, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, booking_id, trip_id, seat_id, segment_from, segment_to, active, sold_at
		FROM seat_sales
		WHERE active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []models.SeatSale
	for rows.Next() {
		var s models.SeatSale
		if err := rows.Scan(&s.ID, &s.BookingID, &s.TripID, &s.SeatID,
			&s.SegmentFrom, &s.SegmentTo, &s.Active, &s.SoldAt); err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}
