package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busline/internal/apperrors"
	"busline/internal/broadcast"
	"busline/internal/locktable"
	"busline/internal/middleware"
	"busline/internal/models"
	"busline/internal/service"
)

type memCatalog struct {
	trips map[int64]*models.Trip
	seats map[int64]map[string]*models.Seat

	// onListSeats, when set, runs at the start of ListSeats. Lets tests
	// interleave table mutations with a snapshot build.
	onListSeats func()
}

func (m *memCatalog) GetTrip(_ context.Context, id int64) (*models.Trip, error) {
	return m.trips[id], nil
}

func (m *memCatalog) GetSeat(_ context.Context, tripID int64, seatID string) (*models.Seat, error) {
	return m.seats[tripID][seatID], nil
}

func (m *memCatalog) ListSeats(_ context.Context, tripID int64) ([]models.Seat, error) {
	if m.onListSeats != nil {
		m.onListSeats()
	}
	out := make([]models.Seat, 0, len(m.seats[tripID]))
	for _, seat := range m.seats[tripID] {
		out = append(out, *seat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memCatalog) Search(_ context.Context, query, date string, page, pageSize int) ([]models.Trip, error) {
	var out []models.Trip
	for _, trip := range m.trips {
		out = append(out, *trip)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memStore struct {
	nextID   int64
	bookings map[int64]*models.Booking
	sales    []models.SeatSale
}

func (m *memStore) CreateConfirmed(_ context.Context, booking *models.Booking, sales []models.SeatSale) error {
	m.nextID++
	booking.ID = m.nextID
	stored := *booking
	m.bookings[booking.ID] = &stored
	for _, sale := range sales {
		sale.BookingID = booking.ID
		sale.Active = true
		m.sales = append(m.sales, sale)
	}
	return nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (*models.Booking, error) {
	booking, ok := m.bookings[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return booking, nil
}

func (m *memStore) Cancel(_ context.Context, bookingID int64) ([]models.SeatSale, error) {
	booking, ok := m.bookings[bookingID]
	if !ok || booking.Status != models.BookingConfirmed {
		return nil, sql.ErrNoRows
	}
	booking.Status = models.BookingCancelled
	var out []models.SeatSale
	for i := range m.sales {
		if m.sales[i].BookingID == bookingID {
			m.sales[i].Active = false
			out = append(out, m.sales[i])
		}
	}
	return out, nil
}

func (m *memStore) ListActiveSales(_ context.Context) ([]models.SeatSale, error) {
	return nil, nil
}

func setupRouter(t *testing.T) *gin.Engine {
	r, _, _ := setupEnv(t)
	return r
}

func setupEnv(t *testing.T) (*gin.Engine, *service.Services, *memCatalog) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	priceVal := int64(2000)
	catalog := &memCatalog{
		trips: map[int64]*models.Trip{
			1: {ID: 1, RouteName: "Astana - Karaganda", CompanyName: "Sapar", StopCount: 3, TotalSeats: 2, DepartureAt: time.Now().Add(24 * time.Hour)},
		},
		seats: map[int64]map[string]*models.Seat{
			1: {
				"A1": {ID: "A1", TripID: 1, Floor: 1, Row: 1, Column: 1, IsSeat: true, Price: &priceVal},
				"A2": {ID: "A2", TripID: 1, Floor: 1, Row: 1, Column: 2, IsSeat: true, Price: &priceVal},
			},
		},
	}

	hub := broadcast.NewHub()
	services := service.NewServices(service.Deps{
		Table:           locktable.New(),
		Catalog:         catalog,
		Bookings:        &memStore{bookings: make(map[int64]*models.Booking)},
		Searcher:        catalog,
		Hub:             hub,
		HoldTTL:         time.Minute,
		FinalizeTimeout: 2 * time.Second,
		InstanceID:      "test",
	})

	h := NewHandlers(services, hub)

	r := gin.New()
	api := r.Group("/api")
	api.Use(middleware.Session())
	{
		api.GET("/trips", h.ListTrips)
		api.GET("/trips/:id/seats", h.GetSeats)
		api.GET("/trips/:id/stream", h.StreamSeats)
		api.POST("/holds", h.AcquireHold)
		api.PATCH("/holds/heartbeat", h.Heartbeat)
		api.PATCH("/holds/release", h.ReleaseHold)
		api.POST("/bookings", h.FinalizeBooking)
		api.GET("/bookings/:id", h.GetBooking)
		api.PATCH("/bookings/cancel", h.CancelBooking)
		api.DELETE("/sessions/:id", h.CloseSession)
	}
	return r, services, catalog
}

func doJSON(r *gin.Engine, method, path, session string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(middleware.HeaderSessionID, session)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func holdBody(seatID string, from, to int) gin.H {
	return gin.H{"trip_id": 1, "seat_id": seatID, "segment_from": from, "segment_to": to}
}

func TestAcquireHold(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "POST", "/api/holds", "u1", holdBody("A1", 0, 2))
	assert.Equal(t, http.StatusCreated, w.Code)

	var resp models.AcquireHoldResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "A1", resp.SeatID)
	assert.Equal(t, 60, resp.TTLSeconds)
}

func TestAcquireHoldConflict(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "POST", "/api/holds", "u1", holdBody("A1", 0, 2))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, "POST", "/api/holds", "u2", holdBody("A1", 1, 2))
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.CodeSeatUnavailable, resp.Code)
}

func TestAcquireHoldValidation(t *testing.T) {
	r := setupRouter(t)

	// Segment end past the last stop index.
	w := doJSON(r, "POST", "/api/holds", "u1", holdBody("A1", 0, 3))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.CodeValidation, resp.Code)
}

func TestAcquireHoldMissingBody(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "POST", "/api/holds", "u1", gin.H{"trip_id": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHeaderMintedWhenAbsent(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "POST", "/api/holds", "", holdBody("A1", 0, 2))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderSessionID))
}

func TestHeartbeatNotOwner(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "PATCH", "/api/holds/heartbeat", "u1", holdBody("A1", 0, 2))
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.CodeNotOwner, resp.Code)
}

func TestReleaseHold(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "POST", "/api/holds", "u1", holdBody("A1", 0, 2))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, "PATCH", "/api/holds/release", "u1", holdBody("A1", 0, 2))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(r, "POST", "/api/holds", "u2", holdBody("A1", 0, 2))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestFinalizeBooking(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "POST", "/api/holds", "u1", holdBody("A1", 0, 2))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, "POST", "/api/bookings", "u1", gin.H{
		"trip_id": 1, "segment_from": 0, "segment_to": 2,
		"seat_ids": []string{"A1"},
		"customer": gin.H{"name": "Dana", "phone": "+77010000000"},
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	var resp models.FinalizeBookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.BookingConfirmed, resp.Status)
	assert.Equal(t, "20.00", resp.TotalAmount)
}

func TestFinalizeBookingRejectionListsSeats(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "POST", "/api/holds", "u1", holdBody("A1", 0, 2))
	require.Equal(t, http.StatusCreated, w.Code)

	// A2 was never held by u1.
	w = doJSON(r, "POST", "/api/bookings", "u1", gin.H{
		"trip_id": 1, "segment_from": 0, "segment_to": 2,
		"seat_ids": []string{"A1", "A2"},
		"customer": gin.H{"name": "Dana", "phone": "+77010000000"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.CodeNotOwner, resp.Code)
	assert.Equal(t, []string{"A2"}, resp.Seats)
}

func TestCancelBooking(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "POST", "/api/holds", "u1", holdBody("A1", 0, 2))
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(r, "POST", "/api/bookings", "u1", gin.H{
		"trip_id": 1, "segment_from": 0, "segment_to": 2,
		"seat_ids": []string{"A1"},
		"customer": gin.H{"name": "Dana", "phone": "+77010000000"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var booked models.FinalizeBookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &booked))

	w = doJSON(r, "PATCH", "/api/bookings/cancel", "u1", gin.H{"booking_id": booked.ID})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(r, "POST", "/api/holds", "u2", holdBody("A1", 0, 2))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestGetBooking(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "POST", "/api/holds", "u1", holdBody("A1", 0, 2))
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(r, "POST", "/api/bookings", "u1", gin.H{
		"trip_id": 1, "segment_from": 0, "segment_to": 2,
		"seat_ids": []string{"A1"},
		"customer": gin.H{"name": "Dana", "phone": "+77010000000"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var booked models.FinalizeBookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &booked))

	w = doJSON(r, "GET", "/api/bookings/1", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var booking models.Booking
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &booking))
	assert.Equal(t, booked.BookingRef, booking.BookingRef)

	w = doJSON(r, "GET", "/api/bookings/99", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelUnknownBooking(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "PATCH", "/api/bookings/cancel", "u1", gin.H{"booking_id": 42})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSeatsSnapshot(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "POST", "/api/holds", "u1", holdBody("A1", 0, 2))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, "GET", "/api/trips/1/seats?from=0&to=2", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.SnapshotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Seats, 2)
	assert.Equal(t, models.SeatStateHeld, resp.Seats[0].State)
	assert.True(t, resp.Seats[0].Mine)
	assert.Equal(t, models.SeatStateAvailable, resp.Seats[1].State)
}

func TestGetSeatsRequiresSegment(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "GET", "/api/trips/1/seats", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTrips(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "GET", "/api/trips", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ListTripsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "Astana - Karaganda", resp[0].RouteName)
}

func TestCloseSessionFreesHolds(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "POST", "/api/holds", "u1", holdBody("A1", 0, 2))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, "DELETE", "/api/sessions/u1", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, "POST", "/api/holds", "u2", holdBody("A1", 0, 2))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCloseSessionForbiddenForOthers(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, "DELETE", "/api/sessions/u1", "u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// A hold acquired while the stream handler is still building its opening
// snapshot must reach the stream: the subscription exists before the
// snapshot is computed, so the event is buffered rather than lost.
func TestStreamDeliversEventRacingSnapshot(t *testing.T) {
	r, services, catalog := setupEnv(t)

	var once sync.Once
	catalog.onListSeats = func() {
		once.Do(func() {
			from, to := 0, 2
			_, err := services.Holds.Acquire(context.Background(), "u2", &models.AcquireHoldRequest{
				TripID: 1, SeatID: "A1", SegmentFrom: &from, SegmentTo: &to,
			})
			require.NoError(t, err)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", "/api/trips/1/stream?from=0&to=2", nil)
	req.Header.Set(middleware.HeaderSessionID, "u1")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()

	// Give the handler time to flush the snapshot and the buffered event,
	// then end the stream.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not stop on context cancel")
	}

	body := w.Body.String()
	assert.Contains(t, body, "event:snapshot")
	assert.Contains(t, body, models.EventSeatLocked)
	assert.Contains(t, body, `"seat_id":"A1"`)
}
