package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"busline/internal/locktable"
)

// ListTrips - GET /api/trips
func (h *Handlers) ListTrips(c *gin.Context) {
	query := c.Query("query")
	date := c.Query("date")

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	if page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be >= 1"})
		return
	}
	if pageSize < 1 || pageSize > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pageSize must be between 1 and 100"})
		return
	}

	response, err := h.services.Trips.List(c.Request.Context(), query, date, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// tripSegment parses the :id path param plus the from/to query params shared
// by the snapshot and stream endpoints.
func tripSegment(c *gin.Context) (int64, locktable.Segment, bool) {
	tripID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trip id"})
		return 0, locktable.Segment{}, false
	}
	from, err := strconv.Atoi(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from stop index"})
		return 0, locktable.Segment{}, false
	}
	to, err := strconv.Atoi(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to stop index"})
		return 0, locktable.Segment{}, false
	}
	return tripID, locktable.Segment{From: from, To: to}, true
}

// GetSeats - GET /api/trips/:id/seats?from=&to=
// Full seat-state snapshot for the segment, used for initial render and
// reconnect resync.
func (h *Handlers) GetSeats(c *gin.Context) {
	tripID, seg, ok := tripSegment(c)
	if !ok {
		return
	}

	response, err := h.services.Snapshot.Get(c.Request.Context(), sessionID(c), tripID, seg)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// StreamSeats - GET /api/trips/:id/stream?from=&to=
// SSE stream of seat events for the trip. The snapshot is sent first so the
// client starts from a consistent view; events follow as they happen. Events
// outside the requested segment are filtered out.
func (h *Handlers) StreamSeats(c *gin.Context) {
	tripID, seg, ok := tripSegment(c)
	if !ok {
		return
	}

	// Subscribe before computing the snapshot: an event published while the
	// snapshot is built lands in the buffer instead of being lost. An event
	// the snapshot already reflects is re-delivered, which is harmless.
	sub := h.hub.Subscribe(uuid.New().String(), tripID)
	defer sub.Close()

	snapshot, err := h.services.Snapshot.Get(c.Request.Context(), sessionID(c), tripID, seg)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, alive := <-sub.C:
			if !alive {
				// Replaced by a newer subscription for the same connection.
				return
			}
			ev := locktable.Segment{From: event.SegmentFrom, To: event.SegmentTo}
			if !ev.Overlaps(seg) {
				continue
			}
			c.SSEvent(event.Type, event)
			c.Writer.Flush()
		case <-ping.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}
