package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"busline/internal/logger"
	"busline/internal/models"
)

// AcquireHold - POST /api/holds
func (h *Handlers) AcquireHold(c *gin.Context) {
	var req models.AcquireHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := h.services.Holds.Acquire(c.Request.Context(), sessionID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response)
}

// Heartbeat - PATCH /api/holds/heartbeat
func (h *Handlers) Heartbeat(c *gin.Context) {
	var req models.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := h.services.Holds.Heartbeat(c.Request.Context(), sessionID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ReleaseHold - PATCH /api/holds/release
func (h *Handlers) ReleaseHold(c *gin.Context) {
	var req models.ReleaseHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.services.Holds.Release(c.Request.Context(), sessionID(c), &req); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CloseSession - DELETE /api/sessions/:id
// Frees every hold the session owns. A session may only close itself.
func (h *Handlers) CloseSession(c *gin.Context) {
	id := c.Param("id")
	if id != sessionID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot close another session"})
		return
	}

	released := h.services.Holds.ReleaseSession(c.Request.Context(), id)
	logger.WithSessionID(id).Info("Session closed", "released_holds", released)
	c.JSON(http.StatusOK, gin.H{"released": released})
}
