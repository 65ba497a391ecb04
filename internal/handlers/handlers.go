package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"busline/internal/apperrors"
	"busline/internal/broadcast"
	"busline/internal/models"
	"busline/internal/service"
)

type Handlers struct {
	services *service.Services
	hub      *broadcast.Hub
}

func NewHandlers(services *service.Services, hub *broadcast.Hub) *Handlers {
	return &Handlers{
		services: services,
		hub:      hub,
	}
}

// statusFor maps error taxonomy codes to HTTP statuses. Both conflict codes
// share 409; clients branch on the code in the body.
func statusFor(code string) int {
	switch code {
	case apperrors.CodeSeatUnavailable, apperrors.CodeNotOwner:
		return http.StatusConflict
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodePersistence:
		return http.StatusServiceUnavailable
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	body := models.ErrorResponse{
		Error: err.Error(),
		Code:  code,
	}
	var rej *apperrors.Rejection
	if errors.As(err, &rej) {
		body.Seats = rej.Seats
	}
	if code == "" {
		body.Error = "Internal server error"
	}
	c.JSON(statusFor(code), body)
}

// sessionID reads the session identity set by the session middleware.
func sessionID(c *gin.Context) string {
	return c.GetString("session_id")
}
