package apperrors

import (
	"errors"
	"fmt"
)

// Error codes surfaced to clients. The UI needs to distinguish "someone else
// took it" (pick another seat) from "your hold lapsed" (reselect) from
// "booking failed after seats were valid" (retry the same selection).
const (
	CodeSeatUnavailable = "SEAT_UNAVAILABLE"
	CodeNotOwner        = "NOT_OWNER"
	CodeValidation      = "VALIDATION_ERROR"
	CodePersistence     = "PERSISTENCE_FAILURE"
	CodeTimeout         = "TIMEOUT"
	CodeNotFound        = "NOT_FOUND"
)

var ErrSeatUnavailable = errors.New("seat is unavailable")
var ErrNotOwner = errors.New("hold is not owned by this session")
var ErrNotFound = errors.New("not found")
var ErrPersistence = errors.New("persistence failure, retry finalize")
var ErrTimeout = errors.New("operation timed out")

// ValidationError rejects a malformed trip/seat/segment reference before it
// reaches the lock table.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Rejection is returned by finalize when one or more requested seats are no
// longer held by the caller. Seats lists exactly the seats that failed so the
// client can reselect just those.
type Rejection struct {
	Code  string
	Seats []string
	Err   error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("finalize rejected (%s): seats %v", r.Code, r.Seats)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// CodeOf maps any error from the service layer to its taxonomy code.
func CodeOf(err error) string {
	var ve *ValidationError
	var rej *Rejection
	switch {
	case errors.As(err, &rej):
		return rej.Code
	case errors.As(err, &ve):
		return CodeValidation
	case errors.Is(err, ErrSeatUnavailable):
		return CodeSeatUnavailable
	case errors.Is(err, ErrNotOwner):
		return CodeNotOwner
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	default:
		return ""
	}
}
