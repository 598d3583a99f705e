package internaltypes

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")

	ErrPastDate       = errors.New("date is in the past")
	ErrNoDateSelected = errors.New("no date selected")
	ErrNotReady       = errors.New("busy times still loading")
	ErrSlotBusy       = errors.New("slot already booked")
	ErrUnknownSlot    = errors.New("not a bookable slot")
	ErrViewClosed     = errors.New("view closed")
	ErrInvalidInput   = errors.New("invalid input")
)

// HTTPStatus maps an error chain to the status the web layer replies with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSlotBusy):
		return http.StatusConflict
	case errors.Is(err, ErrUnknownSlot):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPastDate), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoDateSelected):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
