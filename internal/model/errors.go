package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Sentinel errors shared by the store, the services and the HTTP layer.
// Handlers translate them into status codes; everything else wraps them
// with fmt.Errorf("...: %w", err).
var (
	// ErrNotFound covers unknown reservations, buses and routes.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals that a seat is already claimed.
	ErrConflict = errors.New("seat already taken")
	// ErrInvalidState is returned when the record is not in a state that
	// allows the requested transition.
	ErrInvalidState = errors.New("invalid state")
	// ErrStoreUnavailable wraps driver failures of a durable store.  It is
	// fatal to the request and never retried silently.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrForbidden is returned when a commuter acts on a reservation
	// owned by someone else.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput covers malformed seat numbers and statuses.
	ErrInvalidInput = errors.New("invalid input")
)

// ErrHoldExpired is the InvalidState reported when a confirm loses the
// race against hold expiry.
var ErrHoldExpired = fmt.Errorf("%w: hold expired", ErrInvalidState)

// ConflictError names the seats that could not be claimed.  It matches
// ErrConflict under errors.Is.
type ConflictError struct {
	Seats []int
}

// NewConflictError returns a ConflictError over a sorted copy of seats.
func NewConflictError(seats ...int) *ConflictError {
	s := append([]int(nil), seats...)
	sort.Ints(s)
	return &ConflictError{Seats: s}
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Seats))
	for i, n := range e.Seats {
		parts[i] = strconv.Itoa(n)
	}
	if len(parts) == 1 {
		return "seat " + parts[0] + " is already booked"
	}
	return "seats " + strings.Join(parts, ", ") + " are already booked"
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
