package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a seat reservation.
type Status string

const (
	StatusAvailable Status = "available"
	StatusOnHold    Status = "on-hold"
	StatusBooked    Status = "booked"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusOnHold, StatusBooked:
		return true
	}
	return false
}

// Claims reports whether a reservation in this status occupies its seat.
// At most one non-deleted claiming reservation may exist per seat.
func (s Status) Claims() bool {
	return s == StatusOnHold || s == StatusBooked
}

// TripRef identifies a scheduled trip by the bus that runs it and the
// route it runs on.
type TripRef struct {
	BusID   string `json:"bus_id"`
	RouteID string `json:"route_id"`
}

func (t TripRef) String() string { return fmt.Sprintf("%s/%s", t.BusID, t.RouteID) }

// IsZero reports whether either half of the reference is missing.
func (t TripRef) IsZero() bool { return t.BusID == "" || t.RouteID == "" }

// Cursor is a position in (CreatedAt, ID) order.  The zero value starts
// before the first reservation.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAt returns the position of r.
func CursorAt(r *Reservation) Cursor { return Cursor{CreatedAt: r.CreatedAt, ID: r.ID} }

// IsZero reports whether c is the starting position.
func (c Cursor) IsZero() bool { return c.ID == "" && c.CreatedAt.IsZero() }

// Precedes reports whether r sorts strictly after c.
func (c Cursor) Precedes(r *Reservation) bool {
	if c.IsZero() || r.CreatedAt.After(c.CreatedAt) {
		return true
	}
	return r.CreatedAt.Equal(c.CreatedAt) && r.ID > c.ID
}

// Reservation records the state of one seat on one trip.
//
// Fields:
//
//	ID             – store-assigned UUID, immutable.
//	OwnerID        – commuter holding or owning the seat; empty once the
//	                 reservation is back to available.
//	Trip           – bus and route of the trip.
//	SeatNumber     – positive seat number within the trip.
//	Status         – available, on-hold or booked.
//	HoldExpiresAt  – deadline of an on-hold reservation, nil otherwise.
//	Deleted        – soft-delete flag; deleted rows are hidden from
//	                 default reads.
//	DeletedAt      – when the soft delete happened.
//	ArchivePending – set by the archiver after a successful copy; the row
//	                 is removed on the next archive cycle.
//	CreatedAt      – creation timestamp.
//	UpdatedAt      – last update timestamp.
type Reservation struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id,omitempty"`
	Trip           TripRef    `json:"trip"`
	SeatNumber     int        `json:"seat_number"`
	Status         Status     `json:"status"`
	HoldExpiresAt  *time.Time `json:"hold_expires_at,omitempty"`
	Deleted        bool       `json:"deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	ArchivePending bool       `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HoldLive reports whether r is an on-hold reservation whose deadline has
// not yet passed at now.
func (r *Reservation) HoldLive(now time.Time) bool {
	return r.Status == StatusOnHold && r.HoldExpiresAt != nil && now.Before(*r.HoldExpiresAt)
}

// Clone returns a deep copy of r.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	if r.HoldExpiresAt != nil {
		t := *r.HoldExpiresAt
		c.HoldExpiresAt = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}
