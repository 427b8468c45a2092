// Package queue carries booking notifications over RabbitMQ.  The
// publisher emits one message per successful booking; the consumer turns
// them into log lines for the notification team.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// BookingCreatedQueue is the durable queue booking notifications go to.
const BookingCreatedQueue = "booking.created"

// BookingCreatedEvent is published after a booking is stored.  It holds
// every reservation created by the request so that a downstream mailer
// can render a single ticket.
type BookingCreatedEvent struct {
	EventID        string   `json:"event_id"`
	OwnerID        string   `json:"owner_id"`
	BusID          string   `json:"bus_id"`
	RouteID        string   `json:"route_id"`
	SeatNumbers    []int    `json:"seat_numbers"`
	ReservationIDs []string `json:"reservation_ids"`
	CreatedAt      string   `json:"created_at"`
}

// NewBookingCreatedEvent builds the event for a set of reservations of a
// single booking request.
func NewBookingCreatedEvent(recs []*model.Reservation, at time.Time) BookingCreatedEvent {
	ev := BookingCreatedEvent{
		EventID:        uuid.NewString(),
		SeatNumbers:    make([]int, 0, len(recs)),
		ReservationIDs: make([]string, 0, len(recs)),
		CreatedAt:      at.UTC().Format(time.RFC3339),
	}
	for _, r := range recs {
		ev.OwnerID = r.OwnerID
		ev.BusID = r.Trip.BusID
		ev.RouteID = r.Trip.RouteID
		ev.SeatNumbers = append(ev.SeatNumbers, r.SeatNumber)
		ev.ReservationIDs = append(ev.ReservationIDs, r.ID)
	}
	return ev
}
