// Package service implements the reservation lifecycle: placing and
// expiring holds, creating bookings and the administrative transitions.
// Every check-then-act step is delegated to a conditional write of the
// reservation store, so no lock is held across store calls and several
// instances may serve the same store concurrently.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// DefaultHoldTTL is how long an unconfirmed hold keeps its seat.
const DefaultHoldTTL = 12 * time.Minute

// ReservationStore is the durable home of reservations.  It is
// implemented by repository.ReservationRepo and memory.ReservationStore.
type ReservationStore interface {
	Insert(ctx context.Context, r *model.Reservation) (*model.Reservation, error)
	Get(ctx context.Context, id string, scope repository.Scope) (*model.Reservation, error)
	FindClaim(ctx context.Context, trip model.TripRef, seat int) (*model.Reservation, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Reservation, error)
	ListByTrip(ctx context.Context, trip model.TripRef) ([]*model.Reservation, error)
	CompareAndUpdate(ctx context.Context, id string, cond repository.Condition, change repository.Change) (*model.Reservation, error)
	Book(ctx context.Context, claims []repository.BookingClaim, now time.Time) ([]*model.Reservation, error)
	DueHolds(ctx context.Context, now time.Time, limit int) ([]*model.Reservation, error)
}

// TripRegistry resolves a trip reference to its bus and route.
type TripRegistry interface {
	Lookup(ctx context.Context, trip model.TripRef) (*model.TripMetadata, error)
}

// Notifier receives the reservations created by a successful booking.
// Delivery is best effort.
type Notifier interface {
	NotifyBookingCreated(ctx context.Context, reservations []*model.Reservation) error
}

// Options tunes the services.  Zero values fall back to defaults.
type Options struct {
	HoldTTL    time.Duration
	SweepBatch int
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HoldTTL <= 0 {
		o.HoldTTL = DefaultHoldTTL
	}
	if o.SweepBatch <= 0 {
		o.SweepBatch = 200
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// holdDeadline returns now+ttl rounded up to the millisecond, the
// precision hold deadlines are stored with.  The stored value is never
// earlier than now+ttl.
func holdDeadline(now time.Time, ttl time.Duration) time.Time {
	d := now.Add(ttl)
	if t := d.Truncate(time.Millisecond); t.Before(d) {
		return t.Add(time.Millisecond)
	}
	return d
}

// normalizeSeats drops duplicates while keeping request order and checks
// every seat against the bus capacity.
func normalizeSeats(seats []int, capacity int) ([]int, error) {
	if len(seats) == 0 {
		return nil, fmt.Errorf("%w: seat_numbers is required", model.ErrInvalidInput)
	}
	seen := make(map[int]struct{}, len(seats))
	out := make([]int, 0, len(seats))
	for _, n := range seats {
		if n <= 0 {
			return nil, fmt.Errorf("%w: seat %d is not a positive number", model.ErrInvalidInput, n)
		}
		if capacity > 0 && n > capacity {
			return nil, fmt.Errorf("%w: seat %d exceeds bus capacity %d", model.ErrInvalidInput, n, capacity)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

func ptr[T any](v T) *T { return &v }
