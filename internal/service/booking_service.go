package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/cache"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// notifyTimeout bounds a single asynchronous notification.
const notifyTimeout = 10 * time.Second

// BookingService orchestrates the booking lifecycle.  Writes go to the
// reservation store through conditional updates and then invalidate the
// owner and trip list caches of every touched reservation.  Reads of the
// list views go through the cache.
type BookingService struct {
	store    ReservationStore
	trips    TripRegistry
	cache    cache.Cache
	notifier Notifier
	opts     Options
	log      *logrus.Entry

	pending sync.WaitGroup
}

// NewBookingService wires a BookingService.  cache and notifier may be nil.
func NewBookingService(store ReservationStore, trips TripRegistry, c cache.Cache, n Notifier, opts Options) *BookingService {
	if c == nil {
		c = cache.Noop{}
	}
	return &BookingService{
		store:    store,
		trips:    trips,
		cache:    c,
		notifier: n,
		opts:     opts.withDefaults(),
		log:      logrus.WithField("component", "booking-service"),
	}
}

// CreateBooking books every requested seat for ownerID or none of them.
// A seat is bookable when it is free or held by the same owner with a
// live hold.  All seats are checked before anything is written; seats
// claimed by someone else are reported together in a *model.ConflictError.
func (s *BookingService) CreateBooking(ctx context.Context, ownerID string, trip model.TripRef, seats []int) ([]model.BookingView, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", model.ErrInvalidInput)
	}
	meta, err := s.trips.Lookup(ctx, trip)
	if err != nil {
		return nil, err
	}
	seats, err = normalizeSeats(seats, meta.Bus.Capacity)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now().UTC()
	claims := make([]repository.BookingClaim, 0, len(seats))
	var taken []int
	for _, seat := range seats {
		cur, err := s.store.FindClaim(ctx, trip, seat)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		switch {
		case cur == nil:
			claims = append(claims, repository.BookingClaim{
				Insert: &model.Reservation{
					OwnerID:    ownerID,
					Trip:       trip,
					SeatNumber: seat,
					Status:     model.StatusBooked,
					CreatedAt:  now,
					UpdatedAt:  now,
				},
				OwnerID:    ownerID,
				SeatNumber: seat,
			})
		case cur.OwnerID != ownerID:
			taken = append(taken, seat)
		case cur.Status == model.StatusBooked:
			return nil, fmt.Errorf("%w: seat %d is already confirmed", model.ErrInvalidState, seat)
		case !cur.HoldLive(now):
			return nil, fmt.Errorf("seat %d: %w", seat, model.ErrHoldExpired)
		default:
			claims = append(claims, repository.BookingClaim{ConfirmID: cur.ID, OwnerID: ownerID, SeatNumber: seat})
		}
	}
	if len(taken) > 0 {
		return nil, model.NewConflictError(taken...)
	}

	booked, err := s.store.Book(ctx, claims, now)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, booked...)
	s.notify(booked)

	s.log.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"trip":     trip.String(),
		"seats":    seats,
	}).Info("booking created")

	views := make([]model.BookingView, len(booked))
	for i, r := range booked {
		views[i] = model.NewBookingView(r, meta)
	}
	return views, nil
}

// notify hands the created reservations to the notifier on its own
// goroutine.  Failures are logged and never affect the booking.
func (s *BookingService) notify(recs []*model.Reservation) {
	if s.notifier == nil || len(recs) == 0 {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyBookingCreated(ctx, recs); err != nil {
			s.log.WithError(err).WithField("reservations", len(recs)).Warn("booking notification failed")
		}
	}()
}

// Wait blocks until every notification started so far has finished.
// Each one is bounded by notifyTimeout.
func (s *BookingService) Wait() {
	s.pending.Wait()
}

func (s *BookingService) invalidate(ctx context.Context, recs ...*model.Reservation) {
	var keys []string
	for _, r := range recs {
		keys = append(keys, cache.KeysFor(r)...)
	}
	if len(keys) > 0 {
		s.cache.Invalidate(ctx, keys...)
	}
}

// ListByOwner returns the active bookings of ownerID, newest first.
func (s *BookingService) ListByOwner(ctx context.Context, ownerID string) ([]model.BookingView, error) {
	return s.cachedList(ctx, cache.OwnerKey(ownerID), func() ([]*model.Reservation, error) {
		return s.store.ListByOwner(ctx, ownerID)
	})
}

// ListByTrip returns the active bookings of a trip ordered by seat.
func (s *BookingService) ListByTrip(ctx context.Context, trip model.TripRef) ([]model.BookingView, error) {
	if _, err := s.trips.Lookup(ctx, trip); err != nil {
		return nil, err
	}
	return s.cachedList(ctx, cache.TripKey(trip), func() ([]*model.Reservation, error) {
		return s.store.ListByTrip(ctx, trip)
	})
}

func (s *BookingService) cachedList(ctx context.Context, key string, load func() ([]*model.Reservation, error)) ([]model.BookingView, error) {
	if bs, ok := s.cache.Get(ctx, key); ok {
		var views []model.BookingView
		if err := json.Unmarshal(bs, &views); err == nil {
			return views, nil
		}
		s.log.WithField("key", key).Warn("discarding unreadable cache entry")
		s.cache.Invalidate(ctx, key)
	}
	recs, err := load()
	if err != nil {
		return nil, err
	}
	views, err := s.enrich(ctx, recs)
	if err != nil {
		return nil, err
	}
	if bs, err := json.Marshal(views); err == nil {
		s.cache.Set(ctx, key, bs)
	}
	return views, nil
}

// enrich joins reservations with their trip metadata.  A trip that is no
// longer registered yields a view without bus and route summaries.
func (s *BookingService) enrich(ctx context.Context, recs []*model.Reservation) ([]model.BookingView, error) {
	metas := make(map[model.TripRef]*model.TripMetadata)
	views := make([]model.BookingView, 0, len(recs))
	for _, r := range recs {
		meta, seen := metas[r.Trip]
		if !seen {
			m, err := s.trips.Lookup(ctx, r.Trip)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return nil, err
			}
			meta = m
			metas[r.Trip] = m
		}
		views = append(views, model.NewBookingView(r, meta))
	}
	return views, nil
}

// GetByID returns a single active booking.  Commuters may only read
// their own reservations.
func (s *BookingService) GetByID(ctx context.Context, actor model.Actor, id string) (*model.BookingView, error) {
	cur, err := s.store.Get(ctx, id, repository.ScopeActive)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && cur.OwnerID != actor.ID {
		return nil, fmt.Errorf("reservation %s: %w", id, model.ErrForbidden)
	}
	views, err := s.enrich(ctx, []*model.Reservation{cur})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// UpdateStatus sets the status of an active reservation.  Moving to
// on-hold starts a fresh hold deadline, moving away from it clears the
// deadline, and moving to available releases the owner.  Entering a
// claiming status fails with a *model.ConflictError when the seat is
// claimed by another reservation.
func (s *BookingService) UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Reservation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidInput, status)
	}
	cur, err := s.store.Get(ctx, id, repository.ScopeActive)
	if err != nil {
		return nil, err
	}
	if status.Claims() && cur.OwnerID == "" {
		return nil, fmt.Errorf("%w: reservation %s has no owner", model.ErrInvalidState, id)
	}

	now := s.opts.Now().UTC()
	change := repository.Change{Status: &status, At: now}
	switch status {
	case model.StatusOnHold:
		change.HoldExpiresAt = ptr(holdDeadline(now, s.opts.HoldTTL))
	case model.StatusAvailable:
		change.ClearHold = true
		change.OwnerID = ptr("")
	default:
		change.ClearHold = true
	}
	cond := repository.Condition{Statuses: []model.Status{cur.Status}, Deleted: ptr(false)}
	if cur.OwnerID != "" {
		cond.OwnerID = cur.OwnerID
	}
	return s.transition(ctx, cur, cond, change)
}

// Cancel returns an on-hold or booked reservation to available.  A
// commuter may only cancel their own reservations.
func (s *BookingService) Cancel(ctx context.Context, actor model.Actor, id string) (*model.Reservation, error) {
	cur, err := s.store.Get(ctx, id, repository.ScopeActive)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && cur.OwnerID != actor.ID {
		return nil, fmt.Errorf("reservation %s: %w", id, model.ErrForbidden)
	}
	if !cur.Status.Claims() {
		return nil, fmt.Errorf("%w: reservation %s is %s", model.ErrInvalidState, id, cur.Status)
	}
	cond := repository.Condition{
		Statuses: []model.Status{model.StatusOnHold, model.StatusBooked},
		OwnerID:  cur.OwnerID,
		Deleted:  ptr(false),
	}
	change := repository.Change{
		Status:    ptr(model.StatusAvailable),
		OwnerID:   ptr(""),
		ClearHold: true,
		At:        s.opts.Now().UTC(),
	}
	return s.transition(ctx, cur, cond, change)
}

// SoftDelete hides an active reservation from default reads.  Its status
// is kept.
func (s *BookingService) SoftDelete(ctx context.Context, id string) (*model.Reservation, error) {
	cur, err := s.store.Get(ctx, id, repository.ScopeAll)
	if err != nil {
		return nil, err
	}
	if cur.Deleted {
		return nil, fmt.Errorf("%w: reservation %s is already deleted", model.ErrInvalidState, id)
	}
	return s.transition(ctx, cur,
		repository.Condition{Deleted: ptr(false)},
		repository.Change{Deleted: ptr(true), At: s.opts.Now().UTC()})
}

// Restore clears the soft-delete flag without changing the status.
// Reservations already handed to the archiver cannot be restored.
func (s *BookingService) Restore(ctx context.Context, id string) (*model.Reservation, error) {
	cur, err := s.store.Get(ctx, id, repository.ScopeAll)
	if err != nil {
		return nil, err
	}
	if cur.ArchivePending {
		return nil, fmt.Errorf("%w: reservation %s is being archived", model.ErrInvalidState, id)
	}
	if !cur.Deleted {
		return nil, fmt.Errorf("%w: reservation %s is not deleted", model.ErrInvalidState, id)
	}
	return s.transition(ctx, cur,
		repository.Condition{Deleted: ptr(true)},
		repository.Change{Deleted: ptr(false), At: s.opts.Now().UTC()})
}

// transition performs a conditional update of cur and invalidates the
// views of both its old and its new state.  A lost race is reported as
// model.ErrInvalidState.
func (s *BookingService) transition(ctx context.Context, cur *model.Reservation, cond repository.Condition, change repository.Change) (*model.Reservation, error) {
	next, err := s.store.CompareAndUpdate(ctx, cur.ID, cond, change)
	if err != nil {
		if errors.Is(err, repository.ErrPreconditionFailed) {
			return nil, fmt.Errorf("%w: reservation %s changed concurrently", model.ErrInvalidState, cur.ID)
		}
		return nil, err
	}
	s.invalidate(ctx, cur, next)
	s.log.WithFields(logrus.Fields{
		"reservation_id": next.ID,
		"status":         next.Status,
		"deleted":        next.Deleted,
	}).Info("reservation updated")
	return next, nil
}
