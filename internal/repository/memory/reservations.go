// Package memory provides in-process implementations of the reservation
// store, the archive and the trip registry.  They honour the same
// contracts as the SQL stores, including the one-claim-per-seat rule, and
// back the service tests and single-node development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

type seatKey struct {
	trip model.TripRef
	seat int
}

// ReservationStore keeps reservations in a map guarded by a mutex.  The
// claims index maps a seat to the id of its single claiming reservation.
type ReservationStore struct {
	mu     sync.Mutex
	rows   map[string]*model.Reservation
	claims map[seatKey]string
}

// NewReservationStore returns an empty store.
func NewReservationStore() *ReservationStore {
	return &ReservationStore{
		rows:   make(map[string]*model.Reservation),
		claims: make(map[seatKey]string),
	}
}

func claims(r *model.Reservation) bool { return !r.Deleted && r.Status.Claims() }

func keyOf(r *model.Reservation) seatKey { return seatKey{trip: r.Trip, seat: r.SeatNumber} }

// Insert stores a copy of res, assigning an id when empty.
func (s *ReservationStore) Insert(ctx context.Context, res *model.Reservation) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.insertLocked(res)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (s *ReservationStore) insertLocked(res *model.Reservation) (*model.Reservation, error) {
	rec := res.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, ok := s.rows[rec.ID]; ok {
		return nil, fmt.Errorf("reservation %s already exists", rec.ID)
	}
	if claims(rec) {
		if _, taken := s.claims[keyOf(rec)]; taken {
			return nil, model.NewConflictError(rec.SeatNumber)
		}
		s.claims[keyOf(rec)] = rec.ID
	}
	rec.ArchivePending = false
	s.rows[rec.ID] = rec
	return rec, nil
}

// Get returns a copy of the reservation with the given id.
func (s *ReservationStore) Get(ctx context.Context, id string, scope repository.Scope) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok || (scope == repository.ScopeActive && rec.Deleted) {
		return nil, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	return rec.Clone(), nil
}

// FindClaim returns the claiming reservation of a seat.
func (s *ReservationStore) FindClaim(ctx context.Context, trip model.TripRef, seat int) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.claims[seatKey{trip: trip, seat: seat}]
	if !ok {
		return nil, fmt.Errorf("seat %d on %s: %w", seat, trip, model.ErrNotFound)
	}
	return s.rows[id].Clone(), nil
}

// ListByOwner returns the active reservations of an owner, newest first.
func (s *ReservationStore) ListByOwner(ctx context.Context, ownerID string) ([]*model.Reservation, error) {
	out := s.filter(func(r *model.Reservation) bool { return !r.Deleted && r.OwnerID == ownerID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListByTrip returns the active reservations of a trip ordered by seat.
func (s *ReservationStore) ListByTrip(ctx context.Context, trip model.TripRef) ([]*model.Reservation, error) {
	out := s.filter(func(r *model.Reservation) bool { return !r.Deleted && r.Trip == trip })
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SeatNumber != out[j].SeatNumber {
			return out[i].SeatNumber < out[j].SeatNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DueHolds returns holds whose deadline is at or before now.
func (s *ReservationStore) DueHolds(ctx context.Context, now time.Time, limit int) ([]*model.Reservation, error) {
	out := s.filter(func(r *model.Reservation) bool {
		return r.Status == model.StatusOnHold && !r.Deleted && !r.ArchivePending &&
			r.HoldExpiresAt != nil && !r.HoldExpiresAt.After(now)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].HoldExpiresAt.Before(*out[j].HoldExpiresAt) })
	return truncate(out, limit), nil
}

// ListArchivable returns reservations created before the cutoff that are
// live or archive-pending, in (CreatedAt, ID) order after the cursor.
func (s *ReservationStore) ListArchivable(ctx context.Context, before time.Time, after model.Cursor, limit int) ([]*model.Reservation, error) {
	out := s.filter(func(r *model.Reservation) bool {
		return r.CreatedAt.Before(before) && (!r.Deleted || r.ArchivePending) && after.Precedes(r)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

func truncate(rs []*model.Reservation, limit int) []*model.Reservation {
	if limit > 0 && len(rs) > limit {
		return rs[:limit]
	}
	return rs
}

func (s *ReservationStore) filter(keep func(*model.Reservation) bool) []*model.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*model.Reservation{}
	for _, r := range s.rows {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// CompareAndUpdate applies change when the stored reservation satisfies
// cond.  A change that would create a second claim on the seat fails with
// a *model.ConflictError.
func (s *ReservationStore) CompareAndUpdate(ctx context.Context, id string, cond repository.Condition, change repository.Change) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(id, cond, change)
}

func (s *ReservationStore) updateLocked(id string, cond repository.Condition, change repository.Change) (*model.Reservation, error) {
	cur, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	if !cond.Matches(cur) {
		return cur.Clone(), fmt.Errorf("reservation %s: %w", id, repository.ErrPreconditionFailed)
	}
	next := cur.Clone()
	change.Apply(next)
	if err := s.reclaimLocked(cur, next); err != nil {
		return nil, err
	}
	s.rows[id] = next
	return next.Clone(), nil
}

// reclaimLocked moves the seat claim of a row from its old state to its
// new one.
func (s *ReservationStore) reclaimLocked(old, next *model.Reservation) error {
	if claims(next) {
		if holder, taken := s.claims[keyOf(next)]; taken && holder != next.ID {
			return model.NewConflictError(next.SeatNumber)
		}
	}
	if claims(old) {
		delete(s.claims, keyOf(old))
	}
	if claims(next) {
		s.claims[keyOf(next)] = next.ID
	}
	return nil
}

// Book applies every claim or none.  Claims are validated against the
// current state before anything is written.
func (s *ReservationStore) Book(ctx context.Context, batch []repository.BookingClaim, now time.Time) ([]*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cond := func(owner string) repository.Condition {
		f := false
		return repository.Condition{
			Statuses:   []model.Status{model.StatusOnHold},
			OwnerID:    owner,
			Deleted:    &f,
			HoldLiveAt: &now,
		}
	}
	for _, c := range batch {
		if c.Insert != nil {
			if _, taken := s.claims[keyOf(c.Insert)]; taken {
				return nil, model.NewConflictError(c.Insert.SeatNumber)
			}
			continue
		}
		cur, ok := s.rows[c.ConfirmID]
		if !ok || !cond(c.OwnerID).Matches(cur) {
			return nil, fmt.Errorf("seat %d: %w", c.SeatNumber, model.ErrHoldExpired)
		}
	}

	booked := model.StatusBooked
	out := make([]*model.Reservation, 0, len(batch))
	for _, c := range batch {
		if c.Insert != nil {
			rec, err := s.insertLocked(c.Insert)
			if err != nil {
				return nil, err
			}
			out = append(out, rec.Clone())
			continue
		}
		rec, err := s.updateLocked(c.ConfirmID, cond(c.OwnerID), repository.Change{Status: &booked, ClearHold: true, At: now})
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// MarkArchived soft-deletes the given reservations and flags them as
// archive-pending.
func (s *ReservationStore) MarkArchived(ctx context.Context, ids []string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		cur, ok := s.rows[id]
		if !ok || cur.ArchivePending {
			continue
		}
		next := cur.Clone()
		next.Deleted = true
		if next.DeletedAt == nil {
			t := at
			next.DeletedAt = &t
		}
		next.ArchivePending = true
		next.UpdatedAt = at
		if claims(cur) {
			delete(s.claims, keyOf(cur))
		}
		s.rows[id] = next
		n++
	}
	return n, nil
}

// Purge removes a reservation.
func (s *ReservationStore) Purge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rows[id]; ok {
		if claims(cur) {
			delete(s.claims, keyOf(cur))
		}
		delete(s.rows, id)
	}
	return nil
}

// Put stores a reservation as is, bypassing lifecycle checks.  Tests use
// it to seed aged or soft-deleted rows.
func (s *ReservationStore) Put(res *model.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := res.Clone()
	if old, ok := s.rows[rec.ID]; ok && claims(old) {
		delete(s.claims, keyOf(old))
	}
	if claims(rec) {
		s.claims[keyOf(rec)] = rec.ID
	}
	s.rows[rec.ID] = rec
}

// Len returns the number of stored reservations, deleted ones included.
func (s *ReservationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
