package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/cache"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// HoldManager places temporary holds and reverts them once their deadline
// has passed.  The deadline is persisted on the reservation; Sweep, run
// periodically by every instance, finds due holds and expires them with a
// conditional update, so a confirmation that lands first always wins.
type HoldManager struct {
	store ReservationStore
	trips TripRegistry
	cache cache.Cache
	opts  Options
	log   *logrus.Entry
}

// NewHoldManager wires a HoldManager.  A nil cache disables invalidation.
func NewHoldManager(store ReservationStore, trips TripRegistry, c cache.Cache, opts Options) *HoldManager {
	if c == nil {
		c = cache.Noop{}
	}
	return &HoldManager{
		store: store,
		trips: trips,
		cache: c,
		opts:  opts.withDefaults(),
		log:   logrus.WithField("component", "hold-manager"),
	}
}

// HoldResult reports the outcome of PlaceHold.  Seats that were already
// claimed are listed in Unavailable; the others were held independently.
// Failed lists the seats left unattempted after a store error.
type HoldResult struct {
	Held        []*model.Reservation `json:"held"`
	Unavailable []int                `json:"unavailable_seats"`
	Failed      []int                `json:"failed_seats,omitempty"`
}

// PlaceHold holds each requested seat for the hold TTL.  Seats are
// evaluated one by one: a seat that is already claimed is reported as
// unavailable and does not prevent the others from being held.  A store
// error stops the loop; the holds placed so far are still returned along
// with the error so the caller can release or confirm them.
func (m *HoldManager) PlaceHold(ctx context.Context, ownerID string, trip model.TripRef, seats []int) (*HoldResult, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", model.ErrInvalidInput)
	}
	meta, err := m.trips.Lookup(ctx, trip)
	if err != nil {
		return nil, err
	}
	seats, err = normalizeSeats(seats, meta.Bus.Capacity)
	if err != nil {
		return nil, err
	}

	res := &HoldResult{Held: []*model.Reservation{}, Unavailable: []int{}}
	now := m.opts.Now().UTC()
	deadline := holdDeadline(now, m.opts.HoldTTL)
	for i, seat := range seats {
		rec, err := m.store.Insert(ctx, &model.Reservation{
			OwnerID:       ownerID,
			Trip:          trip,
			SeatNumber:    seat,
			Status:        model.StatusOnHold,
			HoldExpiresAt: &deadline,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			if errors.Is(err, model.ErrConflict) {
				res.Unavailable = append(res.Unavailable, seat)
				continue
			}
			m.invalidate(ctx, res.Held)
			res.Failed = append(res.Failed, seats[i:]...)
			m.log.WithError(err).WithFields(logrus.Fields{
				"owner_id": ownerID,
				"trip":     trip.String(),
				"held_ids": heldIDs(res.Held),
				"failed":   res.Failed,
			}).Error("hold interrupted")
			return res, err
		}
		res.Held = append(res.Held, rec)
	}
	m.invalidate(ctx, res.Held)

	m.log.WithFields(logrus.Fields{
		"owner_id":    ownerID,
		"trip":        trip.String(),
		"held":        len(res.Held),
		"unavailable": res.Unavailable,
	}).Info("hold placed")
	return res, nil
}

func heldIDs(recs []*model.Reservation) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}

func (m *HoldManager) invalidate(ctx context.Context, recs []*model.Reservation) {
	if len(recs) == 0 {
		return
	}
	var keys []string
	for _, r := range recs {
		keys = append(keys, cache.KeysFor(r)...)
	}
	m.cache.Invalidate(ctx, keys...)
}

// Expire reverts a single hold if it is still on-hold, not deleted and
// past its deadline.  It reports whether the reservation changed; any
// other state makes it a silent no-op.
func (m *HoldManager) Expire(ctx context.Context, id string) (bool, error) {
	cur, err := m.store.Get(ctx, id, repository.ScopeAll)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.expire(ctx, cur)
}

func (m *HoldManager) expire(ctx context.Context, cur *model.Reservation) (bool, error) {
	now := m.opts.Now().UTC()
	cond := repository.Condition{
		Statuses:  []model.Status{model.StatusOnHold},
		Deleted:   ptr(false),
		HoldDueBy: &now,
	}
	change := repository.Change{
		Status:    ptr(model.StatusAvailable),
		OwnerID:   ptr(""),
		ClearHold: true,
		At:        now,
	}
	if _, err := m.store.CompareAndUpdate(ctx, cur.ID, cond, change); err != nil {
		if errors.Is(err, repository.ErrPreconditionFailed) || errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	m.cache.Invalidate(ctx, cache.KeysFor(cur)...)
	return true, nil
}

// Sweep expires every hold that is due.  It works in batches until a
// batch comes back short or ctx is cancelled.  Per-record failures are
// logged and counted; the first listing failure is returned.
func (m *HoldManager) Sweep(ctx context.Context) (int, error) {
	expired, failed := 0, 0
	for {
		due, err := m.store.DueHolds(ctx, m.opts.Now().UTC(), m.opts.SweepBatch)
		if err != nil {
			return expired, err
		}
		progressed := false
		for _, r := range due {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			ok, err := m.expire(ctx, r)
			if err != nil {
				failed++
				m.log.WithError(err).WithField("reservation_id", r.ID).Error("expire hold failed")
				continue
			}
			if ok {
				expired++
				progressed = true
			}
		}
		if len(due) < m.opts.SweepBatch || !progressed {
			break
		}
	}
	if expired > 0 || failed > 0 {
		m.log.WithFields(logrus.Fields{"expired": expired, "failed": failed}).Info("hold sweep completed")
	}
	return expired, nil
}
