package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/cache"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

var (
	commuterA = model.Actor{ID: "A", Role: model.RoleCommuter}
	commuterB = model.Actor{ID: "B", Role: model.RoleCommuter}
	admin     = model.Actor{ID: "root", Role: model.RoleAdmin}
)

func TestCreateBookingConflictWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.holds.PlaceHold(ctx, "B", tripB1R1, []int{2, 3})
	require.NoError(t, err)

	_, err = f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{1, 2, 3, 4})
	var ce *model.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []int{2, 3}, ce.Seats)
	assert.Equal(t, 2, f.store.Len())

	for _, seat := range []int{1, 4} {
		_, err := f.store.FindClaim(ctx, tripB1R1, seat)
		assert.ErrorIs(t, err, model.ErrNotFound)
	}
}

func TestCreateBookingUnknownTrip(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.bookings.CreateBooking(context.Background(), "A", model.TripRef{BusID: "B9", RouteID: "R1"}, []int{1})
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 0, f.store.Len())
}

func TestCreateBookingConfirmsHoldOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.holds.PlaceHold(ctx, "A", tripB1R1, []int{8})
	require.NoError(t, err)

	views, err := f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{8, 9})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, res.Held[0].ID, views[0].ID)
	for _, v := range views {
		assert.Equal(t, model.StatusBooked, v.Status)
		assert.Nil(t, v.HoldExpiresAt)
		assert.Equal(t, "NB-1234", v.Bus.NTCNumber)
		assert.Equal(t, "Kandy", v.Route.EndLocation)
	}

	_, err = f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{8})
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestCreateBookingAfterHoldDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.holds.PlaceHold(ctx, "A", tripB1R1, []int{8})
	require.NoError(t, err)

	f.clock.Advance(12 * time.Minute)
	_, err = f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{8})
	assert.ErrorIs(t, err, model.ErrHoldExpired)
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestConcurrentBookingsOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			_, err := f.bookings.CreateBooking(ctx, owner, tripB1R1, []int{12})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, model.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 19, conflicts)
}

func TestCreateBookingNotifies(t *testing.T) {
	ctx := context.Background()
	n := &mockNotifier{}
	done := make(chan []*model.Reservation, 1)
	n.On("NotifyBookingCreated", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { done <- args.Get(1).([]*model.Reservation) }).
		Return(errors.New("broker down"))
	f := newFixture(t, n)

	views, err := f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{1, 2})
	require.NoError(t, err, "notification failures must not fail the booking")
	require.Len(t, views, 2)

	select {
	case recs := <-done:
		assert.Len(t, recs, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}
	n.AssertExpectations(t)
}

func TestWaitJoinsPendingNotifications(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	var finished atomic.Bool
	n := &mockNotifier{}
	n.On("NotifyBookingCreated", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			<-release
			finished.Store(true)
		}).
		Return(nil)
	f := newFixture(t, n)

	_, err := f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{3})
	require.NoError(t, err)

	waited := make(chan struct{})
	go func() {
		f.bookings.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while a notification was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
		assert.True(t, finished.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestCancelBookedInvalidatesOwnerAndTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	views, err := f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{3})
	require.NoError(t, err)
	id := views[0].ID

	mine, err := f.bookings.ListByOwner(ctx, "A")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	_, err = f.bookings.ListByTrip(ctx, tripB1R1)
	require.NoError(t, err)
	_, ok := f.cache.Get(ctx, cache.OwnerKey("A"))
	require.True(t, ok)
	_, ok = f.cache.Get(ctx, cache.TripKey(tripB1R1))
	require.True(t, ok)

	got, err := f.bookings.Cancel(ctx, commuterA, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, got.Status)
	assert.Empty(t, got.OwnerID)

	_, ok = f.cache.Get(ctx, cache.OwnerKey("A"))
	assert.False(t, ok)
	_, ok = f.cache.Get(ctx, cache.TripKey(tripB1R1))
	assert.False(t, ok)

	mine, err = f.bookings.ListByOwner(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, mine)

	_, err = f.bookings.Cancel(ctx, admin, id)
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestCancelRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.holds.PlaceHold(ctx, "A", tripB1R1, []int{6})
	require.NoError(t, err)
	id := res.Held[0].ID

	_, err = f.bookings.Cancel(ctx, commuterB, id)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.bookings.Cancel(ctx, admin, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	got, err := f.bookings.Cancel(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, got.Status)
	assert.Nil(t, got.HoldExpiresAt)
}

func TestSoftDeleteThenRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	views, err := f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{11})
	require.NoError(t, err)
	id := views[0].ID

	deleted, err := f.bookings.SoftDelete(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Equal(t, model.StatusBooked, deleted.Status)
	require.NotNil(t, deleted.DeletedAt)

	list, err := f.bookings.ListByTrip(ctx, tripB1R1)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = f.bookings.GetByID(ctx, admin, id)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.bookings.SoftDelete(ctx, id)
	assert.ErrorIs(t, err, model.ErrInvalidState)

	restored, err := f.bookings.Restore(ctx, id)
	require.NoError(t, err)
	assert.False(t, restored.Deleted)
	assert.Nil(t, restored.DeletedAt)
	assert.Equal(t, model.StatusBooked, restored.Status)

	list, err = f.bookings.ListByTrip(ctx, tripB1R1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	_, err = f.bookings.Restore(ctx, id)
	assert.ErrorIs(t, err, model.ErrInvalidState)
	_, err = f.bookings.Restore(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRestoreOntoRetakenSeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	views, err := f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{11})
	require.NoError(t, err)
	_, err = f.bookings.SoftDelete(ctx, views[0].ID)
	require.NoError(t, err)

	_, err = f.bookings.CreateBooking(ctx, "B", tripB1R1, []int{11})
	require.NoError(t, err)

	_, err = f.bookings.Restore(ctx, views[0].ID)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestRestoreRefusesArchivePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.store.Put(&model.Reservation{ID: "old", OwnerID: "A", Trip: tripB1R1, SeatNumber: 1,
		Status: model.StatusBooked, Deleted: true, ArchivePending: true})

	_, err := f.bookings.Restore(ctx, "old")
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	views, err := f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{20})
	require.NoError(t, err)
	id := views[0].ID

	got, err := f.bookings.UpdateStatus(ctx, id, model.StatusOnHold)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnHold, got.Status)
	require.NotNil(t, got.HoldExpiresAt)
	assert.Equal(t, f.clock.Now().Add(12*time.Minute), *got.HoldExpiresAt)

	got, err = f.bookings.UpdateStatus(ctx, id, model.StatusBooked)
	require.NoError(t, err)
	assert.Nil(t, got.HoldExpiresAt)

	got, err = f.bookings.UpdateStatus(ctx, id, model.StatusAvailable)
	require.NoError(t, err)
	assert.Empty(t, got.OwnerID)

	_, err = f.bookings.UpdateStatus(ctx, id, model.StatusBooked)
	assert.ErrorIs(t, err, model.ErrInvalidState)

	_, err = f.bookings.UpdateStatus(ctx, id, model.Status("cancelled"))
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.bookings.UpdateStatus(ctx, "missing", model.StatusBooked)
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.Contains(t, f.cache.Invalidated(), cache.OwnerKey("A"))
}

func TestGetByIDOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	views, err := f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{2})
	require.NoError(t, err)
	id := views[0].ID

	v, err := f.bookings.GetByID(ctx, commuterA, id)
	require.NoError(t, err)
	assert.Equal(t, "Colombo", v.Route.StartLocation)

	_, err = f.bookings.GetByID(ctx, commuterB, id)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.bookings.GetByID(ctx, admin, id)
	assert.NoError(t, err)
}

func TestListsReadThroughCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{1})
	require.NoError(t, err)

	first, err := f.bookings.ListByTrip(ctx, tripB1R1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A write that bypasses the service leaves the cached view stale
	// until the entry is dropped.
	f.store.Put(&model.Reservation{ID: "side", OwnerID: "Z", Trip: tripB1R1, SeatNumber: 2, Status: model.StatusBooked})
	stale, err := f.bookings.ListByTrip(ctx, tripB1R1)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	require.NoError(t, f.cache.Flush(ctx))
	fresh, err := f.bookings.ListByTrip(ctx, tripB1R1)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)

	f.clock.Advance(2 * time.Hour)
	f.store.Put(&model.Reservation{ID: "side2", OwnerID: "Z", Trip: tripB1R1, SeatNumber: 3, Status: model.StatusBooked})
	expired, err := f.bookings.ListByTrip(ctx, tripB1R1)
	require.NoError(t, err)
	assert.Len(t, expired, 3)

	_, err = f.bookings.ListByTrip(ctx, model.TripRef{BusID: "B1", RouteID: "R404"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListByOwnerKeepsOrphanedTrips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.store.Put(&model.Reservation{ID: "x", OwnerID: "A", Trip: model.TripRef{BusID: "gone", RouteID: "R1"},
		SeatNumber: 1, Status: model.StatusBooked})

	views, err := f.bookings.ListByOwner(ctx, "A")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Nil(t, views[0].Bus)
}

func TestTransitionReportsLostRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	views, err := f.bookings.CreateBooking(ctx, "A", tripB1R1, []int{30})
	require.NoError(t, err)
	cur, err := f.store.Get(ctx, views[0].ID, repository.ScopeActive)
	require.NoError(t, err)

	_, err = f.bookings.Cancel(ctx, admin, cur.ID)
	require.NoError(t, err)

	// Replaying the cancel against the stale snapshot loses the race.
	_, err = f.bookings.transition(ctx, cur,
		repository.Condition{Statuses: []model.Status{model.StatusBooked}},
		repository.Change{Status: ptr(model.StatusAvailable), At: f.clock.Now()})
	assert.ErrorIs(t, err, model.ErrInvalidState)
}
