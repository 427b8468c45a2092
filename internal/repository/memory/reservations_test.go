package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

var (
	trip = model.TripRef{BusID: "B1", RouteID: "R1"}
	t0   = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

func hold(owner string, seat int, exp time.Time) *model.Reservation {
	return &model.Reservation{
		OwnerID: owner, Trip: trip, SeatNumber: seat, Status: model.StatusOnHold,
		HoldExpiresAt: &exp, CreatedAt: t0, UpdatedAt: t0,
	}
}

func TestInsertRejectsSecondClaim(t *testing.T) {
	ctx := context.Background()
	s := NewReservationStore()

	first, err := s.Insert(ctx, hold("A", 5, t0.Add(12*time.Minute)))
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = s.Insert(ctx, hold("B", 5, t0.Add(12*time.Minute)))
	var ce *model.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []int{5}, ce.Seats)

	claim, err := s.FindClaim(ctx, trip, 5)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claim.ID)
}

func TestConcurrentInsertExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := NewReservationStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Insert(ctx, hold("A", 9, t0.Add(time.Minute)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, model.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 49, conflicts)
}

func TestCompareAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewReservationStore()
	rec, err := s.Insert(ctx, hold("A", 1, t0.Add(12*time.Minute)))
	require.NoError(t, err)

	avail := model.StatusAvailable
	due := t0.Add(5 * time.Minute)
	cur, err := s.CompareAndUpdate(ctx, rec.ID,
		repository.Condition{Statuses: []model.Status{model.StatusOnHold}, HoldDueBy: &due},
		repository.Change{Status: &avail, ClearHold: true, At: due})
	require.ErrorIs(t, err, repository.ErrPreconditionFailed)
	assert.Equal(t, model.StatusOnHold, cur.Status)

	due = t0.Add(12 * time.Minute)
	cur, err = s.CompareAndUpdate(ctx, rec.ID,
		repository.Condition{Statuses: []model.Status{model.StatusOnHold}, HoldDueBy: &due},
		repository.Change{Status: &avail, ClearHold: true, At: due})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, cur.Status)
	assert.Nil(t, cur.HoldExpiresAt)

	_, err = s.FindClaim(ctx, trip, 1)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.CompareAndUpdate(ctx, "missing", repository.Condition{}, repository.Change{At: due})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCompareAndUpdateReclaimConflict(t *testing.T) {
	ctx := context.Background()
	s := NewReservationStore()
	old := &model.Reservation{ID: "old", Trip: trip, SeatNumber: 3, Status: model.StatusBooked, OwnerID: "A", CreatedAt: t0}
	deleted := true
	old.Deleted = deleted
	s.Put(old)
	_, err := s.Insert(ctx, hold("B", 3, t0.Add(time.Minute)))
	require.NoError(t, err)

	f := false
	_, err = s.CompareAndUpdate(ctx, "old", repository.Condition{Deleted: &deleted}, repository.Change{Deleted: &f, At: t0})
	assert.ErrorIs(t, err, model.ErrConflict)

	got, err := s.Get(ctx, "old", repository.ScopeAll)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func TestBookIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewReservationStore()
	h, err := s.Insert(ctx, hold("A", 1, t0.Add(12*time.Minute)))
	require.NoError(t, err)
	_, err = s.Insert(ctx, hold("B", 2, t0.Add(12*time.Minute)))
	require.NoError(t, err)

	batch := []repository.BookingClaim{
		{ConfirmID: h.ID, OwnerID: "A", SeatNumber: 1},
		{Insert: &model.Reservation{OwnerID: "A", Trip: trip, SeatNumber: 2, Status: model.StatusBooked}, OwnerID: "A", SeatNumber: 2},
	}
	_, err = s.Book(ctx, batch, t0.Add(time.Minute))
	require.ErrorIs(t, err, model.ErrConflict)

	got, err := s.Get(ctx, h.ID, repository.ScopeActive)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnHold, got.Status)

	_, err = s.Book(ctx, batch[:1], t0.Add(13*time.Minute))
	assert.ErrorIs(t, err, model.ErrHoldExpired)

	out, err := s.Book(ctx, batch[:1], t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.StatusBooked, out[0].Status)
	assert.Nil(t, out[0].HoldExpiresAt)
}

func TestArchivableAndMark(t *testing.T) {
	ctx := context.Background()
	s := NewReservationStore()
	old := t0.Add(-40 * 24 * time.Hour)
	s.Put(&model.Reservation{ID: "live", Trip: trip, SeatNumber: 1, Status: model.StatusBooked, CreatedAt: old})
	s.Put(&model.Reservation{ID: "admin-deleted", Trip: trip, SeatNumber: 2, Status: model.StatusBooked, Deleted: true, CreatedAt: old})
	s.Put(&model.Reservation{ID: "fresh", Trip: trip, SeatNumber: 3, Status: model.StatusBooked, CreatedAt: t0})

	got, err := s.ListArchivable(ctx, t0.Add(-30*24*time.Hour), model.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "live", got[0].ID)

	n, err := s.MarkArchived(ctx, []string{"live", "live"}, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = s.ListArchivable(ctx, t0.Add(-30*24*time.Hour), model.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].ArchivePending)
	assert.True(t, got[0].Deleted)

	_, err = s.FindClaim(ctx, trip, 1)
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, s.Purge(ctx, "live"))
	_, err = s.Get(ctx, "live", repository.ScopeAll)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListsHideDeleted(t *testing.T) {
	ctx := context.Background()
	s := NewReservationStore()
	s.Put(&model.Reservation{ID: "a", OwnerID: "A", Trip: trip, SeatNumber: 1, Status: model.StatusBooked, CreatedAt: t0})
	s.Put(&model.Reservation{ID: "b", OwnerID: "A", Trip: trip, SeatNumber: 2, Status: model.StatusBooked, Deleted: true, CreatedAt: t0})

	mine, err := s.ListByOwner(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	onTrip, err := s.ListByTrip(ctx, trip)
	require.NoError(t, err)
	assert.Len(t, onTrip, 1)

	_, err = s.Get(ctx, "b", repository.ScopeActive)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.Get(ctx, "b", repository.ScopeAll)
	assert.NoError(t, err)
}

func TestTripRegistryLookup(t *testing.T) {
	reg := NewTripRegistry()
	reg.AddBus(model.Bus{ID: "B1", NTCNumber: "NB-1234", Capacity: 40})
	reg.AddRoute(model.Route{ID: "R1", StartLocation: "Colombo", EndLocation: "Galle"})

	meta, err := reg.Lookup(context.Background(), trip)
	require.NoError(t, err)
	assert.Equal(t, 40, meta.Bus.Capacity)

	_, err = reg.Lookup(context.Background(), model.TripRef{BusID: "B1", RouteID: "R9"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestArchiveStorePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := NewArchiveStore()
	r := &model.Reservation{ID: "x", Status: model.StatusBooked}
	require.NoError(t, a.Put(ctx, r))
	require.NoError(t, a.Put(ctx, r))
	assert.Equal(t, 1, a.Len())

	ok, err := a.Exists(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)

	a.FailPut = func(string) error { return errors.New("disk full") }
	assert.Error(t, a.Put(ctx, &model.Reservation{ID: "y"}))
	assert.Equal(t, 1, a.Len())
}

func TestListArchivableAfterCursor(t *testing.T) {
	ctx := context.Background()
	s := NewReservationStore()
	old := t0.Add(-40 * 24 * time.Hour)
	s.Put(&model.Reservation{ID: "b", Trip: trip, SeatNumber: 2, Status: model.StatusBooked, CreatedAt: old})
	s.Put(&model.Reservation{ID: "a", Trip: trip, SeatNumber: 1, Status: model.StatusBooked, CreatedAt: old})
	s.Put(&model.Reservation{ID: "c", Trip: trip, SeatNumber: 3, Status: model.StatusBooked, CreatedAt: old.Add(time.Hour)})
	cutoff := t0.Add(-30 * 24 * time.Hour)

	page, err := s.ListArchivable(ctx, cutoff, model.Cursor{}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	page, err = s.ListArchivable(ctx, cutoff, model.CursorAt(page[1]), 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].ID)
}
