package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

func TestConditionMatches(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	exp := now.Add(time.Minute)
	no := false
	r := &model.Reservation{OwnerID: "A", Status: model.StatusOnHold, HoldExpiresAt: &exp}

	assert.True(t, Condition{}.Matches(r))
	assert.True(t, Condition{Statuses: []model.Status{model.StatusBooked, model.StatusOnHold}}.Matches(r))
	assert.False(t, Condition{Statuses: []model.Status{model.StatusBooked}}.Matches(r))
	assert.False(t, Condition{OwnerID: "B"}.Matches(r))
	assert.True(t, Condition{Deleted: &no}.Matches(r))
	assert.True(t, Condition{HoldLiveAt: &now}.Matches(r))
	assert.False(t, Condition{HoldDueBy: &now}.Matches(r))
	assert.True(t, Condition{HoldDueBy: &exp}.Matches(r))
	assert.False(t, Condition{HoldLiveAt: &exp}.Matches(r))

	r.ArchivePending = true
	assert.False(t, Condition{}.Matches(r))
}

func TestChangeApply(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	exp := at.Add(time.Minute)
	r := &model.Reservation{OwnerID: "A", Status: model.StatusOnHold, HoldExpiresAt: &exp}

	avail := model.StatusAvailable
	empty := ""
	yes := true
	Change{Status: &avail, OwnerID: &empty, ClearHold: true, Deleted: &yes, At: at}.Apply(r)

	assert.Equal(t, model.StatusAvailable, r.Status)
	assert.Empty(t, r.OwnerID)
	assert.Nil(t, r.HoldExpiresAt)
	assert.True(t, r.Deleted)
	assert.Equal(t, at, *r.DeletedAt)
	assert.Equal(t, at, r.UpdatedAt)

	no := false
	Change{Deleted: &no, At: at}.Apply(r)
	assert.False(t, r.Deleted)
	assert.Nil(t, r.DeletedAt)
}

func TestUpdateClauses(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	booked := model.StatusBooked
	sets, args := changeClause(Change{Status: &booked, ClearHold: true, At: at})
	assert.Equal(t, "updated_at = ?, status = ?, hold_expires_at = NULL", sets)
	assert.Equal(t, []any{at, "booked"}, args)

	no := false
	where, wargs := conditionClause(Condition{
		Statuses: []model.Status{model.StatusOnHold, model.StatusBooked},
		OwnerID:  "A",
		Deleted:  &no,
	})
	assert.Equal(t, " AND status IN (?, ?) AND owner_id = ? AND deleted = ?", where)
	assert.Equal(t, []any{"on-hold", "booked", "A", false}, wargs)

	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, isDuplicate(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	assert.False(t, isDuplicate(&mysql.MySQLError{Number: 1213}))
	assert.False(t, isDuplicate(errors.New("boom")))
}

func TestUnavailableWrapsBoth(t *testing.T) {
	cause := errors.New("connection refused")
	err := unavailable("get reservation", cause)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
}
