package repository

import (
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Scope selects whether soft-deleted reservations are visible to a read.
// Default reads use ScopeActive; ScopeAll is reserved for restore and the
// archiver.
type Scope int

const (
	ScopeActive Scope = iota
	ScopeAll
)

// Condition is the precondition of a compare-and-update.  Zero fields are
// not checked.  Records marked archive-pending never match.
type Condition struct {
	Statuses   []model.Status // status must be one of these
	OwnerID    string         // owner must equal this
	Deleted    *bool          // deleted flag must equal this
	HoldDueBy  *time.Time     // hold_expires_at <= HoldDueBy
	HoldLiveAt *time.Time     // hold_expires_at > HoldLiveAt
}

// Matches evaluates the condition against r.
func (c Condition) Matches(r *model.Reservation) bool {
	if r.ArchivePending {
		return false
	}
	if len(c.Statuses) > 0 {
		ok := false
		for _, s := range c.Statuses {
			if r.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if c.OwnerID != "" && r.OwnerID != c.OwnerID {
		return false
	}
	if c.Deleted != nil && r.Deleted != *c.Deleted {
		return false
	}
	if c.HoldDueBy != nil && (r.HoldExpiresAt == nil || r.HoldExpiresAt.After(*c.HoldDueBy)) {
		return false
	}
	if c.HoldLiveAt != nil && (r.HoldExpiresAt == nil || !r.HoldExpiresAt.After(*c.HoldLiveAt)) {
		return false
	}
	return true
}

// Change describes the fields a compare-and-update writes.  Nil fields are
// left untouched.  At stamps updated_at and, when Deleted is set to true,
// deleted_at.
type Change struct {
	Status        *model.Status
	OwnerID       *string // pointer to "" clears the owner
	HoldExpiresAt *time.Time
	ClearHold     bool
	Deleted       *bool
	At            time.Time
}

// Apply writes the change onto r.
func (ch Change) Apply(r *model.Reservation) {
	if ch.Status != nil {
		r.Status = *ch.Status
	}
	if ch.OwnerID != nil {
		r.OwnerID = *ch.OwnerID
	}
	if ch.ClearHold {
		r.HoldExpiresAt = nil
	} else if ch.HoldExpiresAt != nil {
		t := *ch.HoldExpiresAt
		r.HoldExpiresAt = &t
	}
	if ch.Deleted != nil {
		r.Deleted = *ch.Deleted
		if r.Deleted {
			at := ch.At
			r.DeletedAt = &at
		} else {
			r.DeletedAt = nil
		}
	}
	r.UpdatedAt = ch.At
}

// BookingClaim is one seat of an all-or-nothing booking write.  Exactly
// one of Insert and ConfirmID is set: Insert creates a new booked
// reservation, ConfirmID turns the owner's live hold into a booking.
type BookingClaim struct {
	Insert     *model.Reservation
	ConfirmID  string
	OwnerID    string
	SeatNumber int
}
