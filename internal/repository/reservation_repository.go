package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// ReservationRepo is the MySQL implementation of the reservation store.
// The seat_reservations table carries a generated claim_slot column that
// is 1 for non-deleted on-hold and booked rows and NULL otherwise; a
// unique index over (bus_id, route_id, seat_number, claim_slot) makes the
// database reject a second claim on the same seat.  All timestamps are
// written in UTC by the caller.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, owner_id, bus_id, route_id, seat_number, status, hold_expires_at,
       deleted, deleted_at, archive_pending, created_at, updated_at`

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var (
		r        model.Reservation
		owner    sql.NullString
		status   string
		holdExp  sql.NullTime
		deleteAt sql.NullTime
	)
	if err := s.Scan(&r.ID, &owner, &r.Trip.BusID, &r.Trip.RouteID, &r.SeatNumber, &status, &holdExp,
		&r.Deleted, &deleteAt, &r.ArchivePending, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.OwnerID = owner.String
	r.Status = model.Status(status)
	if holdExp.Valid {
		t := holdExp.Time.UTC()
		r.HoldExpiresAt = &t
	}
	if deleteAt.Valid {
		t := deleteAt.Time.UTC()
		r.DeletedAt = &t
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Insert stores a new reservation.  An empty ID is replaced with a fresh
// UUID.  When the row would become a second claim on its seat the insert
// fails with a *model.ConflictError naming the seat.
func (r *ReservationRepo) Insert(ctx context.Context, res *model.Reservation) (*model.Reservation, error) {
	return insertReservation(ctx, r.db, res)
}

func insertReservation(ctx context.Context, q queryer, res *model.Reservation) (*model.Reservation, error) {
	rec := res.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	const ins = `INSERT INTO seat_reservations
        (id, owner_id, bus_id, route_id, seat_number, status, hold_expires_at, deleted, deleted_at, archive_pending, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
	_, err := q.ExecContext(ctx, ins,
		rec.ID, nullString(rec.OwnerID), rec.Trip.BusID, rec.Trip.RouteID, rec.SeatNumber, string(rec.Status),
		nullTime(rec.HoldExpiresAt), rec.Deleted, nullTime(rec.DeletedAt), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		if isDuplicate(err) {
			return nil, model.NewConflictError(rec.SeatNumber)
		}
		return nil, unavailable("insert reservation", err)
	}
	rec.ArchivePending = false
	return rec, nil
}

// Get returns a reservation by id.  With ScopeActive soft-deleted rows
// are reported as model.ErrNotFound.
func (r *ReservationRepo) Get(ctx context.Context, id string, scope Scope) (*model.Reservation, error) {
	return getReservation(ctx, r.db, id, scope)
}

func getReservation(ctx context.Context, q queryer, id string, scope Scope) (*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM seat_reservations WHERE id = ?`
	if scope == ScopeActive {
		query += ` AND deleted = 0`
	}
	res, err := scanReservation(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
		}
		return nil, unavailable("get reservation", err)
	}
	return res, nil
}

// FindClaim returns the non-deleted on-hold or booked reservation for a
// seat, or model.ErrNotFound when the seat is free.  It always reads the
// primary store.
func (r *ReservationRepo) FindClaim(ctx context.Context, trip model.TripRef, seat int) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM seat_reservations
               WHERE bus_id = ? AND route_id = ? AND seat_number = ? AND claim_slot = 1`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, trip.BusID, trip.RouteID, seat))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("seat %d on %s: %w", seat, trip, model.ErrNotFound)
		}
		return nil, unavailable("find claim", err)
	}
	return res, nil
}

// ListByOwner returns the active reservations of an owner, newest first.
func (r *ReservationRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM seat_reservations
               WHERE owner_id = ? AND deleted = 0 ORDER BY created_at DESC`
	return r.list(ctx, "list by owner", q, ownerID)
}

// ListByTrip returns the active reservations of a trip ordered by seat.
func (r *ReservationRepo) ListByTrip(ctx context.Context, trip model.TripRef) ([]*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM seat_reservations
               WHERE bus_id = ? AND route_id = ? AND deleted = 0 ORDER BY seat_number, created_at`
	return r.list(ctx, "list by trip", q, trip.BusID, trip.RouteID)
}

// DueHolds returns up to limit non-deleted holds whose deadline is at or
// before now.
func (r *ReservationRepo) DueHolds(ctx context.Context, now time.Time, limit int) ([]*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM seat_reservations
               WHERE status = 'on-hold' AND deleted = 0 AND archive_pending = 0 AND hold_expires_at <= ?
               ORDER BY hold_expires_at LIMIT ?`
	return r.list(ctx, "due holds", q, now.UTC(), limit)
}

// ListArchivable returns up to limit reservations created before the
// cutoff that are either live or already copied to the archive.  Rows
// come in (created_at, id) order, starting after the cursor.
func (r *ReservationRepo) ListArchivable(ctx context.Context, before time.Time, after model.Cursor, limit int) ([]*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM seat_reservations
          WHERE created_at < ? AND (deleted = 0 OR archive_pending = 1)`
	args := []any{before.UTC()}
	if !after.IsZero() {
		q += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		at := after.CreatedAt.UTC()
		args = append(args, at, at, after.ID)
	}
	q += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)
	return r.list(ctx, "list archivable", q, args...)
}

func (r *ReservationRepo) list(ctx context.Context, op, query string, args ...any) ([]*model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()
	out := []*model.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

// CompareAndUpdate applies change to the reservation only if it still
// satisfies cond, in a single UPDATE statement.  When nothing matched the
// row is re-read: a missing row yields model.ErrNotFound, an existing one
// is returned together with ErrPreconditionFailed.
func (r *ReservationRepo) CompareAndUpdate(ctx context.Context, id string, cond Condition, change Change) (*model.Reservation, error) {
	return compareAndUpdate(ctx, r.db, id, cond, change)
}

func compareAndUpdate(ctx context.Context, q queryer, id string, cond Condition, change Change) (*model.Reservation, error) {
	sets, setArgs := changeClause(change)
	where, whereArgs := conditionClause(cond)
	query := `UPDATE seat_reservations SET ` + sets + ` WHERE id = ? AND archive_pending = 0` + where
	args := append(setArgs, id)
	args = append(args, whereArgs...)

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		if isDuplicate(err) {
			cur, gerr := getReservation(ctx, q, id, ScopeAll)
			if gerr != nil {
				return nil, gerr
			}
			return nil, model.NewConflictError(cur.SeatNumber)
		}
		return nil, unavailable("update reservation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, unavailable("update reservation", err)
	}
	cur, err := getReservation(ctx, q, id, ScopeAll)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return cur, fmt.Errorf("reservation %s: %w", id, ErrPreconditionFailed)
	}
	return cur, nil
}

func changeClause(ch Change) (string, []any) {
	sets := []string{"updated_at = ?"}
	args := []any{ch.At.UTC()}
	if ch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*ch.Status))
	}
	if ch.OwnerID != nil {
		sets = append(sets, "owner_id = ?")
		args = append(args, nullString(*ch.OwnerID))
	}
	if ch.ClearHold {
		sets = append(sets, "hold_expires_at = NULL")
	} else if ch.HoldExpiresAt != nil {
		sets = append(sets, "hold_expires_at = ?")
		args = append(args, ch.HoldExpiresAt.UTC())
	}
	if ch.Deleted != nil {
		if *ch.Deleted {
			sets = append(sets, "deleted = 1", "deleted_at = ?")
			args = append(args, ch.At.UTC())
		} else {
			sets = append(sets, "deleted = 0", "deleted_at = NULL")
		}
	}
	return strings.Join(sets, ", "), args
}

func conditionClause(c Condition) (string, []any) {
	var b strings.Builder
	var args []any
	if len(c.Statuses) > 0 {
		b.WriteString(" AND status IN (" + placeholders(len(c.Statuses)) + ")")
		for _, s := range c.Statuses {
			args = append(args, string(s))
		}
	}
	if c.OwnerID != "" {
		b.WriteString(" AND owner_id = ?")
		args = append(args, c.OwnerID)
	}
	if c.Deleted != nil {
		b.WriteString(" AND deleted = ?")
		args = append(args, *c.Deleted)
	}
	if c.HoldDueBy != nil {
		b.WriteString(" AND hold_expires_at <= ?")
		args = append(args, c.HoldDueBy.UTC())
	}
	if c.HoldLiveAt != nil {
		b.WriteString(" AND hold_expires_at > ?")
		args = append(args, c.HoldLiveAt.UTC())
	}
	return b.String(), args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Book performs every claim inside one transaction.  New seats are
// inserted as booked; confirmations only succeed while the owner's hold
// is still on-hold, not deleted and before its deadline.  The first
// failing claim rolls the whole transaction back: a unique index
// violation yields a *model.ConflictError, a lost confirmation yields
// model.ErrHoldExpired.
func (r *ReservationRepo) Book(ctx context.Context, claims []BookingClaim, now time.Time) ([]*model.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin booking", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	booked := model.StatusBooked
	out := make([]*model.Reservation, 0, len(claims))
	for _, c := range claims {
		if c.Insert != nil {
			res, err := insertReservation(ctx, tx, c.Insert)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
			continue
		}
		cond := Condition{
			Statuses:   []model.Status{model.StatusOnHold},
			OwnerID:    c.OwnerID,
			Deleted:    boolPtr(false),
			HoldLiveAt: &now,
		}
		res, err := compareAndUpdate(ctx, tx, c.ConfirmID, cond, Change{Status: &booked, ClearHold: true, At: now})
		if err != nil {
			if errors.Is(err, ErrPreconditionFailed) || errors.Is(err, model.ErrNotFound) {
				return nil, fmt.Errorf("seat %d: %w", c.SeatNumber, model.ErrHoldExpired)
			}
			return nil, err
		}
		out = append(out, res)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit booking", err)
	}
	committed = true
	return out, nil
}

// MarkArchived soft-deletes the given reservations and flags them as
// archive-pending.  Rows already flagged are left alone.  It returns the
// number of rows changed.
func (r *ReservationRepo) MarkArchived(ctx context.Context, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `UPDATE seat_reservations
              SET deleted = 1, deleted_at = COALESCE(deleted_at, ?), archive_pending = 1, updated_at = ?
              WHERE archive_pending = 0 AND id IN (` + placeholders(len(ids)) + `)`
	args := []any{at.UTC(), at.UTC()}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, unavailable("mark archived", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("mark archived", err)
	}
	return int(n), nil
}

// Purge physically removes a reservation.  Purging a missing row is not
// an error.
func (r *ReservationRepo) Purge(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM seat_reservations WHERE id = ?`, id); err != nil {
		return unavailable("purge reservation", err)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
