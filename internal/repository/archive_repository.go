package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// ArchiveRepo stores copies of aged reservations in PostgreSQL.  Rows are
// keyed by the reservation id, so copying the same reservation twice
// leaves a single archive row.
type ArchiveRepo struct {
	db *sqlx.DB
}

// NewArchiveRepo returns a new ArchiveRepo bound to the given database.
func NewArchiveRepo(db *sqlx.DB) *ArchiveRepo { return &ArchiveRepo{db: db} }

type archiveRow struct {
	ID            string         `db:"id"`
	OwnerID       sql.NullString `db:"owner_id"`
	BusID         string         `db:"bus_id"`
	RouteID       string         `db:"route_id"`
	SeatNumber    int            `db:"seat_number"`
	Status        string         `db:"status"`
	HoldExpiresAt sql.NullTime   `db:"hold_expires_at"`
	Deleted       bool           `db:"deleted"`
	DeletedAt     sql.NullTime   `db:"deleted_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	ArchivedAt    time.Time      `db:"archived_at"`
}

func (a archiveRow) reservation() *model.Reservation {
	r := &model.Reservation{
		ID:         a.ID,
		OwnerID:    a.OwnerID.String,
		Trip:       model.TripRef{BusID: a.BusID, RouteID: a.RouteID},
		SeatNumber: a.SeatNumber,
		Status:     model.Status(a.Status),
		Deleted:    a.Deleted,
		CreatedAt:  a.CreatedAt.UTC(),
		UpdatedAt:  a.UpdatedAt.UTC(),
	}
	if a.HoldExpiresAt.Valid {
		t := a.HoldExpiresAt.Time.UTC()
		r.HoldExpiresAt = &t
	}
	if a.DeletedAt.Valid {
		t := a.DeletedAt.Time.UTC()
		r.DeletedAt = &t
	}
	return r
}

// Exists reports whether a reservation with the given id is archived.
func (r *ArchiveRepo) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := r.db.GetContext(ctx, &ok, `SELECT EXISTS(SELECT 1 FROM reservation_archive WHERE id = $1)`, id); err != nil {
		return false, unavailable("archive exists", err)
	}
	return ok, nil
}

// Put copies a reservation into the archive.  An existing row with the
// same id is kept as is.
func (r *ArchiveRepo) Put(ctx context.Context, res *model.Reservation) error {
	row := archiveRow{
		ID:            res.ID,
		OwnerID:       nullString(res.OwnerID),
		BusID:         res.Trip.BusID,
		RouteID:       res.Trip.RouteID,
		SeatNumber:    res.SeatNumber,
		Status:        string(res.Status),
		HoldExpiresAt: nullTime(res.HoldExpiresAt),
		Deleted:       res.Deleted,
		DeletedAt:     nullTime(res.DeletedAt),
		CreatedAt:     res.CreatedAt.UTC(),
		UpdatedAt:     res.UpdatedAt.UTC(),
		ArchivedAt:    time.Now().UTC(),
	}
	const q = `INSERT INTO reservation_archive
        (id, owner_id, bus_id, route_id, seat_number, status, hold_expires_at, deleted, deleted_at, created_at, updated_at, archived_at)
        VALUES (:id, :owner_id, :bus_id, :route_id, :seat_number, :status, :hold_expires_at, :deleted, :deleted_at, :created_at, :updated_at, :archived_at)
        ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, q, row); err != nil {
		return unavailable("archive put", err)
	}
	return nil
}

// Get returns an archived reservation.
func (r *ArchiveRepo) Get(ctx context.Context, id string) (*model.Reservation, error) {
	var row archiveRow
	err := r.db.GetContext(ctx, &row, `SELECT id, owner_id, bus_id, route_id, seat_number, status, hold_expires_at,
        deleted, deleted_at, created_at, updated_at, archived_at FROM reservation_archive WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("archived reservation %s: %w", id, model.ErrNotFound)
		}
		return nil, unavailable("archive get", err)
	}
	return row.reservation(), nil
}
