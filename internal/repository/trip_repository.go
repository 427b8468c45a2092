package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// TripRepo reads the bus and route registries.  Both tables are owned by
// the fleet management service; this service only looks rows up to
// validate trip references and to enrich booking views.
type TripRepo struct {
	db *sql.DB
}

// NewTripRepo returns a new TripRepo bound to the given database.
func NewTripRepo(db *sql.DB) *TripRepo { return &TripRepo{db: db} }

// Lookup returns the bus and route of a trip.  It returns an error
// wrapping model.ErrNotFound when either half is missing.
func (r *TripRepo) Lookup(ctx context.Context, trip model.TripRef) (*model.TripMetadata, error) {
	var meta model.TripMetadata
	const busQ = `SELECT id, ntc_number, capacity FROM buses WHERE id = ?`
	err := r.db.QueryRowContext(ctx, busQ, trip.BusID).Scan(&meta.Bus.ID, &meta.Bus.NTCNumber, &meta.Bus.Capacity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("bus %s: %w", trip.BusID, model.ErrNotFound)
		}
		return nil, unavailable("lookup bus", err)
	}
	const routeQ = `SELECT id, start_location, end_location, distance FROM routes WHERE id = ?`
	err = r.db.QueryRowContext(ctx, routeQ, trip.RouteID).Scan(
		&meta.Route.ID, &meta.Route.StartLocation, &meta.Route.EndLocation, &meta.Route.Distance,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("route %s: %w", trip.RouteID, model.ErrNotFound)
		}
		return nil, unavailable("lookup route", err)
	}
	return &meta, nil
}
