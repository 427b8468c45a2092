package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// TripRegistry is an in-memory bus and route registry.
type TripRegistry struct {
	mu     sync.RWMutex
	buses  map[string]model.Bus
	routes map[string]model.Route
}

func NewTripRegistry() *TripRegistry {
	return &TripRegistry{
		buses:  make(map[string]model.Bus),
		routes: make(map[string]model.Route),
	}
}

func (t *TripRegistry) AddBus(b model.Bus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buses[b.ID] = b
}

func (t *TripRegistry) AddRoute(r model.Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[r.ID] = r
}

// Lookup returns the metadata of a trip or an error wrapping
// model.ErrNotFound.
func (t *TripRegistry) Lookup(ctx context.Context, trip model.TripRef) (*model.TripMetadata, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bus, ok := t.buses[trip.BusID]
	if !ok {
		return nil, fmt.Errorf("bus %s: %w", trip.BusID, model.ErrNotFound)
	}
	route, ok := t.routes[trip.RouteID]
	if !ok {
		return nil, fmt.Errorf("route %s: %w", trip.RouteID, model.ErrNotFound)
	}
	return &model.TripMetadata{Bus: bus, Route: route}, nil
}
