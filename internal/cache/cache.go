// Package cache holds the read-through cache of booking list views.
// Entries are JSON snapshots keyed by owner or by trip, expire after a
// fixed TTL and are invalidated by every write that could change them.
// The cache is never authoritative: conflict checks always read the
// reservation store, and Flush may be called at any time.
package cache

import (
	"context"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Cache is implemented by RedisCache and MemoryCache.  Get reports a miss
// with ok == false; backend failures are logged and treated as misses.
type Cache interface {
	Get(ctx context.Context, key string) (val []byte, ok bool)
	Set(ctx context.Context, key string, val []byte)
	Invalidate(ctx context.Context, keys ...string)
	Flush(ctx context.Context) error
	Close() error
}

// OwnerKey is the key of the list of bookings owned by ownerID.
func OwnerKey(ownerID string) string { return "bookings:owner:" + ownerID }

// TripKey is the key of the list of bookings on a trip.
func TripKey(trip model.TripRef) string {
	return "bookings:trip:" + trip.BusID + ":" + trip.RouteID
}

// KeysFor returns every key whose content a write to r could change.
// An empty owner contributes no key.
func KeysFor(r *model.Reservation) []string {
	keys := []string{TripKey(r.Trip)}
	if r.OwnerID != "" {
		keys = append(keys, OwnerKey(r.OwnerID))
	}
	return keys
}

// Noop is a Cache that never stores anything.  It is used when caching is
// disabled by configuration.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Noop) Set(context.Context, string, []byte)        {}
func (Noop) Invalidate(context.Context, ...string)      {}
func (Noop) Flush(context.Context) error                { return nil }
func (Noop) Close() error                               { return nil }
