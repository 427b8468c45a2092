package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// ArchiveStore is an in-memory archive keyed by reservation id.
type ArchiveStore struct {
	mu   sync.Mutex
	rows map[string]*model.Reservation
	puts int

	// FailPut, when set, is consulted before every Put; a non-nil result
	// is returned instead of storing the record.
	FailPut func(id string) error
}

// NewArchiveStore returns an empty archive.
func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{rows: make(map[string]*model.Reservation)}
}

func (a *ArchiveStore) Exists(ctx context.Context, id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.rows[id]
	return ok, nil
}

// Put stores a copy of res unless a record with the same id exists.
func (a *ArchiveStore) Put(ctx context.Context, res *model.Reservation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailPut != nil {
		if err := a.FailPut(res.ID); err != nil {
			return err
		}
	}
	a.puts++
	if _, ok := a.rows[res.ID]; !ok {
		a.rows[res.ID] = res.Clone()
	}
	return nil
}

func (a *ArchiveStore) Get(ctx context.Context, id string) (*model.Reservation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.rows[id]
	if !ok {
		return nil, fmt.Errorf("archived reservation %s: %w", id, model.ErrNotFound)
	}
	return r.Clone(), nil
}

// Len returns the number of archived records.
func (a *ArchiveStore) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

// Puts returns how many Put calls stored or skipped a record.
func (a *ArchiveStore) Puts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.puts
}
