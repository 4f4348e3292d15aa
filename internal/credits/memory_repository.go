package credits

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Lot
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Lot)}
}

func (r *memoryRepository) Create(_ context.Context, lot Lot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[lot.ID]; exists {
		return errors.New("credit lot exists")
	}
	r.storage[lot.ID] = lot
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Lot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lot, ok := r.storage[id]
	if !ok {
		return Lot{}, ErrNotFound
	}
	return lot, nil
}

func (r *memoryRepository) Available(_ context.Context, circleID, userID string) ([]Lot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Lot
	for _, lot := range r.storage {
		if lot.CircleID == circleID && lot.UserID == userID && lot.Remaining > 0 {
			out = append(out, lot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) Consume(_ context.Context, deltas []Consumption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated := make(map[string]Lot, len(deltas))
	for _, d := range deltas {
		lot, ok := updated[d.LotID]
		if !ok {
			lot, ok = r.storage[d.LotID]
			if !ok {
				return ErrNotFound
			}
		}
		if lot.Remaining < d.Use {
			return ErrLotExhausted
		}
		lot.Remaining -= d.Use
		updated[d.LotID] = lot
	}
	for id, lot := range updated {
		r.storage[id] = lot
	}
	return nil
}

func (r *memoryRepository) Restore(_ context.Context, deltas []Consumption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range deltas {
		lot, ok := r.storage[d.LotID]
		if !ok {
			return ErrNotFound
		}
		lot.Remaining += d.Use
		r.storage[d.LotID] = lot
	}
	return nil
}
