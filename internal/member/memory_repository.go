package member

import (
	"context"
	"fmt"
	"sync"
)

type memoryRepository struct {
	mu           sync.RWMutex
	members      map[string]Member
	endorsements map[string]map[string]bool // circle|to -> from -> seen
	bookings     map[string]BookingStats
	claims       map[string]int
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		members:      make(map[string]Member),
		endorsements: make(map[string]map[string]bool),
		bookings:     make(map[string]BookingStats),
		claims:       make(map[string]int),
	}
}

func key(circleID, userID string) string { return circleID + "|" + userID }

func (r *memoryRepository) Create(_ context.Context, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(m.CircleID, m.UserID)
	if _, exists := r.members[k]; exists {
		return ErrAlreadyMember
	}
	r.members[k] = m
	return nil
}

func (r *memoryRepository) Get(_ context.Context, circleID, userID string) (Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[key(circleID, userID)]
	if !ok {
		return Member{}, fmt.Errorf("%s/%s: %w", circleID, userID, ErrNotFound)
	}
	return m, nil
}

func (r *memoryRepository) Endorse(_ context.Context, circleID, fromUserID, toUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(circleID, toUserID)
	if _, ok := r.members[k]; !ok {
		return fmt.Errorf("%s/%s: %w", circleID, toUserID, ErrNotFound)
	}
	if r.endorsements[k] == nil {
		r.endorsements[k] = make(map[string]bool)
	}
	if r.endorsements[k][fromUserID] {
		return ErrDuplicateEndorsement
	}
	r.endorsements[k][fromUserID] = true
	return nil
}

func (r *memoryRepository) VouchCount(_ context.Context, circleID, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endorsements[key(circleID, userID)]), nil
}

func (r *memoryRepository) RecordBooking(_ context.Context, circleID, userID string, completed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(circleID, userID)
	stats := r.bookings[k]
	stats.Total++
	if completed {
		stats.Completed++
	}
	r.bookings[k] = stats
	return nil
}

func (r *memoryRepository) BookingStats(_ context.Context, circleID, userID string) (BookingStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bookings[key(circleID, userID)], nil
}

func (r *memoryRepository) RecordClaim(_ context.Context, circleID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims[key(circleID, userID)]++
	return nil
}

func (r *memoryRepository) ClaimCount(_ context.Context, circleID, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.claims[key(circleID, userID)], nil
}
