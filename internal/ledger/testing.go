package ledger

import "time"

// SeedMembership is a test helper that creates a membership with the given
// balance when using the in-memory store.
func SeedMembership(s Store, circleID, userID string, balance int64) {
	if mem, ok := s.(*MemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.state.memberships[memberKey(circleID, userID)] = Membership{
			CircleID:  circleID,
			UserID:    userID,
			Balance:   balance,
			CreatedAt: time.Now().UTC(),
		}
	}
}

// SeedTreasury is a test helper that sets a circle's treasury balance when
// using the in-memory store.
func SeedTreasury(s Store, circleID string, balance int64) {
	if mem, ok := s.(*MemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.state.treasuries[circleID] = Treasury{CircleID: circleID, Balance: balance}
	}
}

// SeedPool is a test helper that sets a circle's insurance pool balance
// when using the in-memory store.
func SeedPool(s Store, circleID string, balance int64) {
	if mem, ok := s.(*MemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.state.pools[circleID] = InsurancePool{CircleID: circleID, Balance: balance}
	}
}
