package member

import "time"

// Member is a registered participant of a circle. Behavioral counters feed
// loan eligibility; balances live in the ledger, not here.
type Member struct {
	CircleID string
	UserID   string
	JoinedAt time.Time
}

// BookingStats counts a member's bookings as either party.
type BookingStats struct {
	Total     int
	Completed int
}
