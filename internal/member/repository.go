package member

import (
	"context"
	"errors"
)

var (
	// ErrNotFound occurs when the referenced member is not registered in
	// the circle.
	ErrNotFound = errors.New("member not found")

	// ErrAlreadyMember occurs when a user joins a circle twice.
	ErrAlreadyMember = errors.New("already a member")

	// ErrDuplicateEndorsement occurs when a member vouches for the same
	// peer twice.
	ErrDuplicateEndorsement = errors.New("endorsement already recorded")
)

// Repository persists member records and their behavioral signals.
type Repository interface {
	Create(ctx context.Context, m Member) error
	Get(ctx context.Context, circleID, userID string) (Member, error)
	Endorse(ctx context.Context, circleID, fromUserID, toUserID string) error
	VouchCount(ctx context.Context, circleID, userID string) (int, error)
	RecordBooking(ctx context.Context, circleID, userID string, completed bool) error
	BookingStats(ctx context.Context, circleID, userID string) (BookingStats, error)
	RecordClaim(ctx context.Context, circleID, userID string) error
	ClaimCount(ctx context.Context, circleID, userID string) (int, error)
}
