package member

import (
	"context"
	"errors"
	"time"

	"github.com/tempora-exchange/tempora/internal/loan"
)

// ErrSelfEndorsement occurs when a member vouches for themselves.
var ErrSelfEndorsement = errors.New("cannot endorse yourself")

// Service manages circle membership and exposes the behavioral signals the
// loan subsystem assesses.
type Service struct {
	repo Repository
}

// NewService creates a member service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Join registers a user in a circle.
func (s *Service) Join(ctx context.Context, circleID, userID string) (Member, error) {
	m := Member{CircleID: circleID, UserID: userID, JoinedAt: time.Now().UTC()}
	if err := s.repo.Create(ctx, m); err != nil {
		return Member{}, err
	}
	return m, nil
}

// Get retrieves a member record.
func (s *Service) Get(ctx context.Context, circleID, userID string) (Member, error) {
	return s.repo.Get(ctx, circleID, userID)
}

// Endorse records a peer vouch from one member to another.
func (s *Service) Endorse(ctx context.Context, circleID, fromUserID, toUserID string) error {
	if fromUserID == toUserID {
		return ErrSelfEndorsement
	}
	if _, err := s.repo.Get(ctx, circleID, fromUserID); err != nil {
		return err
	}
	return s.repo.Endorse(ctx, circleID, fromUserID, toUserID)
}

// RecordBooking bumps the member's booking counters when a booking closes.
func (s *Service) RecordBooking(ctx context.Context, circleID, userID string, completed bool) error {
	return s.repo.RecordBooking(ctx, circleID, userID, completed)
}

// RecordClaim bumps the member's insurance claim counter.
func (s *Service) RecordClaim(ctx context.Context, circleID, userID string) error {
	return s.repo.RecordClaim(ctx, circleID, userID)
}

// Signals assembles the behavioral inputs for a loan assessment. Implements
// loan.SignalSource.
func (s *Service) Signals(ctx context.Context, circleID, userID string) (loan.Signals, error) {
	m, err := s.repo.Get(ctx, circleID, userID)
	if err != nil {
		return loan.Signals{}, err
	}
	stats, err := s.repo.BookingStats(ctx, circleID, userID)
	if err != nil {
		return loan.Signals{}, err
	}
	claims, err := s.repo.ClaimCount(ctx, circleID, userID)
	if err != nil {
		return loan.Signals{}, err
	}
	vouches, err := s.repo.VouchCount(ctx, circleID, userID)
	if err != nil {
		return loan.Signals{}, err
	}
	return loan.Signals{
		JoinedAt:          m.JoinedAt,
		TotalBookings:     stats.Total,
		CompletedBookings: stats.Completed,
		Claims:            claims,
		Vouches:           vouches,
	}, nil
}
