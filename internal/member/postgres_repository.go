package member

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores members, endorsements and behavioral counters
// in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a member record.
func (r *PostgresRepository) Create(ctx context.Context, m Member) error {
	const query = `INSERT INTO members (circle_id, user_id, joined_at, booking_total, booking_completed, claims)
        VALUES ($1, $2, $3, 0, 0, 0)
        ON CONFLICT (circle_id, user_id) DO NOTHING`
	tag, err := r.db.Exec(ctx, query, m.CircleID, m.UserID, m.JoinedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyMember
	}
	return nil
}

// Get fetches a member by circle and user id.
func (r *PostgresRepository) Get(ctx context.Context, circleID, userID string) (Member, error) {
	const query = `SELECT circle_id, user_id, joined_at FROM members
        WHERE circle_id = $1 AND user_id = $2`
	var m Member
	err := r.db.QueryRow(ctx, query, circleID, userID).Scan(&m.CircleID, &m.UserID, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, fmt.Errorf("%s/%s: %w", circleID, userID, ErrNotFound)
		}
		return Member{}, err
	}
	return m, nil
}

// Endorse records a peer vouch; a member may vouch for the same peer once.
func (r *PostgresRepository) Endorse(ctx context.Context, circleID, fromUserID, toUserID string) error {
	if _, err := r.Get(ctx, circleID, toUserID); err != nil {
		return err
	}
	const query = `INSERT INTO endorsements (circle_id, from_user_id, to_user_id, created_at)
        VALUES ($1, $2, $3, now())
        ON CONFLICT (circle_id, from_user_id, to_user_id) DO NOTHING`
	tag, err := r.db.Exec(ctx, query, circleID, fromUserID, toUserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateEndorsement
	}
	return nil
}

// VouchCount counts endorsements received.
func (r *PostgresRepository) VouchCount(ctx context.Context, circleID, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM endorsements WHERE circle_id = $1 AND to_user_id = $2`
	var count int
	err := r.db.QueryRow(ctx, query, circleID, userID).Scan(&count)
	return count, err
}

// RecordBooking bumps the member's booking counters.
func (r *PostgresRepository) RecordBooking(ctx context.Context, circleID, userID string, completed bool) error {
	completedDelta := 0
	if completed {
		completedDelta = 1
	}
	const query = `UPDATE members SET booking_total = booking_total + 1,
        booking_completed = booking_completed + $3
        WHERE circle_id = $1 AND user_id = $2`
	tag, err := r.db.Exec(ctx, query, circleID, userID, completedDelta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", circleID, userID, ErrNotFound)
	}
	return nil
}

// BookingStats reads the member's booking counters.
func (r *PostgresRepository) BookingStats(ctx context.Context, circleID, userID string) (BookingStats, error) {
	const query = `SELECT booking_total, booking_completed FROM members
        WHERE circle_id = $1 AND user_id = $2`
	var stats BookingStats
	err := r.db.QueryRow(ctx, query, circleID, userID).Scan(&stats.Total, &stats.Completed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BookingStats{}, fmt.Errorf("%s/%s: %w", circleID, userID, ErrNotFound)
		}
		return BookingStats{}, err
	}
	return stats, nil
}

// RecordClaim bumps the member's insurance claim counter.
func (r *PostgresRepository) RecordClaim(ctx context.Context, circleID, userID string) error {
	const query = `UPDATE members SET claims = claims + 1
        WHERE circle_id = $1 AND user_id = $2`
	tag, err := r.db.Exec(ctx, query, circleID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", circleID, userID, ErrNotFound)
	}
	return nil
}

// ClaimCount reads the member's insurance claim counter.
func (r *PostgresRepository) ClaimCount(ctx context.Context, circleID, userID string) (int, error) {
	const query = `SELECT claims FROM members WHERE circle_id = $1 AND user_id = $2`
	var count int
	err := r.db.QueryRow(ctx, query, circleID, userID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%s/%s: %w", circleID, userID, ErrNotFound)
		}
		return 0, err
	}
	return count, nil
}
