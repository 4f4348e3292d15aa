package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tempora-exchange/tempora/internal/pricing"
)

// PostgresRepository stores credit lots in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const lotColumns = `id, circle_id, user_id, tier, amount, remaining, expires_at, source, created_at`

// Create inserts a credit lot.
func (r *PostgresRepository) Create(ctx context.Context, lot Lot) error {
	const query = `INSERT INTO credit_lots (` + lotColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Exec(ctx, query,
		lot.ID, lot.CircleID, lot.UserID, string(lot.Tier),
		lot.Amount, lot.Remaining, lot.ExpiresAt, lot.Source, lot.CreatedAt)
	return err
}

// Get fetches a credit lot by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Lot, error) {
	const query = `SELECT ` + lotColumns + ` FROM credit_lots WHERE id = $1`
	lot, err := scanLot(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return Lot{}, err
	}
	return lot, nil
}

// Available lists a member's lots with remaining credits, oldest first.
func (r *PostgresRepository) Available(ctx context.Context, circleID, userID string) ([]Lot, error) {
	const query = `SELECT ` + lotColumns + ` FROM credit_lots
        WHERE circle_id = $1 AND user_id = $2 AND remaining > 0
        ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, circleID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lot)
	}
	return out, rows.Err()
}

// Consume applies all decrements in one transaction. The guarded UPDATE
// leaves no row touched when remaining would go negative, which surfaces as
// ErrLotExhausted and rolls the batch back.
func (r *PostgresRepository) Consume(ctx context.Context, deltas []Consumption) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const query = `UPDATE credit_lots SET remaining = remaining - $2
        WHERE id = $1 AND remaining >= $2`
	for _, d := range deltas {
		tag, err := tx.Exec(ctx, query, d.LotID, d.Use)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			if _, err := r.Get(ctx, d.LotID); err != nil {
				return err
			}
			return fmt.Errorf("%s: %w", d.LotID, ErrLotExhausted)
		}
	}
	return tx.Commit(ctx)
}

// Restore adds previously consumed credits back, in one transaction.
func (r *PostgresRepository) Restore(ctx context.Context, deltas []Consumption) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const query = `UPDATE credit_lots SET remaining = remaining + $2 WHERE id = $1`
	for _, d := range deltas {
		tag, err := tx.Exec(ctx, query, d.LotID, d.Use)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%s: %w", d.LotID, ErrNotFound)
		}
	}
	return tx.Commit(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (Lot, error) {
	var lot Lot
	var tier string
	if err := row.Scan(&lot.ID, &lot.CircleID, &lot.UserID, &tier,
		&lot.Amount, &lot.Remaining, &lot.ExpiresAt, &lot.Source, &lot.CreatedAt); err != nil {
		return Lot{}, err
	}
	lot.Tier = pricing.Tier(tier)
	return lot, nil
}
