package credits

import (
	"context"
	"errors"
)

// Repository errors.
var (
	ErrNotFound     = errors.New("credit lot not found")
	ErrLotExhausted = errors.New("credit lot exhausted")
)

// Consumption is one decrement to apply against a stored lot.
type Consumption struct {
	LotID string
	Use   int64
}

// Repository persists credit lots.
type Repository interface {
	Create(ctx context.Context, lot Lot) error
	Get(ctx context.Context, id string) (Lot, error)
	// Available lists a member's lots with remaining credits, including
	// expired ones; callers filter by expiry when selecting.
	Available(ctx context.Context, circleID, userID string) ([]Lot, error)
	// Consume applies all decrements or none. A decrement that would push a
	// lot's remaining below zero fails with ErrLotExhausted.
	Consume(ctx context.Context, deltas []Consumption) error
	// Restore re-adds previously consumed credits, compensating a spend
	// whose posting failed after its lots were decremented.
	Restore(ctx context.Context, deltas []Consumption) error
}
