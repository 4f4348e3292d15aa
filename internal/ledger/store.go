package ledger

import (
	"context"
	"time"
)

// Reader exposes the ledger's records within a transaction. Implementations
// backed by a database lock rows read through a Tx so concurrent operations
// against the same records serialize.
type Reader interface {
	Membership(circleID, userID string) (Membership, error)
	Memberships(circleID string) ([]Membership, error)
	Treasury(circleID string) (Treasury, error)
	Pool(circleID string) (InsurancePool, error)
	Hold(circleID, referenceID string) (EscrowHold, error)
	Holds(circleID string) ([]EscrowHold, error)
	Loan(id string) (Loan, error)
	ActiveLoan(circleID, userID string) (Loan, error)
	DueLoans(asOf time.Time) ([]Loan, error)
	Entries(circleID string) ([]Entry, error)
}

// Tx is the explicit transaction handle threaded through every operation.
// All sub-operations of one business action share one handle; everything
// applied through it commits or rolls back together.
//
// Adjust methods return the new balance. Adjusting or reading a missing
// membership fails with ErrNotFound; treasuries and pools are per-circle
// singletons that read as zero and are created on first adjustment.
type Tx interface {
	Reader

	EnsureMembership(circleID, userID string) (Membership, error)
	AdjustMembership(circleID, userID string, delta int64) (int64, error)
	AdjustTreasury(circleID string, delta int64) (int64, error)
	ReserveTreasury(circleID string, delta int64) error
	AdjustPool(circleID string, delta int64) (int64, error)
	PutHold(h EscrowHold) error
	ReduceHold(circleID, referenceID string, amount int64) error
	CreateLoan(l Loan) error
	UpdateLoan(l Loan) error
	AppendEntries(entries ...Entry) error
}

// Store is the persistence collaborator: a transactional handle guaranteeing
// all-or-nothing application of everything done through the Tx it passes to
// fn.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error
}
