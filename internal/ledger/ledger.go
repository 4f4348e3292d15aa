// Package ledger implements the double-entry credit ledger for a circle:
// membership balances, the circle treasury, the insurance pool, escrow
// holds and loan records, all mutated through atomic operations that write
// matched credit/debit entry pairs. Entries are the source of truth;
// aggregate balances are derived caches kept in step within the same
// transaction.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// EntryType marks which side of a posting an entry records.
type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
)

// Entry is the atomic unit of truth. Every operation writes one credit and
// one debit of equal amount within a circle, so the signed sum of a
// circle's entries is always zero. A nil user id addresses the circle-level
// side of the posting (treasury, pool, escrow or the external world); the
// meta kind says which.
type Entry struct {
	ID          string
	CircleID    string
	Type        EntryType
	Amount      int64
	FromUserID  *string
	ToUserID    *string
	ReferenceID string
	Meta        Meta
	CreatedAt   time.Time
}

// Signed returns the entry amount with credits positive and debits negative.
func (e Entry) Signed() int64 {
	if e.Type == EntryDebit {
		return -e.Amount
	}
	return e.Amount
}

// Membership is the aggregate credit balance of one member within one
// circle. It must always equal the net of entries addressed to the member.
type Membership struct {
	CircleID  string
	UserID    string
	Balance   int64
	CreatedAt time.Time
}

// Treasury is the circle-level pooled account. Reserved tracks credits
// earmarked for pending matches; earmarking moves no value and writes no
// entries.
type Treasury struct {
	CircleID string
	Balance  int64
	Reserved int64
}

// Available is the treasury balance not earmarked for pending matches.
func (t Treasury) Available() int64 {
	return t.Balance - t.Reserved
}

// InsurancePool is the circle-level account funded by premiums and drained
// by payouts.
type InsurancePool struct {
	CircleID string
	Balance  int64
}

// EscrowHold records credits locked against a pending outcome, keyed by the
// caller-supplied reference id. Locked funds are tracked explicitly here
// rather than inferred from entry history.
type EscrowHold struct {
	CircleID    string
	ReferenceID string
	UserID      string
	Amount      int64
	LockedAt    time.Time
}

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanActive    LoanStatus = "ACTIVE"
	LoanCompleted LoanStatus = "COMPLETED"
	LoanDefaulted LoanStatus = "DEFAULTED"
)

// BehaviorSnapshot freezes the borrower's eligibility signals at issuance
// time for audit, independent of later changes.
type BehaviorSnapshot struct {
	AgeDays        int
	CompletionRate float64
	DisputeRate    float64
	Vouches        int
}

// Loan is an amortized micro-loan. Remaining counts down the total owed
// (principal plus fee); the loan row is persisted with the same
// transactional store as the entries so repayments commit atomically with
// their postings.
type Loan struct {
	ID                string
	CircleID          string
	UserID            string
	Principal         int64
	Fee               int64
	Remaining         int64
	Installment       int64
	PaymentsRemaining int
	Status            LoanStatus
	NextPaymentDue    time.Time
	IssuedAt          time.Time
	Snapshot          BehaviorSnapshot
}

// pair builds the matched debit/credit entries for one posting.
func pair(circleID string, from, to *string, amount int64, referenceID string, meta Meta, now time.Time) []Entry {
	return []Entry{
		{
			ID:          uuid.NewString(),
			CircleID:    circleID,
			Type:        EntryDebit,
			Amount:      amount,
			FromUserID:  from,
			ReferenceID: referenceID,
			Meta:        meta,
			CreatedAt:   now,
		},
		{
			ID:          uuid.NewString(),
			CircleID:    circleID,
			Type:        EntryCredit,
			Amount:      amount,
			ToUserID:    to,
			ReferenceID: referenceID,
			Meta:        meta,
			CreatedAt:   now,
		},
	}
}

func ptr(s string) *string { return &s }
