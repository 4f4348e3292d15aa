package ledger

import (
	"context"
	"time"
)

// Engine executes the named ledger operations. Every operation runs inside
// one transaction against the store: the matched entry pair and the
// aggregate updates commit together or not at all.
type Engine struct {
	store Store
}

// NewEngine builds an engine over the given transactional store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Deposit adds externally acquired credits to a member, creating the
// membership on first use. The debit side of the pair addresses the
// external world.
func (e *Engine) Deposit(ctx context.Context, circleID, userID string, amount int64, referenceID string, meta DepositMeta) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		if _, err := tx.EnsureMembership(circleID, userID); err != nil {
			return err
		}
		b, err := tx.AdjustMembership(circleID, userID, amount)
		if err != nil {
			return err
		}
		balance = b
		return tx.AppendEntries(pair(circleID, nil, ptr(userID), amount, referenceID, meta, time.Now().UTC())...)
	})
	return balance, err
}

// EscrowLock reserves a member's credits pending an outcome. The locked
// amount is recorded as an explicit hold keyed by the reference id; a
// second lock under the same reference is rejected.
func (e *Engine) EscrowLock(ctx context.Context, circleID, userID string, amount int64, referenceID string, meta EscrowLockMeta) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		if err := debitMember(tx, circleID, userID, amount); err != nil {
			return err
		}
		m, err := tx.Membership(circleID, userID)
		if err != nil {
			return err
		}
		balance = m.Balance
		if err := tx.PutHold(EscrowHold{
			CircleID:    circleID,
			ReferenceID: referenceID,
			UserID:      userID,
			Amount:      amount,
			LockedAt:    time.Now().UTC(),
		}); err != nil {
			return err
		}
		return tx.AppendEntries(pair(circleID, ptr(userID), nil, amount, referenceID, meta, time.Now().UTC())...)
	})
	return balance, err
}

// EscrowRelease resolves a previously locked amount to the counterparty.
// Releasing back to the payer settles a refund. The hold must exist, belong
// to fromUserID and still carry at least the released amount.
func (e *Engine) EscrowRelease(ctx context.Context, circleID, fromUserID, toUserID string, amount int64, referenceID string, meta EscrowReleaseMeta) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		hold, err := tx.Hold(circleID, referenceID)
		if err != nil {
			return err
		}
		if hold.UserID != fromUserID {
			return ErrNotFound
		}
		if hold.Amount < amount {
			return ErrHoldExceeded
		}
		if err := tx.ReduceHold(circleID, referenceID, amount); err != nil {
			return err
		}
		if _, err := tx.EnsureMembership(circleID, toUserID); err != nil {
			return err
		}
		b, err := tx.AdjustMembership(circleID, toUserID, amount)
		if err != nil {
			return err
		}
		balance = b
		return tx.AppendEntries(pair(circleID, nil, ptr(toUserID), amount, referenceID, meta, time.Now().UTC())...)
	})
	return balance, err
}

// ApplyFee captures a fee from a member into the circle treasury.
func (e *Engine) ApplyFee(ctx context.Context, circleID, userID string, amount int64, referenceID string, meta FeeMeta) (int64, error) {
	return e.memberToTreasury(ctx, circleID, userID, amount, referenceID, meta)
}

// Spend debits a member with no designated recipient, e.g. demurrage decay.
// The credits land in the treasury.
func (e *Engine) Spend(ctx context.Context, circleID, userID string, amount int64, referenceID string, meta SpendMeta) (int64, error) {
	return e.memberToTreasury(ctx, circleID, userID, amount, referenceID, meta)
}

// SpendWithFee posts a spend and its tier fee in one transaction, so a
// member with enough balance for the spend but not the fee commits neither.
// The fee pair carries the reference id with a ":fee" suffix.
func (e *Engine) SpendWithFee(ctx context.Context, circleID, userID string, amount, fee int64, referenceID string, spendMeta SpendMeta, feeMeta FeeMeta) (int64, error) {
	if amount <= 0 || fee < 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		if err := debitMember(tx, circleID, userID, amount+fee); err != nil {
			return err
		}
		m, err := tx.Membership(circleID, userID)
		if err != nil {
			return err
		}
		balance = m.Balance
		if _, err := tx.AdjustTreasury(circleID, amount+fee); err != nil {
			return err
		}
		now := time.Now().UTC()
		entries := pair(circleID, ptr(userID), nil, amount, referenceID, spendMeta, now)
		if fee > 0 {
			entries = append(entries, pair(circleID, ptr(userID), nil, fee, referenceID+":fee", feeMeta, now)...)
		}
		return tx.AppendEntries(entries...)
	})
	return balance, err
}

func (e *Engine) memberToTreasury(ctx context.Context, circleID, userID string, amount int64, referenceID string, meta Meta) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		if err := debitMember(tx, circleID, userID, amount); err != nil {
			return err
		}
		m, err := tx.Membership(circleID, userID)
		if err != nil {
			return err
		}
		balance = m.Balance
		if _, err := tx.AdjustTreasury(circleID, amount); err != nil {
			return err
		}
		return tx.AppendEntries(pair(circleID, ptr(userID), nil, amount, referenceID, meta, time.Now().UTC())...)
	})
	return balance, err
}

// InsurancePremium moves a member's credits into the insurance pool.
func (e *Engine) InsurancePremium(ctx context.Context, circleID, userID string, amount int64, referenceID string, meta InsurancePremiumMeta) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		if err := debitMember(tx, circleID, userID, amount); err != nil {
			return err
		}
		m, err := tx.Membership(circleID, userID)
		if err != nil {
			return err
		}
		balance = m.Balance
		if _, err := tx.AdjustPool(circleID, amount); err != nil {
			return err
		}
		return tx.AppendEntries(pair(circleID, ptr(userID), nil, amount, referenceID, meta, time.Now().UTC())...)
	})
	return balance, err
}

// InsurancePayout pays a member from the insurance pool. The pool must
// cover the amount.
func (e *Engine) InsurancePayout(ctx context.Context, circleID, userID string, amount int64, referenceID string, meta InsurancePayoutMeta) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		pool, err := tx.Pool(circleID)
		if err != nil {
			return err
		}
		if pool.Balance < amount {
			return insufficient("insurance pool", amount, pool.Balance)
		}
		if _, err := tx.AdjustPool(circleID, -amount); err != nil {
			return err
		}
		if _, err := tx.EnsureMembership(circleID, userID); err != nil {
			return err
		}
		b, err := tx.AdjustMembership(circleID, userID, amount)
		if err != nil {
			return err
		}
		balance = b
		return tx.AppendEntries(pair(circleID, nil, ptr(userID), amount, referenceID, meta, time.Now().UTC())...)
	})
	return balance, err
}

// TreasuryFund adds external credits to the circle treasury.
func (e *Engine) TreasuryFund(ctx context.Context, circleID string, amount int64, referenceID string, meta TreasuryFundMeta) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		b, err := tx.AdjustTreasury(circleID, amount)
		if err != nil {
			return err
		}
		balance = b
		return tx.AppendEntries(pair(circleID, nil, nil, amount, referenceID, meta, time.Now().UTC())...)
	})
	return balance, err
}

// AllowanceGrant pays a member a scheduled allowance from the treasury.
// Unlike loan disbursement, allowances only spend what the treasury has
// available beyond its earmarks.
func (e *Engine) AllowanceGrant(ctx context.Context, circleID, userID string, amount int64, referenceID string, meta AllowanceMeta) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		treasury, err := tx.Treasury(circleID)
		if err != nil {
			return err
		}
		if treasury.Available() < amount {
			return insufficient("treasury", amount, treasury.Available())
		}
		if _, err := tx.AdjustTreasury(circleID, -amount); err != nil {
			return err
		}
		if _, err := tx.EnsureMembership(circleID, userID); err != nil {
			return err
		}
		b, err := tx.AdjustMembership(circleID, userID, amount)
		if err != nil {
			return err
		}
		balance = b
		return tx.AppendEntries(pair(circleID, nil, ptr(userID), amount, referenceID, meta, time.Now().UTC())...)
	})
	return balance, err
}

// Reserve earmarks treasury credits for a pending match. No value moves and
// no entries are written.
func (e *Engine) Reserve(ctx context.Context, circleID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return e.store.RunInTransaction(ctx, func(tx Tx) error {
		treasury, err := tx.Treasury(circleID)
		if err != nil {
			return err
		}
		if treasury.Available() < amount {
			return insufficient("treasury", amount, treasury.Available())
		}
		return tx.ReserveTreasury(circleID, amount)
	})
}

// ReleaseReserve returns an earmark to the available treasury balance.
func (e *Engine) ReleaseReserve(ctx context.Context, circleID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return e.store.RunInTransaction(ctx, func(tx Tx) error {
		treasury, err := tx.Treasury(circleID)
		if err != nil {
			return err
		}
		if treasury.Reserved < amount {
			return insufficient("treasury reserve", amount, treasury.Reserved)
		}
		return tx.ReserveTreasury(circleID, -amount)
	})
}

// MemberBalance reads a member's aggregate balance.
func (e *Engine) MemberBalance(ctx context.Context, circleID, userID string) (int64, error) {
	var balance int64
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		m, err := tx.Membership(circleID, userID)
		if err != nil {
			return err
		}
		balance = m.Balance
		return nil
	})
	return balance, err
}

// CircleTreasury reads the circle's treasury aggregate.
func (e *Engine) CircleTreasury(ctx context.Context, circleID string) (Treasury, error) {
	var treasury Treasury
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		t, err := tx.Treasury(circleID)
		if err != nil {
			return err
		}
		treasury = t
		return nil
	})
	return treasury, err
}

// CirclePool reads the circle's insurance pool aggregate.
func (e *Engine) CirclePool(ctx context.Context, circleID string) (InsurancePool, error) {
	var pool InsurancePool
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		p, err := tx.Pool(circleID)
		if err != nil {
			return err
		}
		pool = p
		return nil
	})
	return pool, err
}

// PostLoanIssue disburses loan principal treasury-to-member inside the
// caller's transaction, so the loan row and its postings commit together.
// The treasury may go negative; disbursement is a treasury obligation, not
// an overdraft.
func PostLoanIssue(tx Tx, loan Loan, referenceID string) (int64, error) {
	if loan.Principal <= 0 {
		return 0, ErrInvalidAmount
	}
	if _, err := tx.AdjustTreasury(loan.CircleID, -loan.Principal); err != nil {
		return 0, err
	}
	if _, err := tx.EnsureMembership(loan.CircleID, loan.UserID); err != nil {
		return 0, err
	}
	balance, err := tx.AdjustMembership(loan.CircleID, loan.UserID, loan.Principal)
	if err != nil {
		return 0, err
	}
	meta := LoanIssueMeta{LoanID: loan.ID}
	if err := tx.AppendEntries(pair(loan.CircleID, nil, ptr(loan.UserID), loan.Principal, referenceID, meta, time.Now().UTC())...); err != nil {
		return 0, err
	}
	return balance, nil
}

// PostLoanRepay moves one repayment member-to-treasury inside the caller's
// transaction. The borrower must cover the amount.
func PostLoanRepay(tx Tx, loan Loan, amount int64, referenceID string, installment int, automatic bool) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if err := debitMember(tx, loan.CircleID, loan.UserID, amount); err != nil {
		return 0, err
	}
	m, err := tx.Membership(loan.CircleID, loan.UserID)
	if err != nil {
		return 0, err
	}
	if _, err := tx.AdjustTreasury(loan.CircleID, amount); err != nil {
		return 0, err
	}
	meta := LoanRepayMeta{LoanID: loan.ID, Installment: installment, Automatic: automatic}
	if err := tx.AppendEntries(pair(loan.CircleID, ptr(loan.UserID), nil, amount, referenceID, meta, time.Now().UTC())...); err != nil {
		return 0, err
	}
	return m.Balance, nil
}

// debitMember verifies the member exists and can cover amount, then debits.
func debitMember(tx Tx, circleID, userID string, amount int64) error {
	m, err := tx.Membership(circleID, userID)
	if err != nil {
		return err
	}
	if m.Balance < amount {
		return insufficient("member "+userID, amount, m.Balance)
	}
	_, err = tx.AdjustMembership(circleID, userID, -amount)
	return err
}
