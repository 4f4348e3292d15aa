package ledger

import (
	"context"
	"fmt"
)

// account names the aggregate a ledger entry side addresses.
type account string

const (
	accountExternal account = "external"
	accountTreasury account = "treasury"
	accountPool     account = "pool"
	accountEscrow   account = "escrow"
)

// counterAccount resolves which circle-level aggregate the nil-user side of
// an entry belongs to. The mapping is fixed per operation kind.
func counterAccount(kind OperationKind, typ EntryType) (account, error) {
	switch kind {
	case OpDeposit:
		return accountExternal, nil
	case OpEscrowLock:
		return accountEscrow, nil
	case OpEscrowRelease:
		return accountEscrow, nil
	case OpFee, OpSpend, OpLoanRepay:
		return accountTreasury, nil
	case OpInsurancePremium, OpInsurancePayout:
		return accountPool, nil
	case OpLoanIssue, OpAllowance:
		return accountTreasury, nil
	case OpTreasuryFund:
		// Both sides are circle-level: the credit lands in the treasury,
		// the debit is the external world.
		if typ == EntryCredit {
			return accountTreasury, nil
		}
		return accountExternal, nil
	}
	return "", fmt.Errorf("unknown operation kind %q", kind)
}

// MemberReconciliation compares one member's aggregate against the replayed
// entries addressed to them.
type MemberReconciliation struct {
	UserID     string `json:"user_id"`
	Balance    int64  `json:"balance"`
	EntryNet   int64  `json:"entry_net"`
	Reconciled bool   `json:"reconciled"`
}

// ReconcileReport is the outcome of replaying a circle's entries against
// its aggregates.
type ReconcileReport struct {
	CircleID        string                 `json:"circle_id"`
	EntryCount      int                    `json:"entry_count"`
	EntrySum        int64                  `json:"entry_sum"`
	Members         []MemberReconciliation `json:"members,omitempty"`
	TreasuryBalance int64                  `json:"treasury_balance"`
	TreasuryNet     int64                  `json:"treasury_net"`
	PoolBalance     int64                  `json:"pool_balance"`
	PoolNet         int64                  `json:"pool_net"`
	EscrowNet       int64                  `json:"escrow_net"`
	HoldSum         int64                  `json:"hold_sum"`
	Balanced        bool                   `json:"balanced"`
}

// Reconcile replays every entry in the circle and checks that the signed
// sum is zero, that each aggregate equals the net of entries addressed to
// it, and that outstanding escrow holds sum to the escrowed net. Runs in
// one transaction so the snapshot is consistent.
func (e *Engine) Reconcile(ctx context.Context, circleID string) (ReconcileReport, error) {
	report := ReconcileReport{CircleID: circleID, Balanced: true}
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		entries, err := tx.Entries(circleID)
		if err != nil {
			return err
		}

		memberNet := make(map[string]int64)
		report.EntryCount = len(entries)
		for _, entry := range entries {
			report.EntrySum += entry.Signed()

			var user *string
			if entry.Type == EntryCredit {
				user = entry.ToUserID
			} else {
				user = entry.FromUserID
			}
			if user != nil {
				memberNet[*user] += entry.Signed()
				continue
			}
			acct, err := counterAccount(entry.Meta.Kind(), entry.Type)
			if err != nil {
				return err
			}
			switch acct {
			case accountTreasury:
				report.TreasuryNet += entry.Signed()
			case accountPool:
				report.PoolNet += entry.Signed()
			case accountEscrow:
				report.EscrowNet += entry.Signed()
			case accountExternal:
				// The world outside the circle; nothing to reconcile.
			}
		}
		if report.EntrySum != 0 {
			report.Balanced = false
		}

		members, err := tx.Memberships(circleID)
		if err != nil {
			return err
		}
		for _, m := range members {
			rec := MemberReconciliation{
				UserID:     m.UserID,
				Balance:    m.Balance,
				EntryNet:   memberNet[m.UserID],
				Reconciled: m.Balance == memberNet[m.UserID],
			}
			if !rec.Reconciled {
				report.Balanced = false
			}
			report.Members = append(report.Members, rec)
		}

		if treasury, err := tx.Treasury(circleID); err == nil {
			report.TreasuryBalance = treasury.Balance
			if treasury.Balance != report.TreasuryNet {
				report.Balanced = false
			}
		}
		if pool, err := tx.Pool(circleID); err == nil {
			report.PoolBalance = pool.Balance
			if pool.Balance != report.PoolNet {
				report.Balanced = false
			}
		}

		// Outstanding holds must account for exactly the escrowed entries.
		holds, err := tx.Holds(circleID)
		if err != nil {
			return err
		}
		for _, h := range holds {
			report.HoldSum += h.Amount
		}
		if report.HoldSum != report.EscrowNet {
			report.Balanced = false
		}
		return nil
	})
	return report, err
}
