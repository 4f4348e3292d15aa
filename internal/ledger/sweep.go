package ledger

import (
	"context"
	"fmt"
	"math"
)

// SweepOutcome is the result of processing one entity during a batch sweep.
type SweepOutcome struct {
	CircleID string `json:"circle_id"`
	UserID   string `json:"user_id"`
	Amount   int64  `json:"amount"`
	Err      error  `json:"-"`
	Error    string `json:"error,omitempty"`
}

// SweepReport aggregates a batch sweep. Individual failures are collected
// here and never abort the rest of the batch.
type SweepReport struct {
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Outcomes  []SweepOutcome `json:"outcomes,omitempty"`
}

func (r *SweepReport) record(o SweepOutcome) {
	if o.Err != nil {
		o.Error = o.Err.Error()
		r.Failed++
	} else {
		r.Processed++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// DemurrageSweep decays every balance in the circle above threshold by rate
// applied to the excess, captured into the treasury. Each member runs in
// its own transaction; one member's failure does not block the others.
func (e *Engine) DemurrageSweep(ctx context.Context, circleID string, threshold int64, rate float64) (SweepReport, error) {
	if threshold < 0 || rate <= 0 || rate > 1 {
		return SweepReport{}, fmt.Errorf("%w: bad demurrage parameters", ErrInvalidAmount)
	}

	var members []Membership
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		var err error
		members, err = tx.Memberships(circleID)
		return err
	})
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	for _, m := range members {
		if m.Balance <= threshold {
			continue
		}
		decay := int64(math.Floor(float64(m.Balance-threshold)*rate + 0.5))
		if decay < 1 {
			decay = 1
		}
		refID := fmt.Sprintf("demurrage:%s:%s", circleID, m.UserID)
		_, err := e.Spend(ctx, circleID, m.UserID, decay, refID, SpendMeta{Reason: "demurrage"})
		report.record(SweepOutcome{CircleID: circleID, UserID: m.UserID, Amount: decay, Err: err})
	}
	return report, nil
}

// AllowanceSweep distributes a fixed allowance from the treasury to every
// member of the circle, each in its own transaction. Period labels the
// distribution in the entry meta.
func (e *Engine) AllowanceSweep(ctx context.Context, circleID string, amount int64, period string) (SweepReport, error) {
	if amount <= 0 {
		return SweepReport{}, ErrInvalidAmount
	}

	var members []Membership
	err := e.store.RunInTransaction(ctx, func(tx Tx) error {
		var err error
		members, err = tx.Memberships(circleID)
		return err
	})
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	for _, m := range members {
		refID := fmt.Sprintf("allowance:%s:%s:%s", period, circleID, m.UserID)
		_, err := e.AllowanceGrant(ctx, circleID, m.UserID, amount, refID, AllowanceMeta{Period: period})
		report.record(SweepOutcome{CircleID: circleID, UserID: m.UserID, Amount: amount, Err: err})
	}
	return report, nil
}
