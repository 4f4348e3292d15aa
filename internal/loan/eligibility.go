package loan

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Eligibility thresholds. Loans are a low-balance safety net, not general
// credit, hence the balance ceiling.
const (
	minAgeDays        = 30
	minCompletionRate = 0.80
	maxDisputeRate    = 0.05
	minVouches        = 2
	balanceCeiling    = 20
)

// Loan sizing: base amount plus behavioral bonuses, hard-capped.
const (
	baseMaxAmount        = 100
	completionBonus      = 50
	zeroDisputeBonus     = 25
	vouchBonus           = 25
	maxAmountCap         = 200
	completionBonusFloor = 0.95
	vouchBonusFloor      = 5
)

// Signals are the behavioral inputs to an eligibility assessment.
type Signals struct {
	JoinedAt          time.Time
	TotalBookings     int
	CompletedBookings int
	Claims            int
	Vouches           int
}

// SignalSource supplies behavioral signals for a member within a circle.
type SignalSource interface {
	Signals(ctx context.Context, circleID, userID string) (Signals, error)
}

// Assessment is the outcome of an eligibility check together with the
// computed signals and the maximum loan the member qualifies for.
type Assessment struct {
	Eligible       bool
	Reasons        []string
	AgeDays        int
	CompletionRate float64
	DisputeRate    float64
	Vouches        int
	Balance        int64
	MaxAmount      int64
}

// IneligibleError carries the itemized unmet criteria.
type IneligibleError struct {
	Reasons []string
}

func (e *IneligibleError) Error() string {
	return "not eligible for a loan: " + strings.Join(e.Reasons, "; ")
}

const reasonActiveLoan = "an active loan already exists in this circle"

func reasonBalanceCeiling(balance int64) string {
	return fmt.Sprintf("balance %d is not below the %d-credit ceiling", balance, balanceCeiling)
}

// assess evaluates the five thresholds plus the active-loan rule. New
// members with zero bookings pass the completion and dispute checks by
// default.
func assess(signals Signals, balance int64, hasActiveLoan bool, now time.Time) Assessment {
	a := Assessment{
		AgeDays:        int(now.Sub(signals.JoinedAt).Hours() / 24),
		CompletionRate: 1,
		DisputeRate:    0,
		Vouches:        signals.Vouches,
		Balance:        balance,
	}
	if signals.TotalBookings > 0 {
		a.CompletionRate = float64(signals.CompletedBookings) / float64(signals.TotalBookings)
		a.DisputeRate = float64(signals.Claims) / float64(signals.TotalBookings)
	}

	if a.AgeDays < minAgeDays {
		a.Reasons = append(a.Reasons, fmt.Sprintf("membership age %d days is below the %d-day minimum", a.AgeDays, minAgeDays))
	}
	if a.CompletionRate < minCompletionRate {
		a.Reasons = append(a.Reasons, fmt.Sprintf("completion rate %.0f%% is below the %.0f%% minimum", a.CompletionRate*100, minCompletionRate*100))
	}
	if a.DisputeRate > maxDisputeRate {
		a.Reasons = append(a.Reasons, fmt.Sprintf("dispute rate %.1f%% is above the %.1f%% maximum", a.DisputeRate*100, maxDisputeRate*100))
	}
	if a.Vouches < minVouches {
		a.Reasons = append(a.Reasons, fmt.Sprintf("%d peer vouches, %d required", a.Vouches, minVouches))
	}
	if a.Balance >= balanceCeiling {
		a.Reasons = append(a.Reasons, reasonBalanceCeiling(a.Balance))
	}
	if hasActiveLoan {
		a.Reasons = append(a.Reasons, reasonActiveLoan)
	}

	a.Eligible = len(a.Reasons) == 0
	a.MaxAmount = maxAmount(a)
	return a
}

func maxAmount(a Assessment) int64 {
	amount := int64(baseMaxAmount)
	if a.CompletionRate >= completionBonusFloor {
		amount += completionBonus
	}
	if a.DisputeRate == 0 {
		amount += zeroDisputeBonus
	}
	if a.Vouches >= vouchBonusFloor {
		amount += vouchBonus
	}
	if amount > maxAmountCap {
		amount = maxAmountCap
	}
	return amount
}
