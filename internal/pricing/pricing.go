package pricing

import (
	"errors"
	"fmt"
	"math"
)

// Tier classifies a credit lot and determines its base fee rate and
// consumption priority.
type Tier string

const (
	TierBasic      Tier = "BASIC"
	TierPriority   Tier = "PRIORITY"
	TierGuaranteed Tier = "GUARANTEED"
)

var (
	// ErrInvalidAmount occurs when a fee or spend is requested for a
	// non-positive amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidTier occurs when an unknown tier is supplied.
	ErrInvalidTier = errors.New("unknown tier")
)

// maxSurchargeRate caps the summed surcharge component. The cap applies to
// the surcharge alone, before it is combined with the tier base rate.
const maxSurchargeRate = 0.18

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierBasic, TierPriority, TierGuaranteed:
		return true
	}
	return false
}

// BaseRate returns the base fee percentage for the tier.
func BaseRate(tier Tier) (float64, error) {
	switch tier {
	case TierBasic:
		return 0.08, nil
	case TierPriority:
		return 0.12, nil
	case TierGuaranteed:
		return 0.18, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
}

// Surcharges carries the context flags that add to the base fee rate.
type Surcharges struct {
	Peak        bool
	Urgent      bool
	Equipment   bool
	CrossCircle bool
}

// SurchargeRate sums the active surcharge flags and caps the result at 18%.
func SurchargeRate(s Surcharges) float64 {
	rate := 0.0
	if s.Peak {
		rate += 0.02
	}
	if s.Urgent {
		rate += 0.05
	}
	if s.Equipment {
		rate += 0.03
	}
	if s.CrossCircle {
		rate += 0.10
	}
	if rate > maxSurchargeRate {
		rate = maxSurchargeRate
	}
	return rate
}

// ComputeFee returns the fee for spending amount at the given tier under the
// surcharge context. The total rate is the tier base rate plus the capped
// surcharge rate; the fee is rounded half-up to the nearest whole credit
// (2.3 rounds to 2, 1.7 rounds to 2).
func ComputeFee(amount int64, tier Tier, s Surcharges) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	base, err := BaseRate(tier)
	if err != nil {
		return 0, err
	}
	return roundHalfUp(float64(amount) * (base + SurchargeRate(s))), nil
}

func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
