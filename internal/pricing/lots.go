package pricing

import (
	"sort"
	"time"
)

// Lot is the pricing view of a credit lot: enough to select from and price
// against, without the ownership metadata the storage layer carries.
type Lot struct {
	ID        string
	Tier      Tier
	Amount    int64
	Remaining int64
	ExpiresAt *time.Time
}

// Pick records a consumption delta against one lot. Callers apply picks to
// stored lots when (and if) they commit the spend; SelectLots never mutates
// its inputs.
type Pick struct {
	Lot Lot
	Use int64
}

// Selection is the outcome of drawing amountNeeded from a set of lots.
type Selection struct {
	Picks    []Pick
	Leftover int64
}

// DefaultOrder consumes the most valuable tiers first.
var DefaultOrder = []Tier{TierGuaranteed, TierPriority, TierBasic}

// SelectOptions tunes lot selection.
type SelectOptions struct {
	// Order overrides the tier consumption sequence. Empty means DefaultOrder.
	Order []Tier
	// Now anchors expiry checks. Zero means the current time.
	Now time.Time
}

// SelectLots greedily draws amountNeeded from the available lots (remaining
// above zero, not expired). Tiers are consumed in priority order; within a
// tier, lots expiring earliest go first and lots without an expiry sort
// last. Leftover is the unmet amount when the lots are exhausted.
func SelectLots(lots []Lot, amountNeeded int64, opts SelectOptions) Selection {
	order := opts.Order
	if len(order) == 0 {
		order = DefaultOrder
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	sel := Selection{Leftover: amountNeeded}
	if amountNeeded <= 0 {
		sel.Leftover = 0
		return sel
	}

	for _, tier := range order {
		for _, lot := range availableByExpiry(lots, tier, now) {
			if sel.Leftover == 0 {
				return sel
			}
			use := lot.Remaining
			if use > sel.Leftover {
				use = sel.Leftover
			}
			sel.Picks = append(sel.Picks, Pick{Lot: lot, Use: use})
			sel.Leftover -= use
		}
	}
	return sel
}

// PricedPick is one line of a spend quote: the lot drawn from, the amount
// used, and the fee computed at that lot's tier rate.
type PricedPick struct {
	LotID string `json:"lot_id"`
	Tier  Tier   `json:"tier"`
	Use   int64  `json:"use"`
	Fee   int64  `json:"fee"`
}

// Quote combines lot selection with per-lot fee pricing.
type Quote struct {
	Breakdown []PricedPick `json:"breakdown,omitempty"`
	TotalFee  int64        `json:"total_fee"`
	Leftover  int64        `json:"leftover"`
}

// PriceSpend selects lots for amount and prices each pick at its own tier
// rate under the shared surcharge context. TotalFee sums the per-lot rounded
// fees; rounding once on the aggregate would give different totals, and the
// per-lot sum is the intended contract.
func PriceSpend(lots []Lot, amount int64, s Surcharges) (Quote, error) {
	if amount <= 0 {
		return Quote{}, ErrInvalidAmount
	}
	sel := SelectLots(lots, amount, SelectOptions{})
	quote := Quote{Leftover: sel.Leftover}
	for _, pick := range sel.Picks {
		fee, err := ComputeFee(pick.Use, pick.Lot.Tier, s)
		if err != nil {
			return Quote{}, err
		}
		quote.Breakdown = append(quote.Breakdown, PricedPick{
			LotID: pick.Lot.ID,
			Tier:  pick.Lot.Tier,
			Use:   pick.Use,
			Fee:   fee,
		})
		quote.TotalFee += fee
	}
	return quote, nil
}

func availableByExpiry(lots []Lot, tier Tier, now time.Time) []Lot {
	var out []Lot
	for _, lot := range lots {
		if lot.Tier != tier || lot.Remaining <= 0 {
			continue
		}
		if lot.ExpiresAt != nil && !lot.ExpiresAt.After(now) {
			continue
		}
		out = append(out, lot)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ExpiresAt, out[j].ExpiresAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return out
}
