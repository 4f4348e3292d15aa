package credits

import (
	"time"

	"github.com/tempora-exchange/tempora/internal/pricing"
)

// Lot sources.
const (
	SourceGrant    = "grant"
	SourcePurchase = "purchase"
)

// Lot is a tranche of credits acquired at one tier, consumed across spends
// until drained or expired.
type Lot struct {
	ID        string
	CircleID  string
	UserID    string
	Tier      pricing.Tier
	Amount    int64
	Remaining int64
	ExpiresAt *time.Time
	Source    string
	CreatedAt time.Time
}

// PricingView strips the lot down to what selection and pricing need.
func (l Lot) PricingView() pricing.Lot {
	return pricing.Lot{
		ID:        l.ID,
		Tier:      l.Tier,
		Amount:    l.Amount,
		Remaining: l.Remaining,
		ExpiresAt: l.ExpiresAt,
	}
}
