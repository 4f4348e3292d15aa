package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tempora-exchange/tempora/internal/ledger"
	"github.com/tempora-exchange/tempora/internal/pricing"
)

// ErrInsufficientLots occurs when a member's lots cannot cover a spend.
var ErrInsufficientLots = errors.New("available lots do not cover amount")

// Service manages credit lots and settles spends against the ledger.
type Service struct {
	repo   Repository
	engine *ledger.Engine
}

// NewService builds a credits service.
func NewService(repo Repository, engine *ledger.Engine) *Service {
	return &Service{repo: repo, engine: engine}
}

// GrantInput captures data required to grant a lot.
type GrantInput struct {
	CircleID  string
	UserID    string
	Tier      pricing.Tier
	Amount    int64
	ExpiresAt *time.Time
	Source    string
	// ReferenceID deduplicates the ledger posting. Empty means a fresh id.
	ReferenceID string
}

// Grant credits a member with a new lot and posts the matching allowance.
// Purchased lots come through CreatePurchased instead, with the deposit
// posted by the payment gateway flow.
func (s *Service) Grant(ctx context.Context, input GrantInput) (Lot, error) {
	if !input.Tier.Valid() {
		return Lot{}, fmt.Errorf("%w: %q", pricing.ErrInvalidTier, input.Tier)
	}
	if input.Amount <= 0 {
		return Lot{}, pricing.ErrInvalidAmount
	}
	refID := input.ReferenceID
	if refID == "" {
		refID = uuid.New().String()
	}
	if _, err := s.engine.AllowanceGrant(ctx, input.CircleID, input.UserID, input.Amount, refID, ledger.AllowanceMeta{Period: "grant"}); err != nil {
		return Lot{}, err
	}
	return s.createLot(ctx, input, SourceGrant)
}

// CreatePurchased records a lot whose credits were already deposited.
func (s *Service) CreatePurchased(ctx context.Context, input GrantInput) (Lot, error) {
	if !input.Tier.Valid() {
		return Lot{}, fmt.Errorf("%w: %q", pricing.ErrInvalidTier, input.Tier)
	}
	if input.Amount <= 0 {
		return Lot{}, pricing.ErrInvalidAmount
	}
	return s.createLot(ctx, input, SourcePurchase)
}

func (s *Service) createLot(ctx context.Context, input GrantInput, source string) (Lot, error) {
	lot := Lot{
		ID:        uuid.New().String(),
		CircleID:  input.CircleID,
		UserID:    input.UserID,
		Tier:      input.Tier,
		Amount:    input.Amount,
		Remaining: input.Amount,
		ExpiresAt: input.ExpiresAt,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, lot); err != nil {
		return Lot{}, err
	}
	return lot, nil
}

// Available lists a member's spendable lots.
func (s *Service) Available(ctx context.Context, circleID, userID string) ([]Lot, error) {
	return s.repo.Available(ctx, circleID, userID)
}

// Quote prices a spend against the member's lots without committing anything.
func (s *Service) Quote(ctx context.Context, circleID, userID string, amount int64, surcharges pricing.Surcharges) (pricing.Quote, error) {
	lots, err := s.repo.Available(ctx, circleID, userID)
	if err != nil {
		return pricing.Quote{}, err
	}
	return pricing.PriceSpend(pricingView(lots), amount, surcharges)
}

// Receipt is the committed outcome of a spend.
type Receipt struct {
	Quote       pricing.Quote `json:"quote"`
	Balance     int64         `json:"balance"`
	ReferenceID string        `json:"reference_id"`
}

// SpendInput captures data required to commit a spend.
type SpendInput struct {
	CircleID    string
	UserID      string
	Amount      int64
	Reason      string
	Surcharges  pricing.Surcharges
	ReferenceID string
}

// Spend prices the amount against the member's lots, consumes the lot
// deltas, then posts the spend and its fee to the ledger. Consuming first
// closes the race with a concurrent spend draining the same lots between
// quote and commit: a drained lot fails before anything is posted. A
// posting failure restores the consumed credits, so neither side moves
// without the other.
func (s *Service) Spend(ctx context.Context, input SpendInput) (Receipt, error) {
	quote, err := s.Quote(ctx, input.CircleID, input.UserID, input.Amount, input.Surcharges)
	if err != nil {
		return Receipt{}, err
	}
	if quote.Leftover > 0 {
		return Receipt{}, fmt.Errorf("%w: short %d of %d", ErrInsufficientLots, quote.Leftover, input.Amount)
	}

	deltas := make([]Consumption, 0, len(quote.Breakdown))
	for _, pick := range quote.Breakdown {
		deltas = append(deltas, Consumption{LotID: pick.LotID, Use: pick.Use})
	}
	if err := s.repo.Consume(ctx, deltas); err != nil {
		return Receipt{}, err
	}

	refID := input.ReferenceID
	if refID == "" {
		refID = uuid.New().String()
	}
	balance, err := s.engine.SpendWithFee(ctx, input.CircleID, input.UserID, input.Amount, quote.TotalFee, refID,
		ledger.SpendMeta{Reason: input.Reason}, ledger.FeeMeta{Note: input.Reason})
	if err != nil {
		if rerr := s.repo.Restore(ctx, deltas); rerr != nil {
			return Receipt{}, fmt.Errorf("%w (restoring lots: %v)", err, rerr)
		}
		return Receipt{}, err
	}
	return Receipt{Quote: quote, Balance: balance, ReferenceID: refID}, nil
}

func pricingView(lots []Lot) []pricing.Lot {
	out := make([]pricing.Lot, 0, len(lots))
	for _, lot := range lots {
		out = append(out, lot.PricingView())
	}
	return out
}
