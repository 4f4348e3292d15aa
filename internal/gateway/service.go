package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tempora-exchange/tempora/internal/credits"
	"github.com/tempora-exchange/tempora/internal/ledger"
	"github.com/tempora-exchange/tempora/internal/pricing"
)

// Service coordinates credit purchases through an external payment
// processor: an approved purchase deposits the credits and records the lot
// they arrived in.
type Service struct {
	engine    *ledger.Engine
	lots      *credits.Service
	processor Processor
}

// NewService prepares a gateway service.
func NewService(engine *ledger.Engine, lots *credits.Service, processor Processor) (*Service, error) {
	if lots == nil {
		return nil, fmt.Errorf("credits service is required")
	}
	if processor == nil {
		processor = StaticProcessor{}
	}
	return &Service{engine: engine, lots: lots, processor: processor}, nil
}

// PurchaseInput captures the required data for a credit purchase.
type PurchaseInput struct {
	CircleID   string
	UserID     string
	Tier       pricing.Tier
	Amount     int64
	ExpiresAt  *time.Time
	ClientTxID string
}

// PurchaseResult represents the outcome of a credit purchase.
type PurchaseResult struct {
	LotID        string
	Status       string
	Balance      int64
	ProcessorRef string
	CompletedAt  time.Time
}

// Purchase authorizes the payment, deposits the credits, and creates the
// purchased lot. The client transaction id deduplicates the deposit.
func (s *Service) Purchase(ctx context.Context, input PurchaseInput) (PurchaseResult, error) {
	if !input.Tier.Valid() {
		return PurchaseResult{}, fmt.Errorf("%w: %q", pricing.ErrInvalidTier, input.Tier)
	}
	if input.Amount <= 0 {
		return PurchaseResult{}, pricing.ErrInvalidAmount
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	decision, err := s.processor.AuthorizePurchase(ctx, PurchaseAuthorization{
		CircleID: input.CircleID,
		UserID:   input.UserID,
		Amount:   input.Amount,
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	if decision.Status != StatusApproved {
		return PurchaseResult{}, fmt.Errorf("%w: %s", ErrDeclined, decision.Status)
	}

	balance, err := s.engine.Deposit(ctx, input.CircleID, input.UserID, input.Amount, input.ClientTxID, ledger.DepositMeta{
		Source:     "purchase",
		GatewayRef: decision.Reference,
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	lot, err := s.lots.CreatePurchased(ctx, credits.GrantInput{
		CircleID:  input.CircleID,
		UserID:    input.UserID,
		Tier:      input.Tier,
		Amount:    input.Amount,
		ExpiresAt: input.ExpiresAt,
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	return PurchaseResult{
		LotID:        lot.ID,
		Status:       decision.Status,
		Balance:      balance,
		ProcessorRef: decision.Reference,
		CompletedAt:  time.Now().UTC(),
	}, nil
}
