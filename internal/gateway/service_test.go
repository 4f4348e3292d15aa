package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/tempora-exchange/tempora/internal/credits"
	"github.com/tempora-exchange/tempora/internal/ledger"
	"github.com/tempora-exchange/tempora/internal/pricing"
)

type decliningProcessor struct{}

func (decliningProcessor) AuthorizePurchase(context.Context, PurchaseAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: "ref-1", Status: StatusDeclined}, nil
}

func TestPurchaseDepositsAndCreatesLot(t *testing.T) {
	ctx := context.Background()
	engine := ledger.NewEngine(ledger.NewMemoryStore())
	lots := credits.NewService(credits.NewMemoryRepository(), engine)

	service, err := NewService(engine, lots, StaticProcessor{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	res, err := service.Purchase(ctx, PurchaseInput{
		CircleID:   "circle-1",
		UserID:     "alice",
		Tier:       pricing.TierPriority,
		Amount:     50,
		ClientTxID: "tx-1",
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if res.Status != StatusApproved {
		t.Fatalf("unexpected status: %s", res.Status)
	}
	if res.Balance != 50 {
		t.Fatalf("expected balance 50, got %d", res.Balance)
	}
	if res.ProcessorRef == "" {
		t.Fatal("expected a processor reference")
	}

	available, err := lots.Available(ctx, "circle-1", "alice")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(available) != 1 {
		t.Fatalf("expected 1 lot, got %d", len(available))
	}
	lot := available[0]
	if lot.Tier != pricing.TierPriority || lot.Remaining != 50 || lot.Source != credits.SourcePurchase {
		t.Fatalf("unexpected lot: %+v", lot)
	}
}

func TestPurchaseDeclined(t *testing.T) {
	ctx := context.Background()
	engine := ledger.NewEngine(ledger.NewMemoryStore())
	lots := credits.NewService(credits.NewMemoryRepository(), engine)

	service, err := NewService(engine, lots, decliningProcessor{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := service.Purchase(ctx, PurchaseInput{
		CircleID: "circle-1",
		UserID:   "alice",
		Tier:     pricing.TierBasic,
		Amount:   50,
	}); !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}

	if balance, err := engine.MemberBalance(ctx, "circle-1", "alice"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected no membership after decline, got balance %d err %v", balance, err)
	}

	available, err := lots.Available(ctx, "circle-1", "alice")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(available) != 0 {
		t.Fatalf("expected no lots after decline, got %d", len(available))
	}
}

func TestPurchaseValidation(t *testing.T) {
	engine := ledger.NewEngine(ledger.NewMemoryStore())
	lots := credits.NewService(credits.NewMemoryRepository(), engine)
	service, err := NewService(engine, lots, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := service.Purchase(context.Background(), PurchaseInput{
		CircleID: "circle-1", UserID: "alice", Tier: "PLATINUM", Amount: 10,
	}); !errors.Is(err, pricing.ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier, got %v", err)
	}
	if _, err := service.Purchase(context.Background(), PurchaseInput{
		CircleID: "circle-1", UserID: "alice", Tier: pricing.TierBasic, Amount: 0,
	}); !errors.Is(err, pricing.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
