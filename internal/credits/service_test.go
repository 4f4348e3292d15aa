package credits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tempora-exchange/tempora/internal/ledger"
	"github.com/tempora-exchange/tempora/internal/pricing"
)

const circle = "circle-1"

func newTestService(t *testing.T) (*Service, ledger.Store) {
	t.Helper()
	store := ledger.NewMemoryStore()
	return NewService(NewMemoryRepository(), ledger.NewEngine(store)), store
}

func fund(t *testing.T, svc *Service, store ledger.Store, userID string, amount int64) {
	t.Helper()
	ledger.SeedTreasury(store, circle, amount)
	if _, err := svc.engine.AllowanceGrant(context.Background(), circle, userID, amount, "fund:"+userID, ledger.AllowanceMeta{}); err != nil {
		t.Fatalf("fund %s: %v", userID, err)
	}
}

func TestGrantCreatesLotAndBalance(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	ledger.SeedTreasury(store, circle, 100)

	lot, err := svc.Grant(ctx, GrantInput{CircleID: circle, UserID: "alice", Tier: pricing.TierBasic, Amount: 40})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if lot.Remaining != 40 || lot.Source != SourceGrant {
		t.Fatalf("lot = %+v", lot)
	}

	balance, err := svc.engine.MemberBalance(ctx, circle, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 40 {
		t.Fatalf("balance = %d, want 40", balance)
	}
}

func TestGrantRejectsUnknownTier(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Grant(context.Background(), GrantInput{CircleID: circle, UserID: "alice", Tier: "PLATINUM", Amount: 10}); !errors.Is(err, pricing.ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier, got %v", err)
	}
}

func TestSpendConsumesAcrossTiers(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	fund(t, svc, store, "alice", 100)

	guaranteed, err := svc.CreatePurchased(ctx, GrantInput{CircleID: circle, UserID: "alice", Tier: pricing.TierGuaranteed, Amount: 10})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	basic, err := svc.CreatePurchased(ctx, GrantInput{CircleID: circle, UserID: "alice", Tier: pricing.TierBasic, Amount: 50})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}

	receipt, err := svc.Spend(ctx, SpendInput{CircleID: circle, UserID: "alice", Amount: 30, Reason: "garden help"})
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	// 10 guaranteed at 18% -> 2, then 20 basic at 8% -> 2.
	if receipt.Quote.TotalFee != 4 {
		t.Fatalf("fee = %d, want 4", receipt.Quote.TotalFee)
	}
	if got := len(receipt.Quote.Breakdown); got != 2 {
		t.Fatalf("breakdown lines = %d, want 2", got)
	}
	if receipt.Balance != 100-30-4 {
		t.Fatalf("balance = %d, want 66", receipt.Balance)
	}

	g, err := svc.repo.Get(ctx, guaranteed.ID)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if g.Remaining != 0 {
		t.Fatalf("guaranteed remaining = %d, want 0", g.Remaining)
	}
	b, err := svc.repo.Get(ctx, basic.ID)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if b.Remaining != 30 {
		t.Fatalf("basic remaining = %d, want 30", b.Remaining)
	}
}

func TestSpendRejectsWhenLotsShort(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	fund(t, svc, store, "alice", 100)

	lot, err := svc.CreatePurchased(ctx, GrantInput{CircleID: circle, UserID: "alice", Tier: pricing.TierBasic, Amount: 10})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}

	if _, err := svc.Spend(ctx, SpendInput{CircleID: circle, UserID: "alice", Amount: 25}); !errors.Is(err, ErrInsufficientLots) {
		t.Fatalf("expected ErrInsufficientLots, got %v", err)
	}

	got, err := svc.repo.Get(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if got.Remaining != 10 {
		t.Fatalf("remaining = %d, want 10 after rejected spend", got.Remaining)
	}
	balance, err := svc.engine.MemberBalance(ctx, circle, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("balance = %d, want 100 after rejected spend", balance)
	}
}

func TestSpendRejectsWhenBalanceShortOfFee(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	fund(t, svc, store, "alice", 30)

	lot, err := svc.CreatePurchased(ctx, GrantInput{CircleID: circle, UserID: "alice", Tier: pricing.TierGuaranteed, Amount: 30})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}

	// 30 at 18% -> fee 5; 30 + 5 exceeds the 30 balance.
	_, err = svc.Spend(ctx, SpendInput{CircleID: circle, UserID: "alice", Amount: 30})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	got, err := svc.repo.Get(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if got.Remaining != 30 {
		t.Fatalf("remaining = %d, want 30 restored after failed posting", got.Remaining)
	}
	balance, err := svc.engine.MemberBalance(ctx, circle, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 30 {
		t.Fatalf("balance = %d, want 30 untouched", balance)
	}
}

// drainedRepository simulates a concurrent spend winning the lots between
// this spend's quote and its commit.
type drainedRepository struct {
	Repository
}

func (r drainedRepository) Consume(context.Context, []Consumption) error {
	return ErrLotExhausted
}

func TestSpendPostsNothingWhenLotsDrained(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(drainedRepository{NewMemoryRepository()}, ledger.NewEngine(store))
	ctx := context.Background()
	fund(t, svc, store, "alice", 100)

	if _, err := svc.CreatePurchased(ctx, GrantInput{CircleID: circle, UserID: "alice", Tier: pricing.TierBasic, Amount: 50}); err != nil {
		t.Fatalf("create lot: %v", err)
	}

	if _, err := svc.Spend(ctx, SpendInput{CircleID: circle, UserID: "alice", Amount: 20}); !errors.Is(err, ErrLotExhausted) {
		t.Fatalf("expected ErrLotExhausted, got %v", err)
	}
	balance, err := svc.engine.MemberBalance(ctx, circle, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("balance = %d, want 100 with no posting after drained lots", balance)
	}
}

func TestQuoteSkipsExpiredLots(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	fund(t, svc, store, "alice", 100)

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := svc.CreatePurchased(ctx, GrantInput{CircleID: circle, UserID: "alice", Tier: pricing.TierGuaranteed, Amount: 50, ExpiresAt: &past}); err != nil {
		t.Fatalf("create lot: %v", err)
	}
	if _, err := svc.CreatePurchased(ctx, GrantInput{CircleID: circle, UserID: "alice", Tier: pricing.TierBasic, Amount: 20}); err != nil {
		t.Fatalf("create lot: %v", err)
	}

	quote, err := svc.Quote(ctx, circle, "alice", 30, pricing.Surcharges{})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Leftover != 10 {
		t.Fatalf("leftover = %d, want 10 with expired lot skipped", quote.Leftover)
	}
}
