package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestDemurrageSweepDecaysExcessOnly(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	SeedMembership(store, circle, "rich", 150)
	SeedMembership(store, circle, "modest", 100)
	SeedMembership(store, circle, "poor", 20)

	report, err := engine.DemurrageSweep(ctx, circle, 100, 0.05)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Processed != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	// 5% of the 50 excess, rounded half-up.
	balance, _ := engine.MemberBalance(ctx, circle, "rich")
	if balance != 147 {
		t.Fatalf("expected rich at 147, got %d", balance)
	}
	balance, _ = engine.MemberBalance(ctx, circle, "modest")
	if balance != 100 {
		t.Fatalf("balance at threshold must not decay, got %d", balance)
	}
	treasury, _ := engine.CircleTreasury(ctx, circle)
	if treasury.Balance != 3 {
		t.Fatalf("expected treasury to capture 3, got %d", treasury.Balance)
	}
}

func TestDemurrageSweepMinimumCharge(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	SeedMembership(store, circle, "barely", 101)

	report, err := engine.DemurrageSweep(ctx, circle, 100, 0.02)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Processed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	balance, _ := engine.MemberBalance(ctx, circle, "barely")
	if balance != 100 {
		t.Fatalf("expected minimum 1-credit decay, got balance %d", balance)
	}
}

func TestAllowanceSweepCollectsPerMemberFailures(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	SeedMembership(store, circle, "a", 0)
	SeedMembership(store, circle, "b", 0)
	SeedMembership(store, circle, "c", 0)
	// Only enough treasury for two grants.
	SeedTreasury(store, circle, 20)

	report, err := engine.AllowanceSweep(ctx, circle, 10, "2026-08")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Processed != 2 || report.Failed != 1 {
		t.Fatalf("expected 2 processed / 1 failed, got %+v", report)
	}
	var failed *SweepOutcome
	for i := range report.Outcomes {
		if report.Outcomes[i].Err != nil {
			failed = &report.Outcomes[i]
		}
	}
	if failed == nil || !errors.Is(failed.Err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient treasury failure, got %+v", failed)
	}

	// The failure did not abort the earlier grants.
	treasury, _ := engine.CircleTreasury(ctx, circle)
	if treasury.Balance != 0 {
		t.Fatalf("expected drained treasury, got %d", treasury.Balance)
	}
}
