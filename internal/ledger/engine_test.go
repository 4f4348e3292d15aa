package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const circle = "circle-1"

func TestDepositCreatesMembership(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()

	balance, err := engine.Deposit(ctx, circle, "alice", 100, "ref-1", DepositMeta{Source: "purchased"})
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if balance != 100 {
		t.Fatalf("expected balance 100, got %d", balance)
	}
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	if _, err := engine.Deposit(context.Background(), circle, "alice", 0, "ref", DepositMeta{}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestSpendInsufficientBalanceLeavesNoTrace(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	SeedMembership(store, circle, "alice", 5)

	_, err := engine.Spend(ctx, circle, "alice", 10, "ref", SpendMeta{})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	var detail *InsufficientBalanceError
	if !errors.As(err, &detail) || detail.Required != 10 || detail.Available != 5 {
		t.Fatalf("expected required/available detail, got %+v", detail)
	}

	balance, err := engine.MemberBalance(ctx, circle, "alice")
	if err != nil {
		t.Fatalf("member balance: %v", err)
	}
	if balance != 5 {
		t.Fatalf("balance mutated by rejected spend: %d", balance)
	}
	treasury, err := engine.CircleTreasury(ctx, circle)
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}
	if treasury.Balance != 0 {
		t.Fatalf("treasury mutated by rejected spend: %d", treasury.Balance)
	}
}

func TestEscrowLockAndRelease(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	SeedMembership(store, circle, "alice", 100)

	balance, err := engine.EscrowLock(ctx, circle, "alice", 30, "booking-1", EscrowLockMeta{BookingID: "booking-1"})
	if err != nil {
		t.Fatalf("escrow lock: %v", err)
	}
	if balance != 70 {
		t.Fatalf("expected payer balance 70, got %d", balance)
	}

	// Same reference cannot be locked twice.
	if _, err := engine.EscrowLock(ctx, circle, "alice", 10, "booking-1", EscrowLockMeta{}); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected duplicate reference, got %v", err)
	}

	recipient, err := engine.EscrowRelease(ctx, circle, "alice", "bob", 30, "booking-1", EscrowReleaseMeta{BookingID: "booking-1"})
	if err != nil {
		t.Fatalf("escrow release: %v", err)
	}
	if recipient != 30 {
		t.Fatalf("expected recipient balance 30, got %d", recipient)
	}

	// Hold is fully drained.
	if _, err := engine.EscrowRelease(ctx, circle, "alice", "bob", 1, "booking-1", EscrowReleaseMeta{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected hold gone, got %v", err)
	}
}

func TestEscrowReleaseExceedingHold(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	SeedMembership(store, circle, "alice", 100)

	if _, err := engine.EscrowLock(ctx, circle, "alice", 20, "bk", EscrowLockMeta{}); err != nil {
		t.Fatalf("escrow lock: %v", err)
	}
	if _, err := engine.EscrowRelease(ctx, circle, "alice", "bob", 25, "bk", EscrowReleaseMeta{}); !errors.Is(err, ErrHoldExceeded) {
		t.Fatalf("expected hold exceeded, got %v", err)
	}
}

func TestInsurancePayoutRequiresPoolFunds(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	SeedPool(store, circle, 1)

	if _, err := engine.InsurancePayout(ctx, circle, "bob", 5, "claim-1", InsurancePayoutMeta{ClaimID: "claim-1"}); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient pool, got %v", err)
	}
}

func TestAllowanceRequiresAvailableTreasury(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	SeedTreasury(store, circle, 10)

	if err := engine.Reserve(ctx, circle, 8); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := engine.AllowanceGrant(ctx, circle, "alice", 5, "allow-1", AllowanceMeta{}); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected earmarked treasury to refuse, got %v", err)
	}
	if err := engine.ReleaseReserve(ctx, circle, 8); err != nil {
		t.Fatalf("release reserve: %v", err)
	}
	if _, err := engine.AllowanceGrant(ctx, circle, "alice", 5, "allow-1", AllowanceMeta{}); err != nil {
		t.Fatalf("allowance grant: %v", err)
	}
}

// Runs the full operation sequence and checks that the aggregates match the
// replayed entries exactly.
func TestEndToEndReconciliation(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()

	if _, err := engine.Deposit(ctx, circle, "a", 100, "dep-1", DepositMeta{Source: "purchased"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.EscrowLock(ctx, circle, "a", 30, "bk-1", EscrowLockMeta{BookingID: "bk-1"}); err != nil {
		t.Fatalf("escrow lock: %v", err)
	}
	if _, err := engine.EscrowRelease(ctx, circle, "a", "b", 30, "bk-1", EscrowReleaseMeta{BookingID: "bk-1"}); err != nil {
		t.Fatalf("escrow release: %v", err)
	}
	if _, err := engine.ApplyFee(ctx, circle, "b", 3, "bk-1", FeeMeta{BookingID: "bk-1"}); err != nil {
		t.Fatalf("apply fee: %v", err)
	}
	if _, err := engine.InsurancePremium(ctx, circle, "b", 2, "prem-1", InsurancePremiumMeta{}); err != nil {
		t.Fatalf("premium: %v", err)
	}
	if _, err := engine.InsurancePayout(ctx, circle, "b", 1, "claim-1", InsurancePayoutMeta{ClaimID: "claim-1"}); err != nil {
		t.Fatalf("payout: %v", err)
	}

	loan := Loan{
		ID:        "loan-1",
		CircleID:  circle,
		UserID:    "b",
		Principal: 10,
		Remaining: 10,
		Status:    LoanActive,
	}
	err := store.RunInTransaction(ctx, func(tx Tx) error {
		if err := tx.CreateLoan(loan); err != nil {
			return err
		}
		_, err := PostLoanIssue(tx, loan, "loan-1")
		return err
	})
	if err != nil {
		t.Fatalf("loan issue: %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx Tx) error {
		if _, err := PostLoanRepay(tx, loan, 4, "loan-1", 1, false); err != nil {
			return err
		}
		loan.Remaining -= 4
		return tx.UpdateLoan(loan)
	})
	if err != nil {
		t.Fatalf("loan repay: %v", err)
	}
	if _, err := engine.Spend(ctx, circle, "b", 2, "dem-1", SpendMeta{Reason: "demurrage"}); err != nil {
		t.Fatalf("spend: %v", err)
	}

	balanceA, _ := engine.MemberBalance(ctx, circle, "a")
	if balanceA != 70 {
		t.Fatalf("expected a at 70, got %d", balanceA)
	}
	balanceB, _ := engine.MemberBalance(ctx, circle, "b")
	if balanceB != 30 {
		t.Fatalf("expected b at 30, got %d", balanceB)
	}
	treasury, _ := engine.CircleTreasury(ctx, circle)
	// fee 3 + spend 2 + repay 4 - principal 10
	if treasury.Balance != -1 {
		t.Fatalf("expected treasury at -1, got %d", treasury.Balance)
	}
	pool, _ := engine.CirclePool(ctx, circle)
	if pool.Balance != 1 {
		t.Fatalf("expected pool at 1, got %d", pool.Balance)
	}

	err = store.RunInTransaction(ctx, func(tx Tx) error {
		got, err := tx.Loan("loan-1")
		if err != nil {
			return err
		}
		if got.Remaining != 6 {
			return fmt.Errorf("expected loan remaining 6, got %d", got.Remaining)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	report, err := engine.Reconcile(ctx, circle)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.EntryCount == 0 {
		t.Fatal("expected entries to be written")
	}
	if report.EntrySum != 0 {
		t.Fatalf("circle entries do not sum to zero: %d", report.EntrySum)
	}
	if !report.Balanced {
		t.Fatalf("aggregates do not reconcile with entries: %+v", report)
	}
}

func TestReconcileFlagsHoldMismatch(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()

	if _, err := engine.Deposit(ctx, circle, "a", 100, "dep-1", DepositMeta{Source: "purchased"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.EscrowLock(ctx, circle, "a", 30, "bk-1", EscrowLockMeta{BookingID: "bk-1"}); err != nil {
		t.Fatalf("escrow lock: %v", err)
	}

	report, err := engine.Reconcile(ctx, circle)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Balanced || report.HoldSum != 30 || report.EscrowNet != 30 {
		t.Fatalf("outstanding hold should reconcile: %+v", report)
	}

	// A hold row with no matching entries must flip the report.
	err = store.RunInTransaction(ctx, func(tx Tx) error {
		return tx.PutHold(EscrowHold{CircleID: circle, ReferenceID: "stray", UserID: "a", Amount: 5, LockedAt: time.Now().UTC()})
	})
	if err != nil {
		t.Fatal(err)
	}
	report, err = engine.Reconcile(ctx, circle)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Balanced {
		t.Fatalf("hold/entry divergence went undetected: %+v", report)
	}
	if report.HoldSum != 35 || report.EscrowNet != 30 {
		t.Fatalf("hold sum %d, escrow net %d, want 35 and 30", report.HoldSum, report.EscrowNet)
	}
}

func TestConcurrentSpendsSerialize(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	SeedMembership(store, circle, "alice", 1_000)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			refID := fmt.Sprintf("spend-%d", i)
			if _, err := engine.Spend(ctx, circle, "alice", 50, refID, SpendMeta{}); err != nil {
				t.Errorf("spend %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	balance, err := engine.MemberBalance(ctx, circle, "alice")
	if err != nil {
		t.Fatalf("member balance: %v", err)
	}
	if balance != 500 {
		t.Fatalf("lost update: expected 500, got %d", balance)
	}
	treasury, _ := engine.CircleTreasury(ctx, circle)
	if treasury.Balance != 500 {
		t.Fatalf("expected treasury 500, got %d", treasury.Balance)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	raw, err := MarshalMeta(LoanRepayMeta{LoanID: "loan-9", Installment: 3, Automatic: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	meta, err := UnmarshalMeta(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	repay, ok := meta.(LoanRepayMeta)
	if !ok {
		t.Fatalf("expected LoanRepayMeta, got %T", meta)
	}
	if repay.LoanID != "loan-9" || repay.Installment != 3 || !repay.Automatic {
		t.Fatalf("unexpected payload: %+v", repay)
	}

	if _, err := UnmarshalMeta([]byte(`{"kind":"mystery"}`)); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestRunInTransactionRollsBack(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	SeedMembership(store, circle, "alice", 100)

	wantErr := errors.New("boom")
	err := store.RunInTransaction(ctx, func(tx Tx) error {
		if _, err := tx.AdjustMembership(circle, "alice", -40); err != nil {
			return err
		}
		if err := tx.AppendEntries(pair(circle, ptr("alice"), nil, 40, "r", SpendMeta{}, time.Now().UTC())...); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected propagated error, got %v", err)
	}

	engine := NewEngine(store)
	balance, _ := engine.MemberBalance(ctx, circle, "alice")
	if balance != 100 {
		t.Fatalf("partial write survived rollback: %d", balance)
	}
	report, _ := engine.Reconcile(ctx, circle)
	if report.EntryCount != 0 {
		t.Fatalf("entries survived rollback: %d", report.EntryCount)
	}
}
