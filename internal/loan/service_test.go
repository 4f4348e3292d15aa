package loan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tempora-exchange/tempora/internal/ledger"
	"github.com/tempora-exchange/tempora/internal/notification"
)

const circle = "circle-1"

type stubSignals struct {
	signals map[string]Signals
}

func (s stubSignals) Signals(_ context.Context, _, userID string) (Signals, error) {
	return s.signals[userID], nil
}

func goodSignals() Signals {
	return Signals{
		JoinedAt:          time.Now().UTC().AddDate(0, 0, -90),
		TotalBookings:     20,
		CompletedBookings: 20,
		Claims:            0,
		Vouches:           5,
	}
}

type captureNotifier struct {
	messages []notification.Message
}

func (n *captureNotifier) Send(_ context.Context, msg notification.Message) error {
	n.messages = append(n.messages, msg)
	return nil
}

func newTestService(signals map[string]Signals) (*Service, *ledger.MemoryStore, *captureNotifier) {
	store := ledger.NewMemoryStore()
	notifier := &captureNotifier{}
	svc := NewService(store, stubSignals{signals: signals}, notifier)
	return svc, store, notifier
}

func TestIssueAmortizesWithFinalRemainder(t *testing.T) {
	svc, store, notifier := newTestService(map[string]Signals{"bob": goodSignals()})
	ledger.SeedMembership(store, circle, "bob", 10)
	ctx := context.Background()

	loan, err := svc.Issue(ctx, circle, "bob", 100, "loan-req-1")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if loan.Fee != 10 || loan.Remaining != 110 {
		t.Fatalf("expected 10%% fee and 110 owed, got fee %d remaining %d", loan.Fee, loan.Remaining)
	}
	if loan.PaymentsRemaining != 9 || loan.Installment != 13 {
		t.Fatalf("expected 9 installments of 13, got %d of %d", loan.PaymentsRemaining, loan.Installment)
	}

	schedule := Schedule(loan)
	var sum int64
	for _, amount := range schedule {
		sum += amount
	}
	if sum != 110 {
		t.Fatalf("installments sum to %d, want 110", sum)
	}
	if final := schedule[len(schedule)-1]; final != 6 {
		t.Fatalf("expected final installment to absorb remainder (6), got %d", final)
	}

	// Only the principal is disbursed.
	engine := ledger.NewEngine(store)
	balance, _ := engine.MemberBalance(ctx, circle, "bob")
	if balance != 110 {
		t.Fatalf("expected borrower at 110 (10 + principal 100), got %d", balance)
	}
	treasury, _ := engine.CircleTreasury(ctx, circle)
	if treasury.Balance != -100 {
		t.Fatalf("expected treasury at -100, got %d", treasury.Balance)
	}

	if loan.Snapshot.Vouches != 5 || loan.Snapshot.CompletionRate != 1 {
		t.Fatalf("behavioral snapshot not stored: %+v", loan.Snapshot)
	}
	if len(notifier.messages) != 1 || notifier.messages[0].Kind != notification.KindLoanIssued {
		t.Fatalf("expected loan_issued notification, got %+v", notifier.messages)
	}
}

func TestIssueReportsUnmetCriteria(t *testing.T) {
	signals := Signals{
		JoinedAt:          time.Now().UTC().AddDate(0, 0, -10),
		TotalBookings:     10,
		CompletedBookings: 5,
		Claims:            2,
		Vouches:           1,
	}
	svc, store, _ := newTestService(map[string]Signals{"newbie": signals})
	ledger.SeedMembership(store, circle, "newbie", 50)

	_, err := svc.Issue(context.Background(), circle, "newbie", 50, "req")
	var ineligible *IneligibleError
	if !errors.As(err, &ineligible) {
		t.Fatalf("expected IneligibleError, got %v", err)
	}
	// age, completion, disputes, vouches, balance: all five unmet.
	if len(ineligible.Reasons) != 5 {
		t.Fatalf("expected 5 reasons, got %v", ineligible.Reasons)
	}
}

func TestIssueRejectsSecondActiveLoan(t *testing.T) {
	svc, store, _ := newTestService(map[string]Signals{"bob": goodSignals()})
	ledger.SeedMembership(store, circle, "bob", 0)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, circle, "bob", 50, "req-1"); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	// Balance is now above the ceiling too, but the active loan alone must block.
	ledger.SeedMembership(store, circle, "bob", 0)
	var ineligible *IneligibleError
	if _, err := svc.Issue(ctx, circle, "bob", 50, "req-2"); !errors.As(err, &ineligible) {
		t.Fatalf("expected ineligible, got %v", err)
	}
}

// raceStore runs a hook after the first transaction, simulating concurrent
// activity landing between assessment and issuance.
type raceStore struct {
	ledger.Store
	hook  func()
	calls int
}

func (s *raceStore) RunInTransaction(ctx context.Context, fn func(tx ledger.Tx) error) error {
	err := s.Store.RunInTransaction(ctx, fn)
	s.calls++
	if s.calls == 1 && s.hook != nil {
		s.hook()
	}
	return err
}

func TestIssueRechecksBalanceCeilingAtCommit(t *testing.T) {
	inner := ledger.NewMemoryStore()
	ledger.SeedMembership(inner, circle, "bob", 10)
	store := &raceStore{Store: inner}
	// A deposit lands right after the assessment read the 10-credit balance.
	store.hook = func() { ledger.SeedMembership(inner, circle, "bob", 40) }
	svc := NewService(store, stubSignals{signals: map[string]Signals{"bob": goodSignals()}}, &captureNotifier{})
	ctx := context.Background()

	var ineligible *IneligibleError
	if _, err := svc.Issue(ctx, circle, "bob", 50, "req"); !errors.As(err, &ineligible) {
		t.Fatalf("expected ineligible after deposit raised balance, got %v", err)
	}

	engine := ledger.NewEngine(inner)
	balance, _ := engine.MemberBalance(ctx, circle, "bob")
	if balance != 40 {
		t.Fatalf("balance = %d, want 40 with nothing disbursed", balance)
	}
	err := inner.RunInTransaction(ctx, func(tx ledger.Tx) error {
		if _, err := tx.ActiveLoan(circle, "bob"); !errors.Is(err, ledger.ErrNotFound) {
			t.Fatalf("expected no active loan, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestIssueRejectsAboveLimit(t *testing.T) {
	// Good history but no bonuses beyond dispute-free: completion 90%, 2 vouches.
	signals := Signals{
		JoinedAt:          time.Now().UTC().AddDate(0, 0, -60),
		TotalBookings:     10,
		CompletedBookings: 9,
		Vouches:           2,
	}
	svc, store, _ := newTestService(map[string]Signals{"carol": signals})
	ledger.SeedMembership(store, circle, "carol", 0)

	// base 100 + zero-dispute 25 = 125
	if _, err := svc.Issue(context.Background(), circle, "carol", 150, "req"); !errors.Is(err, ErrAmountExceedsLimit) {
		t.Fatalf("expected limit rejection, got %v", err)
	}
	if _, err := svc.Issue(context.Background(), circle, "carol", 125, "req"); err != nil {
		t.Fatalf("expected 125 to be within limit: %v", err)
	}
}

func TestMaxAmountCapped(t *testing.T) {
	a := assess(goodSignals(), 0, false, time.Now().UTC())
	if !a.Eligible {
		t.Fatalf("expected eligible, got %v", a.Reasons)
	}
	// base 100 + completion 50 + disputes 25 + vouches 25 = 200 cap
	if a.MaxAmount != 200 {
		t.Fatalf("expected capped max 200, got %d", a.MaxAmount)
	}
}

func TestManualRepayInsufficientRejectsWithoutSideEffects(t *testing.T) {
	svc, store, _ := newTestService(map[string]Signals{"bob": goodSignals()})
	ledger.SeedMembership(store, circle, "bob", 0)
	ctx := context.Background()

	loan, err := svc.Issue(ctx, circle, "bob", 100, "req")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	ledger.SeedMembership(store, circle, "bob", 5)

	if _, err := svc.Repay(ctx, loan.ID, 0, "pay-1"); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	// The loan is untouched and still active, not defaulted.
	err = store.RunInTransaction(ctx, func(tx ledger.Tx) error {
		got, err := tx.Loan(loan.ID)
		if err != nil {
			return err
		}
		if got.Status != ledger.LoanActive || got.Remaining != 110 || got.PaymentsRemaining != 9 {
			t.Fatalf("manual failure mutated loan: %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAutoRepayDefaultsImmediately(t *testing.T) {
	svc, store, notifier := newTestService(map[string]Signals{"bob": goodSignals()})
	ledger.SeedMembership(store, circle, "bob", 0)
	ctx := context.Background()

	loan, err := svc.Issue(ctx, circle, "bob", 100, "req")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	ledger.SeedMembership(store, circle, "bob", 5)

	updated, err := svc.AutoRepay(ctx, loan.ID, "auto-1")
	if !errors.Is(err, ErrLoanDefaulted) {
		t.Fatalf("expected default, got %v", err)
	}
	if updated.Status != ledger.LoanDefaulted {
		t.Fatalf("expected DEFAULTED, got %s", updated.Status)
	}
	var detail *DefaultedError
	if !errors.As(err, &detail) || detail.Required != 13 || detail.Available != 5 {
		t.Fatalf("expected shortfall detail, got %+v", detail)
	}

	found := false
	for _, msg := range notifier.messages {
		if msg.Kind == notification.KindLoanDefaulted {
			found = true
		}
	}
	if !found {
		t.Fatal("expected loan_defaulted notification")
	}
}

func TestRepaymentsCompleteLoan(t *testing.T) {
	svc, store, _ := newTestService(map[string]Signals{"bob": goodSignals()})
	ledger.SeedMembership(store, circle, "bob", 10)
	ctx := context.Background()

	loan, err := svc.Issue(ctx, circle, "bob", 100, "req")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var paid int64
	current := loan
	for i := 0; current.Status == ledger.LoanActive; i++ {
		before := current.Remaining
		current, err = svc.Repay(ctx, loan.ID, 0, "pay")
		if err != nil {
			t.Fatalf("repay %d: %v", i, err)
		}
		paid += before - current.Remaining
		if i > installmentCount {
			t.Fatal("loan did not complete within the schedule")
		}
	}

	if current.Status != ledger.LoanCompleted {
		t.Fatalf("expected COMPLETED, got %s", current.Status)
	}
	if paid != 110 || current.Remaining != 0 {
		t.Fatalf("payments sum to %d with %d remaining, want 110 and 0", paid, current.Remaining)
	}
}

func TestSweepOverdueProcessesIndependently(t *testing.T) {
	svc, store, _ := newTestService(map[string]Signals{"solvent": goodSignals(), "broke": goodSignals()})
	ledger.SeedMembership(store, circle, "solvent", 0)
	ledger.SeedMembership(store, circle, "broke", 0)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, circle, "solvent", 100, "req-a"); err != nil {
		t.Fatalf("issue solvent: %v", err)
	}
	if _, err := svc.Issue(ctx, circle, "broke", 100, "req-b"); err != nil {
		t.Fatalf("issue broke: %v", err)
	}
	ledger.SeedMembership(store, circle, "broke", 2)

	report, err := svc.SweepOverdue(ctx, time.Now().UTC().AddDate(0, 0, 8))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Processed != 1 || report.Defaulted != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	for _, outcome := range report.Outcomes {
		switch outcome.UserID {
		case "solvent":
			if outcome.Err != nil || outcome.Status != ledger.LoanActive {
				t.Fatalf("solvent outcome: %+v", outcome)
			}
		case "broke":
			if !errors.Is(outcome.Err, ErrLoanDefaulted) || outcome.Status != ledger.LoanDefaulted {
				t.Fatalf("broke outcome: %+v", outcome)
			}
		}
	}
}
