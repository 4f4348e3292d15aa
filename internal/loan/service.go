package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tempora-exchange/tempora/internal/ledger"
	"github.com/tempora-exchange/tempora/internal/notification"
)

// Amortization terms: a fixed 10% fee, repaid weekly over 60 days.
const (
	feePercent       = 10
	termDays         = 60
	installmentDays  = 7
	installmentCount = (termDays + installmentDays - 1) / installmentDays
)

var (
	// ErrAmountExceedsLimit occurs when the requested principal is above
	// the member's maximum loan size.
	ErrAmountExceedsLimit = errors.New("requested amount exceeds loan limit")

	// ErrLoanDefaulted indicates an automatic repayment attempt failed and
	// the loan transitioned to DEFAULTED. Distinct from a manual
	// insufficient-balance rejection, which mutates nothing.
	ErrLoanDefaulted = errors.New("loan defaulted")
)

// DefaultedError reports the shortfall that triggered a default.
type DefaultedError struct {
	LoanID    string
	Required  int64
	Available int64
}

func (e *DefaultedError) Error() string {
	return fmt.Sprintf("loan %s defaulted: installment %d, balance %d", e.LoanID, e.Required, e.Available)
}

// Is lets callers match ErrLoanDefaulted without losing the amounts.
func (e *DefaultedError) Is(target error) bool {
	return target == ErrLoanDefaulted
}

// Service implements loan eligibility, issuance and repayment on top of the
// ledger. Every mutation shares one store transaction with its postings.
type Service struct {
	store    ledger.Store
	signals  SignalSource
	notifier notification.Notifier
}

// NewService builds a loan service.
func NewService(store ledger.Store, signals SignalSource, notifier notification.Notifier) *Service {
	return &Service{store: store, signals: signals, notifier: notifier}
}

// Assess computes the member's eligibility and maximum loan size without
// issuing anything.
func (s *Service) Assess(ctx context.Context, circleID, userID string) (Assessment, error) {
	signals, err := s.signals.Signals(ctx, circleID, userID)
	if err != nil {
		return Assessment{}, err
	}

	var balance int64
	var hasActive bool
	err = s.store.RunInTransaction(ctx, func(tx ledger.Tx) error {
		if m, err := tx.Membership(circleID, userID); err == nil {
			balance = m.Balance
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		if _, err := tx.ActiveLoan(circleID, userID); err == nil {
			hasActive = true
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return Assessment{}, err
	}

	return assess(signals, balance, hasActive, time.Now().UTC()), nil
}

// Issue assesses the member and, if eligible, disburses principal from the
// treasury as an amortized loan. The fee is the spread repaid on top of the
// principal, not an upfront charge. The behavioral snapshot is stored on
// the loan for audit.
func (s *Service) Issue(ctx context.Context, circleID, userID string, principal int64, referenceID string) (ledger.Loan, error) {
	if principal <= 0 {
		return ledger.Loan{}, ledger.ErrInvalidAmount
	}

	assessment, err := s.Assess(ctx, circleID, userID)
	if err != nil {
		return ledger.Loan{}, err
	}
	if !assessment.Eligible {
		return ledger.Loan{}, &IneligibleError{Reasons: assessment.Reasons}
	}
	if principal > assessment.MaxAmount {
		return ledger.Loan{}, fmt.Errorf("%w: requested %d, limit %d", ErrAmountExceedsLimit, principal, assessment.MaxAmount)
	}

	fee := principal * feePercent / 100
	total := principal + fee
	installment := (total + installmentCount - 1) / installmentCount

	now := time.Now().UTC()
	loan := ledger.Loan{
		ID:                uuid.NewString(),
		CircleID:          circleID,
		UserID:            userID,
		Principal:         principal,
		Fee:               fee,
		Remaining:         total,
		Installment:       installment,
		PaymentsRemaining: installmentCount,
		Status:            ledger.LoanActive,
		NextPaymentDue:    now.AddDate(0, 0, installmentDays),
		IssuedAt:          now,
		Snapshot: ledger.BehaviorSnapshot{
			AgeDays:        assessment.AgeDays,
			CompletionRate: assessment.CompletionRate,
			DisputeRate:    assessment.DisputeRate,
			Vouches:        assessment.Vouches,
		},
	}

	err = s.store.RunInTransaction(ctx, func(tx ledger.Tx) error {
		// Re-check under the transaction; the assessment reads were unlocked,
		// so a loan or deposit landing in between must still be caught here.
		if _, err := tx.ActiveLoan(circleID, userID); err == nil {
			return &IneligibleError{Reasons: []string{reasonActiveLoan}}
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		if m, err := tx.Membership(circleID, userID); err == nil {
			if m.Balance >= balanceCeiling {
				return &IneligibleError{Reasons: []string{reasonBalanceCeiling(m.Balance)}}
			}
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		if err := tx.CreateLoan(loan); err != nil {
			return err
		}
		_, err := ledger.PostLoanIssue(tx, loan, referenceID)
		return err
	})
	if err != nil {
		return ledger.Loan{}, err
	}

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindLoanIssued,
			Destination: userID,
			Body:        fmt.Sprintf("Loan of %d credits issued; %d due weekly", principal, installment),
		})
	}
	return loan, nil
}

// Schedule lists the remaining installments of a loan. The final
// installment absorbs the rounding remainder so the amounts sum exactly to
// what is owed.
func Schedule(l ledger.Loan) []int64 {
	var out []int64
	remaining := l.Remaining
	for i := 0; i < l.PaymentsRemaining && remaining > 0; i++ {
		amount := l.Installment
		if i == l.PaymentsRemaining-1 || amount > remaining {
			amount = remaining
		}
		out = append(out, amount)
		remaining -= amount
	}
	return out
}

// scheduledAmount is the next installment due: the fixed amount, or
// whatever is left when that is smaller or this is the final payment.
func scheduledAmount(l ledger.Loan) int64 {
	if l.PaymentsRemaining <= 1 || l.Remaining < l.Installment {
		return l.Remaining
	}
	return l.Installment
}

// Repay applies one manual repayment: the scheduled installment, or the
// caller's override when positive. Insufficient balance rejects with zero
// mutation.
func (s *Service) Repay(ctx context.Context, loanID string, override int64, referenceID string) (ledger.Loan, error) {
	var updated ledger.Loan
	err := s.store.RunInTransaction(ctx, func(tx ledger.Tx) error {
		loan, err := tx.Loan(loanID)
		if err != nil {
			return err
		}
		if loan.Status != ledger.LoanActive {
			return fmt.Errorf("loan %s: %w", loanID, ledger.ErrLoanClosed)
		}

		amount := scheduledAmount(loan)
		if override > 0 {
			amount = override
		}
		if amount > loan.Remaining {
			amount = loan.Remaining
		}

		installment := installmentCount - loan.PaymentsRemaining + 1
		if _, err := ledger.PostLoanRepay(tx, loan, amount, referenceID, installment, false); err != nil {
			return err
		}
		updated = applyPayment(loan, amount)
		return tx.UpdateLoan(updated)
	})
	return updated, err
}

// AutoRepay attempts one scheduled repayment on behalf of the scheduler. A
// borrower who cannot cover the installment defaults immediately; the
// status change commits even though no credits move.
func (s *Service) AutoRepay(ctx context.Context, loanID string, referenceID string) (ledger.Loan, error) {
	var updated ledger.Loan
	var defaulted *DefaultedError
	err := s.store.RunInTransaction(ctx, func(tx ledger.Tx) error {
		loan, err := tx.Loan(loanID)
		if err != nil {
			return err
		}
		if loan.Status != ledger.LoanActive {
			return fmt.Errorf("loan %s: %w", loanID, ledger.ErrLoanClosed)
		}

		amount := scheduledAmount(loan)
		m, err := tx.Membership(loan.CircleID, loan.UserID)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		if m.Balance < amount {
			loan.Status = ledger.LoanDefaulted
			updated = loan
			defaulted = &DefaultedError{LoanID: loan.ID, Required: amount, Available: m.Balance}
			return tx.UpdateLoan(loan)
		}

		installment := installmentCount - loan.PaymentsRemaining + 1
		if _, err := ledger.PostLoanRepay(tx, loan, amount, referenceID, installment, true); err != nil {
			return err
		}
		updated = applyPayment(loan, amount)
		return tx.UpdateLoan(updated)
	})
	if err != nil {
		return ledger.Loan{}, err
	}
	if defaulted != nil {
		if s.notifier != nil {
			_ = s.notifier.Send(ctx, notification.Message{
				Kind:        notification.KindLoanDefaulted,
				Destination: updated.UserID,
				Body:        fmt.Sprintf("Loan %s defaulted on a %d-credit installment", updated.ID, defaulted.Required),
			})
		}
		return updated, defaulted
	}
	return updated, nil
}

func applyPayment(l ledger.Loan, amount int64) ledger.Loan {
	l.Remaining -= amount
	l.PaymentsRemaining--
	l.NextPaymentDue = l.NextPaymentDue.AddDate(0, 0, installmentDays)
	if l.Remaining <= 0 || l.PaymentsRemaining <= 0 {
		l.Status = ledger.LoanCompleted
	}
	return l
}

// Outcome is the result of one loan during an overdue sweep.
type Outcome struct {
	LoanID string            `json:"loan_id"`
	UserID string            `json:"user_id"`
	Status ledger.LoanStatus `json:"status"`
	Err    error             `json:"-"`
	Error  string            `json:"error,omitempty"`
}

// SweepReport aggregates an overdue sweep. Defaults are outcomes, not sweep
// failures; Failed counts loans the sweep could not process at all.
type SweepReport struct {
	Processed int       `json:"processed"`
	Defaulted int       `json:"defaulted"`
	Failed    int       `json:"failed"`
	Outcomes  []Outcome `json:"outcomes,omitempty"`
}

// SweepOverdue attempts automatic repayment on every active loan whose next
// payment has come due, each independently: a defaulted or failed loan does
// not block the others.
func (s *Service) SweepOverdue(ctx context.Context, asOf time.Time) (SweepReport, error) {
	var due []ledger.Loan
	err := s.store.RunInTransaction(ctx, func(tx ledger.Tx) error {
		var err error
		due, err = tx.DueLoans(asOf)
		return err
	})
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	for _, loan := range due {
		refID := fmt.Sprintf("autorepay:%s:%s", loan.ID, asOf.Format("2006-01-02"))
		updated, err := s.AutoRepay(ctx, loan.ID, refID)
		outcome := Outcome{LoanID: loan.ID, UserID: loan.UserID, Status: updated.Status, Err: err}
		if err != nil {
			outcome.Error = err.Error()
		}
		switch {
		case errors.Is(err, ErrLoanDefaulted):
			report.Defaulted++
		case err != nil:
			outcome.Status = loan.Status
			report.Failed++
		default:
			report.Processed++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report, nil
}
