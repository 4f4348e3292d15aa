package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount occurs when an operation is requested for a
	// non-positive amount. Rejected before any store access.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance occurs when the paying party lacks the credits
	// to cover a requested posting. Compare with errors.Is; the concrete
	// error is an *InsufficientBalanceError carrying the amounts.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound occurs when a referenced membership, treasury, pool,
	// hold or loan does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateReference indicates an escrow hold already exists for the
	// provided reference id.
	ErrDuplicateReference = errors.New("duplicate reference")

	// ErrHoldExceeded occurs when an escrow release asks for more than the
	// hold still carries.
	ErrHoldExceeded = errors.New("release exceeds held amount")

	// ErrLoanClosed occurs when a repayment targets a loan that is no
	// longer active.
	ErrLoanClosed = errors.New("loan is not active")
)

// InsufficientBalanceError reports required versus available credits for the
// account that could not pay.
type InsufficientBalanceError struct {
	Account   string
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: required %d, available %d", e.Account, e.Required, e.Available)
}

// Is lets callers match the sentinel without losing the amounts.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

func insufficient(account string, required, available int64) error {
	return &InsufficientBalanceError{Account: account, Required: required, Available: available}
}
