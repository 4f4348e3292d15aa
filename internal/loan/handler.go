package loan

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tempora-exchange/tempora/internal/ledger"
)

// Handler exposes loan HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a loan HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type loanResponse struct {
	ID                string    `json:"id"`
	CircleID          string    `json:"circle_id"`
	UserID            string    `json:"user_id"`
	Principal         int64     `json:"principal"`
	Fee               int64     `json:"fee"`
	Remaining         int64     `json:"remaining"`
	Installment       int64     `json:"installment"`
	PaymentsRemaining int       `json:"payments_remaining"`
	Status            string    `json:"status"`
	NextPaymentDue    time.Time `json:"next_payment_due"`
	Schedule          []int64   `json:"schedule,omitempty"`
}

func toLoanResponse(l ledger.Loan) loanResponse {
	return loanResponse{
		ID:                l.ID,
		CircleID:          l.CircleID,
		UserID:            l.UserID,
		Principal:         l.Principal,
		Fee:               l.Fee,
		Remaining:         l.Remaining,
		Installment:       l.Installment,
		PaymentsRemaining: l.PaymentsRemaining,
		Status:            string(l.Status),
		NextPaymentDue:    l.NextPaymentDue,
		Schedule:          Schedule(l),
	}
}

func loanError(err error) error {
	var ineligible *IneligibleError
	var insufficient *ledger.InsufficientBalanceError
	var defaulted *DefaultedError
	switch {
	case errors.As(err, &ineligible):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAmountExceedsLimit):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.As(err, &defaulted):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &insufficient):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrLoanClosed):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}

type assessmentResponse struct {
	Eligible       bool     `json:"eligible"`
	Reasons        []string `json:"reasons,omitempty"`
	AgeDays        int      `json:"age_days"`
	CompletionRate float64  `json:"completion_rate"`
	DisputeRate    float64  `json:"dispute_rate"`
	Vouches        int      `json:"vouches"`
	Balance        int64    `json:"balance"`
	MaxAmount      int64    `json:"max_amount"`
}

// Assess reports a member's loan eligibility and maximum amount.
func (h *Handler) Assess(c *fiber.Ctx) error {
	a, err := h.service.Assess(c.UserContext(), c.Params("circleId"), c.Params("userId"))
	if err != nil {
		return loanError(err)
	}
	return c.Status(http.StatusOK).JSON(assessmentResponse{
		Eligible:       a.Eligible,
		Reasons:        a.Reasons,
		AgeDays:        a.AgeDays,
		CompletionRate: a.CompletionRate,
		DisputeRate:    a.DisputeRate,
		Vouches:        a.Vouches,
		Balance:        a.Balance,
		MaxAmount:      a.MaxAmount,
	})
}

type issueRequest struct {
	CircleID    string `json:"circle_id"`
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id"`
}

// Issue disburses a loan to an eligible member.
func (h *Handler) Issue(c *fiber.Ctx) error {
	var req issueRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	refID := req.ReferenceID
	if refID == "" {
		refID = c.Get("Idempotency-Key")
	}
	l, err := h.service.Issue(c.UserContext(), req.CircleID, req.UserID, req.Amount, refID)
	if err != nil {
		return loanError(err)
	}
	return c.Status(http.StatusCreated).JSON(toLoanResponse(l))
}

type repayRequest struct {
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id"`
}

// Repay applies a manual repayment to a loan.
func (h *Handler) Repay(c *fiber.Ctx) error {
	var req repayRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	refID := req.ReferenceID
	if refID == "" {
		refID = c.Get("Idempotency-Key")
	}
	l, err := h.service.Repay(c.UserContext(), c.Params("loanId"), req.Amount, refID)
	if err != nil {
		return loanError(err)
	}
	return c.Status(http.StatusOK).JSON(toLoanResponse(l))
}

type sweepRequest struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

// SweepOverdue collects every installment due at the given time.
func (h *Handler) SweepOverdue(c *fiber.Ctx) error {
	var req sweepRequest
	if err := c.BodyParser(&req); err != nil && !errors.Is(err, fiber.ErrUnprocessableEntity) {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	asOf := time.Now().UTC()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}
	report, err := h.service.SweepOverdue(c.UserContext(), asOf)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(report)
}
