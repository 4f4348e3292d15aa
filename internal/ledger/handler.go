package ledger

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/tempora-exchange/tempora/internal/notification"
)

// Handler exposes ledger HTTP endpoints.
type Handler struct {
	engine   *Engine
	notifier notification.Notifier
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(engine *Engine, notifier notification.Notifier) *Handler {
	return &Handler{engine: engine, notifier: notifier}
}

type postRequest struct {
	CircleID    string `json:"circle_id"`
	UserID      string `json:"user_id"`
	ToUserID    string `json:"to_user_id"`
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id"`
	Reason      string `json:"reason"`
	BookingID   string `json:"booking_id"`
	ClaimID     string `json:"claim_id"`
	Source      string `json:"source"`
}

func (r *postRequest) reference(c *fiber.Ctx) string {
	if r.ReferenceID != "" {
		return r.ReferenceID
	}
	return c.Get("Idempotency-Key")
}

func balanceResponse(c *fiber.Ctx, balance int64) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{"balance": balance})
}

func opError(err error) error {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateReference):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrHoldExceeded):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}

// Deposit credits a member from outside the circle.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	balance, err := h.engine.Deposit(c.UserContext(), req.CircleID, req.UserID, req.Amount, req.reference(c), DepositMeta{Source: req.Source})
	if err != nil {
		return opError(err)
	}
	return balanceResponse(c, balance)
}

// EscrowLock holds a member's credits for a booking.
func (h *Handler) EscrowLock(c *fiber.Ctx) error {
	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	balance, err := h.engine.EscrowLock(c.UserContext(), req.CircleID, req.UserID, req.Amount, req.reference(c), EscrowLockMeta{BookingID: req.BookingID})
	if err != nil {
		return opError(err)
	}
	return balanceResponse(c, balance)
}

// EscrowRelease pays held credits out to the provider.
func (h *Handler) EscrowRelease(c *fiber.Ctx) error {
	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	balance, err := h.engine.EscrowRelease(c.UserContext(), req.CircleID, req.UserID, req.ToUserID, req.Amount, req.reference(c), EscrowReleaseMeta{BookingID: req.BookingID})
	if err != nil {
		return opError(err)
	}
	return balanceResponse(c, balance)
}

// InsurancePremium moves a member's credits into the circle insurance pool.
func (h *Handler) InsurancePremium(c *fiber.Ctx) error {
	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	balance, err := h.engine.InsurancePremium(c.UserContext(), req.CircleID, req.UserID, req.Amount, req.reference(c), InsurancePremiumMeta{Note: req.Reason})
	if err != nil {
		return opError(err)
	}
	return balanceResponse(c, balance)
}

// InsurancePayout pays a member from the circle insurance pool.
func (h *Handler) InsurancePayout(c *fiber.Ctx) error {
	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	balance, err := h.engine.InsurancePayout(c.UserContext(), req.CircleID, req.UserID, req.Amount, req.reference(c), InsurancePayoutMeta{ClaimID: req.ClaimID})
	if err != nil {
		return opError(err)
	}
	if h.notifier != nil {
		_ = h.notifier.Send(c.UserContext(), notification.Message{
			Kind:        notification.KindInsurancePayout,
			Destination: req.UserID,
			Body:        fmt.Sprintf("Claim %s paid: %d credits", req.ClaimID, req.Amount),
		})
	}
	return balanceResponse(c, balance)
}

// TreasuryFund credits the circle treasury from outside.
func (h *Handler) TreasuryFund(c *fiber.Ctx) error {
	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	balance, err := h.engine.TreasuryFund(c.UserContext(), req.CircleID, req.Amount, req.reference(c), TreasuryFundMeta{Source: req.Source})
	if err != nil {
		return opError(err)
	}
	return balanceResponse(c, balance)
}

// Balance returns a member's balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.engine.MemberBalance(c.UserContext(), c.Params("circleId"), c.Params("userId"))
	if err != nil {
		return opError(err)
	}
	return balanceResponse(c, balance)
}

// Treasury returns a circle's treasury aggregate.
func (h *Handler) Treasury(c *fiber.Ctx) error {
	treasury, err := h.engine.CircleTreasury(c.UserContext(), c.Params("circleId"))
	if err != nil {
		return opError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"circle_id": treasury.CircleID,
		"balance":   treasury.Balance,
		"reserved":  treasury.Reserved,
		"available": treasury.Available(),
	})
}

// Pool returns a circle's insurance pool aggregate.
func (h *Handler) Pool(c *fiber.Ctx) error {
	pool, err := h.engine.CirclePool(c.UserContext(), c.Params("circleId"))
	if err != nil {
		return opError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"circle_id": pool.CircleID,
		"balance":   pool.Balance,
	})
}

// Reconcile rebuilds a circle's aggregates from its entries and reports drift.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	report, err := h.engine.Reconcile(c.UserContext(), c.Params("circleId"))
	if err != nil {
		return opError(err)
	}
	status := http.StatusOK
	if !report.Balanced {
		status = http.StatusConflict
	}
	return c.Status(status).JSON(report)
}

type demurrageRequest struct {
	Threshold int64   `json:"threshold"`
	Rate      float64 `json:"rate"`
}

// Demurrage runs the periodic decay sweep over a circle.
func (h *Handler) Demurrage(c *fiber.Ctx) error {
	var req demurrageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	report, err := h.engine.DemurrageSweep(c.UserContext(), c.Params("circleId"), req.Threshold, req.Rate)
	if err != nil {
		return opError(err)
	}
	return c.Status(http.StatusOK).JSON(report)
}

type allowanceRequest struct {
	Amount int64  `json:"amount"`
	Period string `json:"period"`
}

// Allowance runs the periodic allowance sweep over a circle.
func (h *Handler) Allowance(c *fiber.Ctx) error {
	var req allowanceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	report, err := h.engine.AllowanceSweep(c.UserContext(), c.Params("circleId"), req.Amount, req.Period)
	if err != nil {
		return opError(err)
	}
	return c.Status(http.StatusOK).JSON(report)
}
