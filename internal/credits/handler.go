package credits

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tempora-exchange/tempora/internal/ledger"
	"github.com/tempora-exchange/tempora/internal/pricing"
)

// Handler exposes credit-lot HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a credits HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type grantRequest struct {
	CircleID  string     `json:"circle_id"`
	UserID    string     `json:"user_id"`
	Tier      string     `json:"tier"`
	Amount    int64      `json:"amount"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type lotResponse struct {
	ID        string     `json:"id"`
	CircleID  string     `json:"circle_id"`
	UserID    string     `json:"user_id"`
	Tier      string     `json:"tier"`
	Amount    int64      `json:"amount"`
	Remaining int64      `json:"remaining"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Source    string     `json:"source"`
}

func toLotResponse(lot Lot) lotResponse {
	return lotResponse{
		ID:        lot.ID,
		CircleID:  lot.CircleID,
		UserID:    lot.UserID,
		Tier:      string(lot.Tier),
		Amount:    lot.Amount,
		Remaining: lot.Remaining,
		ExpiresAt: lot.ExpiresAt,
		Source:    lot.Source,
	}
}

// Grant credits a member with a new lot.
func (h *Handler) Grant(c *fiber.Ctx) error {
	var req grantRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	lot, err := h.service.Grant(c.UserContext(), GrantInput{
		CircleID:  req.CircleID,
		UserID:    req.UserID,
		Tier:      pricing.Tier(req.Tier),
		Amount:    req.Amount,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toLotResponse(lot))
}

// List returns a member's spendable lots.
func (h *Handler) List(c *fiber.Ctx) error {
	lots, err := h.service.Available(c.UserContext(), c.Params("circleId"), c.Params("userId"))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]lotResponse, 0, len(lots))
	for _, lot := range lots {
		out = append(out, toLotResponse(lot))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"lots": out})
}

type spendRequest struct {
	CircleID    string `json:"circle_id"`
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
	Peak        bool   `json:"peak"`
	Urgent      bool   `json:"urgent"`
	Equipment   bool   `json:"equipment"`
	CrossCircle bool   `json:"cross_circle"`
}

func (r spendRequest) surcharges() pricing.Surcharges {
	return pricing.Surcharges{
		Peak:        r.Peak,
		Urgent:      r.Urgent,
		Equipment:   r.Equipment,
		CrossCircle: r.CrossCircle,
	}
}

// Quote prices a spend without committing it.
func (h *Handler) Quote(c *fiber.Ctx) error {
	var req spendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	quote, err := h.service.Quote(c.UserContext(), req.CircleID, req.UserID, req.Amount, req.surcharges())
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusOK).JSON(quote)
}

// Spend commits a priced spend against the member's lots.
func (h *Handler) Spend(c *fiber.Ctx) error {
	var req spendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	receipt, err := h.service.Spend(c.UserContext(), SpendInput{
		CircleID:    req.CircleID,
		UserID:      req.UserID,
		Amount:      req.Amount,
		Reason:      req.Reason,
		Surcharges:  req.surcharges(),
		ReferenceID: c.Get("Idempotency-Key"),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientLots), errors.Is(err, ErrLotExhausted), errors.Is(err, ledger.ErrInsufficientBalance):
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ledger.ErrNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		default:
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	return c.Status(http.StatusOK).JSON(receipt)
}
