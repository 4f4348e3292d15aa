package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tempora-exchange/tempora/internal/pricing"
)

// Handler exposes HTTP endpoints for credit purchases.
type Handler struct {
	service *Service
}

// NewHandler constructs a gateway handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type purchaseRequest struct {
	CircleID   string     `json:"circle_id"`
	UserID     string     `json:"user_id"`
	Tier       string     `json:"tier"`
	Amount     int64      `json:"amount"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ClientTxID string     `json:"client_tx_id"`
}

type purchaseResponse struct {
	LotID        string `json:"lot_id"`
	Status       string `json:"status"`
	Balance      int64  `json:"balance"`
	ProcessorRef string `json:"processor_ref"`
}

// Purchase processes a paid credit purchase.
func (h *Handler) Purchase(c *fiber.Ctx) error {
	var req purchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Purchase(c.UserContext(), PurchaseInput{
		CircleID:   req.CircleID,
		UserID:     req.UserID,
		Tier:       pricing.Tier(req.Tier),
		Amount:     req.Amount,
		ExpiresAt:  req.ExpiresAt,
		ClientTxID: req.ClientTxID,
	})
	if err != nil {
		if errors.Is(err, ErrDeclined) {
			return fiber.NewError(http.StatusPaymentRequired, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(purchaseResponse{
		LotID:        result.LotID,
		Status:       result.Status,
		Balance:      result.Balance,
		ProcessorRef: result.ProcessorRef,
	})
}
