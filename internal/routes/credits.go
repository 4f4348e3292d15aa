package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tempora-exchange/tempora/internal/credits"
)

// RegisterCreditRoutes wires credit-lot endpoints.
func RegisterCreditRoutes(r fiber.Router, h *credits.Handler, rateLimiter fiber.Handler) {
	r.Post("/credits/grants", rateLimiter, h.Grant)
	r.Post("/credits/quotes", h.Quote)
	r.Post("/credits/spends", rateLimiter, h.Spend)
	r.Get("/circles/:circleId/members/:userId/lots", h.List)
}
