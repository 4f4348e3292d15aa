package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tempora-exchange/tempora/internal/gateway"
)

// RegisterGatewayRoutes wires credit purchase endpoints.
func RegisterGatewayRoutes(r fiber.Router, h *gateway.Handler, rateLimiter fiber.Handler) {
	r.Post("/purchases", rateLimiter, h.Purchase)
}
