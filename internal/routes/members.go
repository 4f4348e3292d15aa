package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tempora-exchange/tempora/internal/member"
)

// RegisterMemberRoutes wires membership endpoints.
func RegisterMemberRoutes(r fiber.Router, h *member.Handler) {
	r.Post("/members", h.Join)
	r.Get("/circles/:circleId/members/:userId", h.Profile)
	r.Post("/circles/:circleId/endorsements", h.Endorse)
	r.Post("/circles/:circleId/bookings", h.RecordBooking)
}
