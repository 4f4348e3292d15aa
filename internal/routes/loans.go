package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tempora-exchange/tempora/internal/loan"
)

// RegisterLoanRoutes wires loan endpoints.
func RegisterLoanRoutes(r fiber.Router, h *loan.Handler, rateLimiter fiber.Handler) {
	r.Get("/circles/:circleId/members/:userId/loan-assessment", h.Assess)
	r.Post("/loans", rateLimiter, h.Issue)
	r.Post("/loans/:loanId/repayments", rateLimiter, h.Repay)
	r.Post("/loans/sweeps/overdue", h.SweepOverdue)
}
