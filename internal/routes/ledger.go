package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tempora-exchange/tempora/internal/ledger"
)

// RegisterLedgerRoutes wires ledger operation and aggregate endpoints.
func RegisterLedgerRoutes(r fiber.Router, h *ledger.Handler, rateLimiter fiber.Handler) {
	ops := r.Group("/ledger", rateLimiter)
	ops.Post("/deposits", h.Deposit)
	ops.Post("/escrow/locks", h.EscrowLock)
	ops.Post("/escrow/releases", h.EscrowRelease)
	ops.Post("/insurance/premiums", h.InsurancePremium)
	ops.Post("/insurance/payouts", h.InsurancePayout)
	ops.Post("/treasury/funds", h.TreasuryFund)

	r.Get("/circles/:circleId/members/:userId/balance", h.Balance)
	r.Get("/circles/:circleId/treasury", h.Treasury)
	r.Get("/circles/:circleId/insurance", h.Pool)
	r.Get("/circles/:circleId/reconciliation", h.Reconcile)

	r.Post("/circles/:circleId/sweeps/demurrage", h.Demurrage)
	r.Post("/circles/:circleId/sweeps/allowance", h.Allowance)
}
