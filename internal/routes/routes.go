package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tempora-exchange/tempora/internal/config"
	"github.com/tempora-exchange/tempora/internal/credits"
	"github.com/tempora-exchange/tempora/internal/gateway"
	"github.com/tempora-exchange/tempora/internal/ledger"
	"github.com/tempora-exchange/tempora/internal/loan"
	"github.com/tempora-exchange/tempora/internal/member"
	"github.com/tempora-exchange/tempora/internal/middleware"
	"github.com/tempora-exchange/tempora/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)

	// Backends
	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewMemoryStore()
	}
	engine := ledger.NewEngine(store)

	var memberRepo member.Repository
	if d.DB != nil {
		memberRepo = member.NewPostgresRepository(d.DB)
	} else {
		memberRepo = member.NewMemoryRepository()
	}
	var lotRepo credits.Repository
	if d.DB != nil {
		lotRepo = credits.NewPostgresRepository(d.DB)
	} else {
		lotRepo = credits.NewMemoryRepository()
	}

	// Services and handlers
	notifier := notification.NewLoggerNotifier(d.Logger)
	memberSvc := member.NewService(memberRepo)
	creditsSvc := credits.NewService(lotRepo, engine)
	loanSvc := loan.NewService(store, memberSvc, notifier)
	gatewaySvc, err := gateway.NewService(engine, creditsSvc, nil)
	if err != nil {
		return err
	}

	ledgerHandler := ledger.NewHandler(engine, notifier)
	memberHandler := member.NewHandler(memberSvc)
	creditsHandler := credits.NewHandler(creditsSvc)
	loanHandler := loan.NewHandler(loanSvc)
	gatewayHandler := gateway.NewHandler(gatewaySvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	rateLimiter := middleware.OpRateLimit(d.Cache, d.Cfg.OpRatePerMin)

	RegisterMemberRoutes(api, memberHandler)
	RegisterLedgerRoutes(api, ledgerHandler, rateLimiter)
	RegisterCreditRoutes(api, creditsHandler, rateLimiter)
	RegisterLoanRoutes(api, loanHandler, rateLimiter)
	RegisterGatewayRoutes(api, gatewayHandler, rateLimiter)

	return nil
}
