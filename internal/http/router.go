package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/x402-escrow/backend/internal/config"
	"github.com/x402-escrow/backend/internal/http/handlers"
	"github.com/x402-escrow/backend/internal/middleware"
	"go.uber.org/zap"
)

// SetupRouter mounts every route. rdb may be nil, which disables rate
// limiting.
func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	healthHandler *handlers.HealthHandler,
	authHandler *handlers.AuthHandler,
	accountHandler *handlers.AccountHandler,
	escrowHandler *handlers.EscrowHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", healthHandler.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	// Auth (public)
	api.Post("/auth/challenge", authHandler.Challenge)
	api.Post("/auth/verify", authHandler.Verify)
	api.Post("/auth/ton-proof", authHandler.TONProof)

	// Ledger (public)
	api.Get("/accounts/:identity", accountHandler.GetAccount)

	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	protected.Get("/me", accountHandler.GetMe)

	// Escrow
	protected.Post("/escrows", escrowHandler.Create)
	protected.Get("/escrows", escrowHandler.Lookup)
	protected.Post("/escrows/deposit", escrowHandler.Deposit)
	protected.Post("/escrows/release", escrowHandler.Release)
	protected.Post("/escrows/refund", escrowHandler.Refund)
	protected.Get("/escrows/:address", escrowHandler.GetByAddress)
	protected.Get("/escrows/:address/history", escrowHandler.History)

	// WebSocket
	if wsHub != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(wsHub.HandleWS))
	}
}
