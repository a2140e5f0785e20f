package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/x402-escrow/backend/internal/config"
	"github.com/x402-escrow/backend/internal/db"
	"github.com/x402-escrow/backend/internal/escrow"
	"github.com/x402-escrow/backend/internal/events"
	apphttp "github.com/x402-escrow/backend/internal/http"
	"github.com/x402-escrow/backend/internal/http/handlers"
	"github.com/x402-escrow/backend/internal/metrics"
	"github.com/x402-escrow/backend/internal/repositories"
	"github.com/x402-escrow/backend/internal/services"
	"github.com/x402-escrow/backend/internal/ton"
	"github.com/x402-escrow/backend/migrations"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	programID, err := cfg.ProgramID()
	if err != nil {
		log.Fatal("invalid program id", zap.Error(err))
	}

	checks := map[string]handlers.Pinger{}

	// Storage
	var (
		store     repositories.CustodyStore
		auditRepo repositories.AuditLogger
	)
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		store = repositories.NewMemoryStore()
		auditRepo = repositories.NewMemoryAuditRepo()
	default:
		pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
		if err != nil {
			log.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()

		if err := db.RunMigrations(ctx, pool, migrationsFS(cfg.MigrationsDir), log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
		store = repositories.NewEscrowRepo(pool)
		auditRepo = repositories.NewAuditRepo(pool)
		checks["postgres"] = pool.Ping
	}

	// Redis: nonces, events, rate limit. The memory driver runs without it.
	var (
		rdb        *redis.Client
		challenges repositories.ChallengeStore
		publisher  events.Publisher
		subscriber events.Subscriber
	)
	rdb, err = db.NewRedisClient(ctx, cfg.RedisURL, log)
	switch {
	case err == nil:
		defer rdb.Close()
		challenges = repositories.NewChallengeRepo(rdb)
		publisher = events.NewRedisPublisher(rdb, log)
		subscriber = events.NewRedisSubscriber(rdb, log)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	case cfg.StorageDriver == config.StorageDriverMemory:
		log.Warn("redis unavailable, using in-process events and nonces", zap.Error(err))
		rdb = nil
		bus := events.NewMemoryBus()
		challenges = repositories.NewMemoryChallengeRepo()
		publisher, subscriber = bus, bus
	default:
		log.Fatal("failed to connect to redis", zap.Error(err))
	}

	// Core
	engine := escrow.NewEngine(programID, store)
	engine.SetStorageDeposit(cfg.StorageDeposit)
	m := metrics.Escrow()

	// Services
	escrowService := services.NewEscrowService(engine, store, auditRepo, publisher, m, log)
	fundingService := services.NewFundingService(store, auditRepo, publisher, m, log)
	authService := services.NewAuthService(challenges, ton.NewVerifier(cfg.TONProofAllowedDomains), cfg, log)

	// Handlers
	healthHandler := handlers.NewHealthHandler(checks)
	authHandler := handlers.NewAuthHandler(authService, cfg, log)
	accountHandler := handlers.NewAccountHandler(fundingService, log)
	escrowHandler := handlers.NewEscrowHandler(escrowService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to events", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, healthHandler, authHandler, accountHandler, escrowHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.String("storage", cfg.StorageDriver),
		zap.String("program_id", programID.String()),
		zap.Uint64("storage_deposit", cfg.StorageDeposit),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

// migrationsFS prefers an on-disk directory so migrations can be patched
// without a rebuild.
func migrationsFS(dir string) fs.FS {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}
