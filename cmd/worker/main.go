package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/x402-escrow/backend/internal/config"
	"github.com/x402-escrow/backend/internal/db"
	"github.com/x402-escrow/backend/internal/events"
	"github.com/x402-escrow/backend/internal/metrics"
	"github.com/x402-escrow/backend/internal/repositories"
	"github.com/x402-escrow/backend/internal/services"
	"go.uber.org/zap"
)

const noticeMarkerPrefix = "worker:notice:"

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.StorageDriver == config.StorageDriverMemory {
		log.Fatal("worker needs shared storage, STORAGE_DRIVER=memory is process-local")
	}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	expiry := services.NewExpiryService(
		repositories.NewEscrowRepo(pool),
		repositories.NewRedisMarker(rdb, noticeMarkerPrefix),
		events.NewRedisPublisher(rdb, log),
		metrics.Escrow(),
		log,
		cfg.WorkerBatchSize,
		cfg.NoticeTTL,
	)

	log.Info("worker started", zap.Duration("interval", cfg.WorkerScanInterval))

	ticker := time.NewTicker(cfg.WorkerScanInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runScan(ctx, expiry, log)
	for {
		select {
		case <-ticker.C:
			runScan(ctx, expiry, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runScan(ctx context.Context, expiry *services.ExpiryService, log *zap.Logger) {
	res, err := expiry.Scan(ctx)
	if err != nil {
		log.Error("expiry scan failed", zap.Error(err))
		return
	}
	if res.Refundable > 0 || res.Stale > 0 {
		log.Info("expiry scan done", zap.Int("refundable", res.Refundable), zap.Int("stale", res.Stale))
	}
}
