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
	"github.com/x402-escrow/backend/internal/ton"
	"github.com/xssnick/tonutils-go/address"
	"go.uber.org/zap"
)

const pollInterval = 5 * time.Second

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TONFundingWalletAddress == "" {
		log.Fatal("TON_FUNDING_WALLET_ADDRESS is required")
	}
	wallet, err := address.ParseAddr(cfg.TONFundingWalletAddress)
	if err != nil {
		log.Fatal("invalid TON_FUNDING_WALLET_ADDRESS", zap.String("addr", cfg.TONFundingWalletAddress), zap.Error(err))
	}
	if cfg.StorageDriver == config.StorageDriverMemory {
		log.Fatal("ton-indexer needs shared storage, STORAGE_DRIVER=memory is process-local")
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

	store := repositories.NewEscrowRepo(pool)
	funding := services.NewFundingService(store, repositories.NewAuditRepo(pool), events.NewRedisPublisher(rdb, log), metrics.Escrow(), log)

	api, err := ton.Connect(ctx, cfg.TONNetwork, cfg.LiteServerHost, cfg.LiteServerPort, cfg.LiteServerKey, log)
	if err != nil {
		log.Fatal("failed to connect to TON network", zap.Error(err))
	}

	scanner := ton.NewScanner(api, wallet, rdb, log)
	scanner.InitCursor(ctx)

	log.Info("TON indexer started",
		zap.String("funding_wallet", wallet.String()),
		zap.String("network", cfg.TONNetwork),
	)

	handle := func(ctx context.Context, tr ton.Transfer) error {
		identity, ok := ton.ParseFundingMemo(tr.Comment)
		if !ok {
			log.Debug("transfer without funding memo, skipping",
				zap.Uint64("lt", tr.LT),
				zap.String("from", tr.From),
				zap.String("comment", tr.Comment),
			)
			return nil
		}
		_, err := funding.Credit(ctx, identity, tr.Amount, tr.Ref(), "ton:"+tr.From)
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := scanner.Poll(ctx, handle); err != nil {
				log.Error("poll cycle failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down TON indexer")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
