package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/x402-escrow/backend/internal/config"
	"github.com/x402-escrow/backend/internal/db"
	"github.com/x402-escrow/backend/internal/events"
	"github.com/x402-escrow/backend/internal/services"
	"go.uber.org/zap"
)

// notify-bridge forwards every escrow event from redis to NOTIFY_WEBHOOK_URL.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.NotifyWebhookURL == "" {
		log.Fatal("NOTIFY_WEBHOOK_URL is required")
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	webhook := services.NewWebhookClient(cfg.NotifyWebhookURL, cfg.NotifyWebhookTimeout, log)

	// one delivery at a time keeps webhook order equal to event order
	queue := make(chan events.Event, 256)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-queue:
				log.Info("forwarding event", zap.String("type", ev.Type), zap.Strings("recipients", ev.Recipients))
				webhook.Forward(ctx, ev)
			}
		}
	}()

	err = subscriber.Subscribe(ctx, events.StreamEscrow, func(ev events.Event) {
		select {
		case queue <- ev:
		default:
			log.Warn("forward queue full, dropping event", zap.String("type", ev.Type))
		}
	})
	if err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	log.Info("notify-bridge started", zap.String("webhook", cfg.NotifyWebhookURL))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
