package services

import (
	"context"
	"fmt"

	"github.com/x402-escrow/backend/internal/escrow"
	"github.com/x402-escrow/backend/internal/events"
	"github.com/x402-escrow/backend/internal/metrics"
	"github.com/x402-escrow/backend/internal/models"
	"github.com/x402-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// FundingService credits ledger balances from deposits made outside the
// escrow, such as transfers to the TON funding wallet.
type FundingService struct {
	store     repositories.CustodyStore
	auditRepo repositories.AuditLogger
	publisher events.Publisher
	metrics   *metrics.EscrowMetrics
	log       *zap.Logger
}

func NewFundingService(
	store repositories.CustodyStore,
	auditRepo repositories.AuditLogger,
	publisher events.Publisher,
	m *metrics.EscrowMetrics,
	log *zap.Logger,
) *FundingService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &FundingService{store: store, auditRepo: auditRepo, publisher: publisher, metrics: m, log: log}
}

// Credit adds amount to identity once per ref. It reports whether the
// credit was applied now.
func (s *FundingService) Credit(ctx context.Context, identity escrow.Identity, amount uint64, ref, source string) (bool, error) {
	if amount == 0 {
		return false, fmt.Errorf("credit %s: %w", ref, escrow.ErrInvalidAmount)
	}
	applied, err := s.store.Credit(ctx, identity, amount, ref)
	if err != nil {
		return false, fmt.Errorf("credit %s: %w", ref, err)
	}
	if !applied {
		s.log.Debug("credit already applied", zap.String("ref", ref))
		return false, nil
	}

	s.metrics.ObserveCredit(amount)

	id := identity.String()
	if err := s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "ledger_credited",
		EntityType: "ledger_account",
		EntityID:   &id,
		Meta:       map[string]any{"amount": amount, "ref": ref, "source": source},
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("ref", ref), zap.Error(err))
	}

	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type:       events.EventLedgerCredited,
		Recipients: []string{id},
		Payload: map[string]any{
			"identity": id,
			"amount":   amount,
			"ref":      ref,
			"source":   source,
		},
	})

	s.log.Info("ledger credited",
		zap.String("identity", id),
		zap.Uint64("amount", amount),
		zap.String("ref", ref),
		zap.String("source", source),
	)
	return true, nil
}

func (s *FundingService) Balance(ctx context.Context, identity escrow.Identity) (uint64, error) {
	return s.store.Balance(ctx, identity)
}
