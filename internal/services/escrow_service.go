package services

import (
	"context"
	"time"

	"github.com/x402-escrow/backend/internal/escrow"
	"github.com/x402-escrow/backend/internal/events"
	"github.com/x402-escrow/backend/internal/metrics"
	"github.com/x402-escrow/backend/internal/models"
	"github.com/x402-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

const (
	OpCreate  = "create"
	OpDeposit = "deposit"
	OpRelease = "release"
	OpRefund  = "refund"
)

type EscrowService struct {
	engine    *escrow.Engine
	store     repositories.CustodyStore
	auditRepo repositories.AuditLogger
	publisher events.Publisher
	metrics   *metrics.EscrowMetrics
	log       *zap.Logger
	now       func() int64
}

func NewEscrowService(
	engine *escrow.Engine,
	store repositories.CustodyStore,
	auditRepo repositories.AuditLogger,
	publisher events.Publisher,
	m *metrics.EscrowMetrics,
	log *zap.Logger,
) *EscrowService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &EscrowService{
		engine:    engine,
		store:     store,
		auditRepo: auditRepo,
		publisher: publisher,
		metrics:   m,
		log:       log,
		now:       func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc moves the service and its engine to another clock.
func (s *EscrowService) SetNowFunc(now func() int64) {
	s.engine.SetNowFunc(now)
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	s.now = now
}

func (s *EscrowService) Now() int64 { return s.now() }

// Create opens a record. The caller is the seller.
func (s *EscrowService) Create(ctx context.Context, seller escrow.Identity, requestID string, amount uint64, expiresAt int64) (*escrow.Entry, error) {
	entry, err := s.engine.Create(ctx, seller, requestID, amount, expiresAt)
	if err != nil {
		return nil, s.fail(OpCreate, err, zap.String("seller", seller.String()), zap.String("request_id", requestID))
	}

	s.metrics.ObserveTransition(OpCreate, "storage_in", s.engine.StorageDeposit())
	s.record(ctx, OpCreate, seller, "seller", entry, events.EventEscrowCreated, seller)
	s.log.Info("escrow created",
		zap.String("address", entry.Address.String()),
		zap.String("seller", seller.String()),
		zap.String("request_id", requestID),
		zap.Uint64("amount", amount),
		zap.Int64("expires_at", expiresAt),
	)
	return entry, nil
}

// Deposit pays a record from the payer's balance.
func (s *EscrowService) Deposit(ctx context.Context, payer, seller escrow.Identity, requestID string) (*escrow.Entry, error) {
	entry, err := s.engine.Deposit(ctx, payer, seller, requestID)
	if err != nil {
		return nil, s.fail(OpDeposit, err, zap.String("payer", payer.String()), zap.String("seller", seller.String()), zap.String("request_id", requestID))
	}

	s.metrics.ObserveTransition(OpDeposit, "in", entry.Record.Amount)
	s.record(ctx, OpDeposit, payer, "payer", entry, events.EventEscrowDeposited, seller, payer)
	s.log.Info("escrow deposited",
		zap.String("address", entry.Address.String()),
		zap.String("payer", payer.String()),
		zap.Uint64("amount", entry.Record.Amount),
	)
	return entry, nil
}

// Release settles a paid record to its seller. caller is whoever asked for
// it and only lands in the audit trail.
func (s *EscrowService) Release(ctx context.Context, caller, seller escrow.Identity, requestID string) (*escrow.Entry, error) {
	entry, err := s.engine.Release(ctx, seller, requestID)
	if err != nil {
		return nil, s.fail(OpRelease, err, zap.String("caller", caller.String()), zap.String("seller", seller.String()), zap.String("request_id", requestID))
	}

	s.metrics.ObserveTransition(OpRelease, "out", entry.Record.Amount)
	s.record(ctx, OpRelease, caller, actorType(caller, entry.Record), entry, events.EventEscrowReleased, entry.Record.Seller, entry.Record.Payer)
	s.log.Info("escrow released",
		zap.String("address", entry.Address.String()),
		zap.String("seller", entry.Record.Seller.String()),
		zap.Uint64("amount", entry.Record.Amount),
	)
	return entry, nil
}

// Refund returns an expired payment to its payer.
func (s *EscrowService) Refund(ctx context.Context, payer, seller escrow.Identity, requestID string) (*escrow.Entry, error) {
	entry, err := s.engine.Refund(ctx, payer, seller, requestID)
	if err != nil {
		return nil, s.fail(OpRefund, err, zap.String("payer", payer.String()), zap.String("seller", seller.String()), zap.String("request_id", requestID))
	}

	s.metrics.ObserveTransition(OpRefund, "out", entry.Record.Amount)
	s.record(ctx, OpRefund, payer, "payer", entry, events.EventEscrowRefunded, entry.Record.Seller, payer)
	s.log.Info("escrow refunded",
		zap.String("address", entry.Address.String()),
		zap.String("payer", payer.String()),
		zap.Uint64("amount", entry.Record.Amount),
	)
	return entry, nil
}

func (s *EscrowService) Get(ctx context.Context, seller escrow.Identity, requestID string) (*escrow.Entry, error) {
	return s.engine.Get(ctx, seller, requestID)
}

func (s *EscrowService) GetByAddress(ctx context.Context, addr escrow.Identity) (*escrow.Entry, error) {
	return s.engine.GetByAddress(ctx, addr)
}

// Address derives the record address without touching storage.
func (s *EscrowService) Address(seller escrow.Identity, requestID string) (escrow.Identity, error) {
	return s.engine.Address(seller, requestID)
}

func (s *EscrowService) Balance(ctx context.Context, id escrow.Identity) (uint64, error) {
	return s.store.Balance(ctx, id)
}

// History returns the audit trail of the record at addr, newest first.
func (s *EscrowService) History(ctx context.Context, addr escrow.Identity, limit, offset int) ([]models.AuditLog, error) {
	return s.auditRepo.GetByEntity(ctx, "escrow", addr.String(), limit, offset)
}

func (s *EscrowService) fail(op string, err error, fields ...zap.Field) error {
	code := escrow.CodeOf(err)
	s.metrics.ObserveFailure(op, code)
	fields = append(fields, zap.String("op", op), zap.String("code", code), zap.Error(err))
	if escrow.KindOf(err) == escrow.KindInternal {
		s.log.Error("escrow operation failed", fields...)
	} else {
		s.log.Debug("escrow operation rejected", fields...)
	}
	return err
}

// record writes the audit entry and publishes the event of a committed
// transition. Both are best effort: the transition already happened.
func (s *EscrowService) record(ctx context.Context, op string, actor escrow.Identity, actorKind string, entry *escrow.Entry, eventType string, recipients ...escrow.Identity) {
	addr := entry.Address.String()
	actorStr := actor.String()
	payload := escrowPayload(entry)

	if err := s.auditRepo.Log(ctx, models.AuditLog{
		Actor:      &actorStr,
		ActorType:  actorKind,
		Action:     "escrow_" + op,
		EntityType: "escrow",
		EntityID:   &addr,
		Meta:       payload,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("op", op), zap.String("address", addr), zap.Error(err))
	}

	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type:       eventType,
		Recipients: identityList(recipients...),
		Payload:    payload,
	})
}

func escrowPayload(entry *escrow.Entry) map[string]any {
	rec := entry.Record
	p := map[string]any{
		"address":    entry.Address.String(),
		"seller":     rec.Seller.String(),
		"request_id": rec.RequestID,
		"amount":     rec.Amount,
		"expires_at": rec.ExpiresAt,
	}
	if !rec.Payer.IsZero() {
		p["payer"] = rec.Payer.String()
	}
	return p
}

func identityList(ids ...escrow.Identity) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[escrow.Identity]bool, len(ids))
	for _, id := range ids {
		if id.IsZero() || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id.String())
	}
	return out
}

func actorType(caller escrow.Identity, rec *escrow.Record) string {
	switch {
	case caller.Equals(rec.Seller):
		return "seller"
	case caller.Equals(rec.Payer):
		return "payer"
	default:
		return "facilitator"
	}
}
