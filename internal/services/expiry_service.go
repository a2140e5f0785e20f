package services

import (
	"context"
	"fmt"
	"time"

	"github.com/x402-escrow/backend/internal/escrow"
	"github.com/x402-escrow/backend/internal/events"
	"github.com/x402-escrow/backend/internal/metrics"
	"github.com/x402-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// ExpiryService tells parties about records whose deadline passed. It never
// changes a record: paid ones are refundable by the payer, unpaid ones are
// only reported to the seller.
type ExpiryService struct {
	store     repositories.CustodyStore
	marker    repositories.OnceMarker
	publisher events.Publisher
	metrics   *metrics.EscrowMetrics
	log       *zap.Logger
	batchSize int
	noticeTTL time.Duration
	now       func() int64
}

func NewExpiryService(
	store repositories.CustodyStore,
	marker repositories.OnceMarker,
	publisher events.Publisher,
	m *metrics.EscrowMetrics,
	log *zap.Logger,
	batchSize int,
	noticeTTL time.Duration,
) *ExpiryService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpiryService{
		store:     store,
		marker:    marker,
		publisher: publisher,
		metrics:   m,
		log:       log,
		batchSize: batchSize,
		noticeTTL: noticeTTL,
		now:       func() int64 { return time.Now().Unix() },
	}
}

// ScanResult counts the notices one scan published.
type ScanResult struct {
	Refundable int
	Stale      int
}

// Scan publishes a notice for every expired record not noticed before.
// Expired records stay in the store until closed, so each scan pages
// through all of them in batches of batchSize.
func (s *ExpiryService) Scan(ctx context.Context) (ScanResult, error) {
	now := s.now()
	var res ScanResult

	n, err := s.scan(ctx, now, true, events.EventEscrowRefundable)
	res.Refundable = n
	if err != nil {
		return res, fmt.Errorf("scan expired paid: %w", err)
	}
	n, err = s.scan(ctx, now, false, events.EventEscrowStale)
	res.Stale = n
	if err != nil {
		return res, fmt.Errorf("scan expired unpaid: %w", err)
	}
	return res, nil
}

func (s *ExpiryService) scan(ctx context.Context, now int64, paid bool, kind string) (int, error) {
	var (
		after *repositories.ExpiredCursor
		sent  int
	)
	for {
		page, err := s.store.ListExpired(ctx, now, paid, after, s.batchSize)
		if err != nil {
			return sent, err
		}
		for _, e := range page {
			to := e.Record.Seller
			if paid {
				to = e.Record.Payer
			}
			ok, err := s.notify(ctx, kind, e, to)
			if err != nil {
				return sent, err
			}
			if ok {
				sent++
			}
		}
		if len(page) < s.batchSize {
			return sent, nil
		}
		after = repositories.CursorAfter(page[len(page)-1])
	}
}

func (s *ExpiryService) notify(ctx context.Context, kind string, e escrow.Entry, to escrow.Identity) (bool, error) {
	first, err := s.marker.MarkOnce(ctx, kind+":"+e.Address.String(), s.noticeTTL)
	if err != nil {
		return false, fmt.Errorf("mark notice %s: %w", e.Address, err)
	}
	if !first {
		return false, nil
	}

	if err := s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type:       kind,
		Recipients: identityList(to),
		Payload:    escrowPayload(&e),
	}); err != nil {
		s.log.Warn("notice publish failed", zap.String("kind", kind), zap.String("address", e.Address.String()), zap.Error(err))
	}
	s.metrics.ObserveNotice(kind)
	s.log.Info("expiry notice sent",
		zap.String("kind", kind),
		zap.String("address", e.Address.String()),
		zap.String("to", to.String()),
	)
	return true, nil
}
