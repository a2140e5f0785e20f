package services

import (
	"context"
	"sync"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"github.com/x402-escrow/backend/internal/escrow"
	"github.com/x402-escrow/backend/internal/events"
	"github.com/x402-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

const t0 = int64(1_700_000_000)

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, stream string, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stream != events.StreamEscrow {
		return nil
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	store  *repositories.MemoryStore
	audit  *repositories.MemoryAuditRepo
	pub    *recorder
	escrow *EscrowService
	now    int64
	seller escrow.Identity
	payer  escrow.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  repositories.NewMemoryStore(),
		audit:  repositories.NewMemoryAuditRepo(),
		pub:    &recorder{},
		now:    t0,
		seller: solana.NewWallet().PublicKey(),
		payer:  solana.NewWallet().PublicKey(),
	}
	engine := escrow.NewEngine(solana.MustPublicKeyFromBase58(escrow.DefaultProgramID), f.store)
	f.escrow = NewEscrowService(engine, f.store, f.audit, f.pub, nil, zap.NewNop())
	f.escrow.SetNowFunc(func() int64 { return f.now })

	for _, id := range []escrow.Identity{f.seller, f.payer} {
		_, err := f.store.Credit(context.Background(), id, 1_000_000, "seed:"+id.String())
		require.NoError(t, err)
	}
	return f
}
