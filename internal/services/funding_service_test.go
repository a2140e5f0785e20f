package services

import (
	"context"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402-escrow/backend/internal/escrow"
	"github.com/x402-escrow/backend/internal/events"
	"github.com/x402-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

func TestFundingService_Credit(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryStore()
	pub := &recorder{}
	svc := NewFundingService(store, repositories.NewMemoryAuditRepo(), pub, nil, zap.NewNop())
	id := solana.NewWallet().PublicKey()

	applied, err := svc.Credit(ctx, id, 500, "ton:1", "ton:EQ...")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.Credit(ctx, id, 500, "ton:1", "ton:EQ...")
	require.NoError(t, err)
	assert.False(t, applied)

	bal, err := svc.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), bal)

	assert.Equal(t, []string{events.EventLedgerCredited}, pub.types())
	assert.Equal(t, []string{id.String()}, pub.last().Recipients)

	_, err = svc.Credit(ctx, id, 0, "ton:2", "ton")
	require.ErrorIs(t, err, escrow.ErrInvalidAmount)
}
