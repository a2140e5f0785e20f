package repositories

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402-escrow/backend/internal/db"
	"github.com/x402-escrow/backend/internal/escrow"
	"github.com/x402-escrow/backend/migrations"
	"go.uber.org/zap"
)

// newTestRepo connects to POSTGRES_TEST_DSN, migrates and empties the
// escrow tables. The database is wiped, so point it at a scratch database.
func newTestRepo(t *testing.T) (*EscrowRepo, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	log := zap.NewNop()

	pool, err := db.NewPostgresPool(ctx, dsn, log)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.RunMigrations(ctx, pool, migrations.FS, log))
	_, err = pool.Exec(ctx, `TRUNCATE escrow_records, ledger_accounts, ledger_credits`)
	require.NoError(t, err)
	return NewEscrowRepo(pool), pool
}

func pgRecord(seller escrow.Identity, requestID string, amount uint64, expiresAt int64) *escrow.Record {
	return &escrow.Record{Seller: seller, RequestID: requestID, Amount: amount, ExpiresAt: expiresAt}
}

func TestEscrowRepo_CreateCollisionAndDeposit(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	seller, addr := newID(), newID()

	ok, err := r.Credit(ctx, seller, 100, "seed:"+seller.String())
	require.NoError(t, err)
	require.True(t, ok)

	err = r.WithinTx(ctx, func(tx escrow.Custody) error {
		return tx.CreateRecord(ctx, addr, pgRecord(seller, "req", 10, 1000), seller, 30)
	})
	require.NoError(t, err)

	err = r.WithinTx(ctx, func(tx escrow.Custody) error {
		return tx.CreateRecord(ctx, addr, pgRecord(seller, "req", 10, 1000), seller, 30)
	})
	require.ErrorIs(t, err, escrow.ErrAddressInUse)

	bal, err := r.Balance(ctx, seller)
	require.NoError(t, err)
	assert.EqualValues(t, 70, bal)
	bal, err = r.Balance(ctx, addr)
	require.NoError(t, err)
	assert.EqualValues(t, 30, bal)

	var loaded *escrow.Record
	err = r.WithinTx(ctx, func(tx escrow.Custody) error {
		rec, err := tx.LoadRecord(ctx, addr)
		loaded = rec
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "req", loaded.RequestID)
	assert.EqualValues(t, 10, loaded.Amount)
}

func TestEscrowRepo_GuardedDebitRollsBack(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	seller, payer, addr := newID(), newID(), newID()

	_, err := r.Credit(ctx, payer, 5, "seed:"+payer.String())
	require.NoError(t, err)

	err = r.WithinTx(ctx, func(tx escrow.Custody) error {
		if err := tx.CreateRecord(ctx, addr, pgRecord(seller, "req", 10, 1000), seller, 0); err != nil {
			return err
		}
		return tx.Transfer(ctx, payer, addr, 10)
	})
	require.ErrorIs(t, err, escrow.ErrInsufficientFunds)

	bal, err := r.Balance(ctx, payer)
	require.NoError(t, err)
	assert.EqualValues(t, 5, bal)

	// the create in the failed transaction was rolled back too
	err = r.WithinTx(ctx, func(tx escrow.Custody) error {
		_, err := tx.LoadRecord(ctx, addr)
		return err
	})
	require.ErrorIs(t, err, escrow.ErrRecordNotFound)
}

func TestEscrowRepo_CloseSweepsRemainingBalance(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	seller, payer, addr := newID(), newID(), newID()

	_, err := r.Credit(ctx, seller, 40, "seed:"+seller.String())
	require.NoError(t, err)
	_, err = r.Credit(ctx, payer, 10, "seed:"+payer.String())
	require.NoError(t, err)

	err = r.WithinTx(ctx, func(tx escrow.Custody) error {
		if err := tx.CreateRecord(ctx, addr, pgRecord(seller, "req", 10, 1000), seller, 40); err != nil {
			return err
		}
		return tx.Transfer(ctx, payer, addr, 10)
	})
	require.NoError(t, err)

	err = r.WithinTx(ctx, func(tx escrow.Custody) error {
		if err := tx.Withdraw(ctx, addr, seller, 10); err != nil {
			return err
		}
		return tx.CloseRecord(ctx, addr, seller)
	})
	require.NoError(t, err)

	bal, err := r.Balance(ctx, seller)
	require.NoError(t, err)
	assert.EqualValues(t, 50, bal)
	bal, err = r.Balance(ctx, addr)
	require.NoError(t, err)
	assert.Zero(t, bal)

	err = r.WithinTx(ctx, func(tx escrow.Custody) error {
		return tx.CloseRecord(ctx, addr, seller)
	})
	require.ErrorIs(t, err, escrow.ErrRecordNotFound)
}

func TestEscrowRepo_CreditIsIdempotent(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	id := newID()

	ok, err := r.Credit(ctx, id, 7, "ton:1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Credit(ctx, id, 7, "ton:1")
	require.NoError(t, err)
	assert.False(t, ok)

	bal, err := r.Balance(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 7, bal)
}

func TestEscrowRepo_ListExpiredPages(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	seller := newID()

	want := map[escrow.Identity]bool{}
	for i := 0; i < 5; i++ {
		addr := newID()
		err := r.WithinTx(ctx, func(tx escrow.Custody) error {
			return tx.CreateRecord(ctx, addr, pgRecord(seller, addr.String()[:8], 1, int64(10+i/2)), seller, 0)
		})
		require.NoError(t, err)
		want[addr] = true
	}

	seen := map[escrow.Identity]bool{}
	var after *ExpiredCursor
	for {
		page, err := r.ListExpired(ctx, 100, false, after, 2)
		require.NoError(t, err)
		for _, e := range page {
			require.False(t, seen[e.Address], "address listed twice")
			require.False(t, after.Before(e.Record.ExpiresAt, e.Address.String()), "page went backwards")
			seen[e.Address] = true
		}
		if len(page) < 2 {
			break
		}
		after = CursorAfter(page[len(page)-1])
	}
	assert.Equal(t, want, seen)
}

func TestEscrowRepo_ConcurrentReleaseAndRefund(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	programID := solana.MustPublicKeyFromBase58(escrow.DefaultProgramID)
	engine := escrow.NewEngine(programID, r)
	engine.SetNowFunc(func() int64 { return 100 })

	seller, payer := newID(), newID()
	_, err := r.Credit(ctx, payer, 50, "seed:"+payer.String())
	require.NoError(t, err)

	_, err = engine.Create(ctx, seller, "race", 50, 200)
	require.NoError(t, err)
	_, err = engine.Deposit(ctx, payer, seller, "race")
	require.NoError(t, err)
	engine.SetNowFunc(func() int64 { return 300 })

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = engine.Release(ctx, seller, "race")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = engine.Refund(ctx, payer, seller, "race")
	}()
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, escrow.ErrRecordNotFound), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	sellerBal, err := r.Balance(ctx, seller)
	require.NoError(t, err)
	payerBal, err := r.Balance(ctx, payer)
	require.NoError(t, err)
	assert.EqualValues(t, 50, sellerBal+payerBal)
}
