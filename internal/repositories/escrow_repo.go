package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	solana "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/x402-escrow/backend/internal/escrow"
)

const pgCheckViolation = "23514"

// EscrowRepo is the Postgres custody store: escrow records keyed by their
// derived address plus the native ledger both users and records hold
// value in.
type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

func (r *EscrowRepo) WithinTx(ctx context.Context, fn func(tx escrow.Custody) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgCustody{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgCustody struct {
	tx pgx.Tx
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func payerColumn(rec *escrow.Record) *string {
	if rec.Payer.IsZero() {
		return nil
	}
	s := rec.Payer.String()
	return &s
}

func mapLedgerErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation {
		return ErrBalanceOverflow
	}
	return err
}

func (c *pgCustody) CreateRecord(ctx context.Context, addr escrow.Identity, rec *escrow.Record, funder escrow.Identity, storageDeposit uint64) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	tag, err := c.tx.Exec(ctx, `
		INSERT INTO escrow_records (address, seller, request_id, amount, expires_at, is_paid, payer, data)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`, addr.String(), rec.Seller.String(), rec.RequestID, u64(rec.Amount), rec.ExpiresAt, rec.IsPaid, payerColumn(rec), data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrAddressInUse
	}
	return c.Transfer(ctx, funder, addr, storageDeposit)
}

func (c *pgCustody) LoadRecord(ctx context.Context, addr escrow.Identity) (*escrow.Record, error) {
	var data []byte
	err := c.tx.QueryRow(ctx, `
		SELECT data FROM escrow_records WHERE address = $1 FOR UPDATE
	`, addr.String()).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, escrow.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec escrow.Record
	if err := rec.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *pgCustody) SaveRecord(ctx context.Context, addr escrow.Identity, rec *escrow.Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	tag, err := c.tx.Exec(ctx, `
		UPDATE escrow_records SET data = $1, is_paid = $2, payer = $3, updated_at = now()
		WHERE address = $4
	`, data, rec.IsPaid, payerColumn(rec), addr.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrRecordNotFound
	}
	return nil
}

func (c *pgCustody) debit(ctx context.Context, id escrow.Identity, amount uint64) error {
	tag, err := c.tx.Exec(ctx, `
		UPDATE ledger_accounts SET balance = balance - $2::numeric, updated_at = now()
		WHERE identity = $1 AND balance >= $2::numeric
	`, id.String(), u64(amount))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrInsufficientFunds
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func credit(ctx context.Context, q execer, id escrow.Identity, amount uint64) error {
	_, err := q.Exec(ctx, `
		INSERT INTO ledger_accounts (identity, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (identity) DO UPDATE
		SET balance = ledger_accounts.balance + EXCLUDED.balance, updated_at = now()
	`, id.String(), u64(amount))
	return mapLedgerErr(err)
}

func (c *pgCustody) Transfer(ctx context.Context, from, to escrow.Identity, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := c.debit(ctx, from, amount); err != nil {
		return err
	}
	return credit(ctx, c.tx, to, amount)
}

func (c *pgCustody) Withdraw(ctx context.Context, addr, to escrow.Identity, amount uint64) error {
	var exists bool
	err := c.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM escrow_records WHERE address = $1)`, addr.String()).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return escrow.ErrRecordNotFound
	}
	return c.Transfer(ctx, addr, to, amount)
}

func (c *pgCustody) CloseRecord(ctx context.Context, addr, recipient escrow.Identity) error {
	tag, err := c.tx.Exec(ctx, `DELETE FROM escrow_records WHERE address = $1`, addr.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrRecordNotFound
	}

	var balText string
	err = c.tx.QueryRow(ctx, `
		DELETE FROM ledger_accounts WHERE identity = $1 RETURNING balance::text
	`, addr.String()).Scan(&balText)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	remaining, err := strconv.ParseUint(balText, 10, 64)
	if err != nil {
		return fmt.Errorf("parse record balance %q: %w", balText, err)
	}
	if remaining == 0 {
		return nil
	}
	return credit(ctx, c.tx, recipient, remaining)
}

func (r *EscrowRepo) Balance(ctx context.Context, id escrow.Identity) (uint64, error) {
	var balText string
	err := r.pool.QueryRow(ctx, `
		SELECT balance::text FROM ledger_accounts WHERE identity = $1
	`, id.String()).Scan(&balText)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(balText, 10, 64)
}

func (r *EscrowRepo) Credit(ctx context.Context, id escrow.Identity, amount uint64, ref string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO ledger_credits (ref, identity, amount) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (ref) DO NOTHING
	`, ref, id.String(), u64(amount))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := credit(ctx, tx, id, amount); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *EscrowRepo) ListExpired(ctx context.Context, now int64, paid bool, after *ExpiredCursor, limit int) ([]escrow.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var afterExpires *int64
	var afterAddr *string
	if after != nil {
		afterExpires, afterAddr = &after.ExpiresAt, &after.Address
	}
	// COLLATE "C" keeps the address order byte-wise, matching the cursor.
	rows, err := r.pool.Query(ctx, `
		SELECT address, data FROM escrow_records
		WHERE is_paid = $1 AND expires_at <= $2
		  AND ($3::bigint IS NULL OR (expires_at, address COLLATE "C") > ($3::bigint, $4::text COLLATE "C"))
		ORDER BY expires_at ASC, address COLLATE "C" ASC
		LIMIT $5
	`, paid, now, afterExpires, afterAddr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []escrow.Entry
	for rows.Next() {
		var addrText string
		var data []byte
		if err := rows.Scan(&addrText, &data); err != nil {
			return nil, err
		}
		addr, err := solana.PublicKeyFromBase58(addrText)
		if err != nil {
			return nil, fmt.Errorf("stored escrow address %q: %w", addrText, err)
		}
		var rec escrow.Record
		if err := rec.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		out = append(out, escrow.Entry{Address: addr, Record: &rec})
	}
	return out, rows.Err()
}
