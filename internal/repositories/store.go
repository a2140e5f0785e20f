package repositories

import (
	"context"
	"errors"

	"github.com/x402-escrow/backend/internal/escrow"
)

var ErrBalanceOverflow = errors.New("ledger: balance overflow")

// CustodyStore is the custody store and native ledger the services run on.
type CustodyStore interface {
	escrow.Store

	// Balance returns the native value held by id.
	Balance(ctx context.Context, id escrow.Identity) (uint64, error)
	// Credit adds externally deposited value to id. It reports false
	// without changing anything when ref was already credited.
	Credit(ctx context.Context, id escrow.Identity, amount uint64, ref string) (bool, error)
	// ListExpired returns live records whose deadline is at or before now,
	// ordered by (ExpiresAt, Address). A non-nil after resumes past the
	// last entry of a previous page.
	ListExpired(ctx context.Context, now int64, paid bool, after *ExpiredCursor, limit int) ([]escrow.Entry, error)
}

// ExpiredCursor is a keyset position in the ListExpired order. Addresses
// compare as base58 text, byte by byte.
type ExpiredCursor struct {
	ExpiresAt int64
	Address   string
}

// CursorAfter returns the cursor that resumes after e.
func CursorAfter(e escrow.Entry) *ExpiredCursor {
	return &ExpiredCursor{ExpiresAt: e.Record.ExpiresAt, Address: e.Address.String()}
}

// Before reports whether the position (expiresAt, addr) sorts before or at c.
func (c *ExpiredCursor) Before(expiresAt int64, addr string) bool {
	if c == nil {
		return false
	}
	if expiresAt != c.ExpiresAt {
		return expiresAt < c.ExpiresAt
	}
	return addr <= c.Address
}

func addBalance(cur, amount uint64) (uint64, error) {
	if cur+amount < cur {
		return 0, ErrBalanceOverflow
	}
	return cur + amount, nil
}
