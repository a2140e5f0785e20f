// Package escrow implements the payment-for-service escrow state machine:
// a seller opens a record for one request, a payer deposits into it, and the
// record is closed either by a release to the seller or, after expiry, by a
// refund to the payer.
package escrow

import (
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// MaxRequestIDLen bounds the request id in bytes.
const MaxRequestIDLen = 64

// Identity is an ed25519 public key. The zero key means "none".
type Identity = solana.PublicKey

// NoIdentity is the default payer of an unpaid record.
var NoIdentity Identity

// Record is the escrow entry stored at the address derived from
// (Seller, RequestID).
type Record struct {
	Seller    Identity
	RequestID string
	Amount    uint64
	ExpiresAt int64
	IsPaid    bool
	Payer     Identity
	Bump      uint8
}

// Clone returns a copy safe to mutate.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Expired reports whether now is at or past the deadline.
func (r *Record) Expired(now int64) bool {
	return now >= r.ExpiresAt
}

// Validate checks the invariants every stored record satisfies.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("escrow: nil record")
	}
	if r.Amount == 0 {
		return ErrInvalidAmount
	}
	if len(r.RequestID) > MaxRequestIDLen {
		return ErrRequestIDTooLong
	}
	if r.IsPaid && r.Payer.IsZero() {
		return fmt.Errorf("escrow: paid record without payer")
	}
	if !r.IsPaid && !r.Payer.IsZero() {
		return fmt.Errorf("escrow: unpaid record with payer %s", r.Payer)
	}
	return nil
}
