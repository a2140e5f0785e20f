package models

import (
	"github.com/x402-escrow/backend/internal/escrow"
)

const (
	EscrowStatusAwaiting = "awaiting"
	EscrowStatusFunded   = "funded"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
	EscrowStatusExpired  = "expired"
)

// EscrowRecord is the API view of an escrow entry.
type EscrowRecord struct {
	Address   string  `json:"address"`
	Seller    string  `json:"seller"`
	RequestID string  `json:"request_id"`
	Amount    uint64  `json:"amount"`
	ExpiresAt int64   `json:"expires_at"`
	IsPaid    bool    `json:"is_paid"`
	Payer     *string `json:"payer,omitempty"`
	Bump      uint8   `json:"bump"`
	Status    string  `json:"status"`
}

// NewEscrowRecord renders entry as seen at now. status overrides the
// derived status for entries that were just closed.
func NewEscrowRecord(entry *escrow.Entry, now int64, status string) EscrowRecord {
	rec := entry.Record
	out := EscrowRecord{
		Address:   entry.Address.String(),
		Seller:    rec.Seller.String(),
		RequestID: rec.RequestID,
		Amount:    rec.Amount,
		ExpiresAt: rec.ExpiresAt,
		IsPaid:    rec.IsPaid,
		Bump:      rec.Bump,
		Status:    status,
	}
	if !rec.Payer.IsZero() {
		p := rec.Payer.String()
		out.Payer = &p
	}
	if out.Status == "" {
		out.Status = EscrowStatus(rec, now)
	}
	return out
}

// EscrowStatus names the lifecycle position of a live record.
func EscrowStatus(rec *escrow.Record, now int64) string {
	switch {
	case rec.IsPaid:
		return EscrowStatusFunded
	case rec.Expired(now):
		return EscrowStatusExpired
	default:
		return EscrowStatusAwaiting
	}
}

// Account is the API view of a ledger holder.
type Account struct {
	Identity string `json:"identity"`
	Balance  uint64 `json:"balance"`
}
