package dto

import "github.com/x402-escrow/backend/internal/ton"

type ChallengeRequest struct {
	Identity string `json:"identity"` // base58
}

type VerifySignatureRequest struct {
	Identity  string `json:"identity"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"` // base58 ed25519
}

type TONProofRequest = ton.ProofData

// CreateEscrowRequest opens a record for the calling seller.
type CreateEscrowRequest struct {
	RequestID string `json:"request_id"`
	Amount    uint64 `json:"amount"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds
}

// EscrowRefRequest names a record by its seller and request id.
type EscrowRefRequest struct {
	Seller    string `json:"seller"`
	RequestID string `json:"request_id"`
}
