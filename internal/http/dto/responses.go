package dto

import "github.com/x402-escrow/backend/internal/models"

type AuthResponse struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
	Method   string `json:"method"`
}

type ChallengeResponse struct {
	Nonce     string `json:"nonce"`
	Message   string `json:"message"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type EscrowResponse struct {
	Escrow  models.EscrowRecord `json:"escrow"`
	Balance *uint64             `json:"balance,omitempty"` // caller balance after the operation
}

type MeResponse struct {
	Identity string `json:"identity"`
	Method   string `json:"method,omitempty"`
	Balance  uint64 `json:"balance"`
	// FundingMemo is the TON comment that credits this identity.
	FundingMemo string `json:"funding_memo"`
}
