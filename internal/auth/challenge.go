package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"
)

const (
	MethodSignature = "signature"
	MethodTONProof  = "ton_proof"

	challengeHeader = "x402-escrow sign-in"
)

// Challenge is a single-use sign-in message bound to one identity.
type Challenge struct {
	Identity string `json:"identity"`
	Nonce    string `json:"nonce"`
	IssuedAt int64  `json:"issued_at"`
}

// NewChallenge creates a challenge with a random 16-byte nonce.
func NewChallenge(identity solana.PublicKey, now time.Time) (Challenge, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Challenge{}, fmt.Errorf("generate nonce: %w", err)
	}
	return Challenge{
		Identity: identity.String(),
		Nonce:    hex.EncodeToString(buf),
		IssuedAt: now.Unix(),
	}, nil
}

// Message is the exact byte string the identity has to sign.
func (c Challenge) Message() []byte {
	var b strings.Builder
	b.WriteString(challengeHeader)
	b.WriteString("\nidentity: ")
	b.WriteString(c.Identity)
	b.WriteString("\nnonce: ")
	b.WriteString(c.Nonce)
	b.WriteString("\nissued-at: ")
	b.WriteString(strconv.FormatInt(c.IssuedAt, 10))
	return []byte(b.String())
}

// VerifySignature checks a base58 ed25519 signature of the challenge
// message by the challenge identity.
func (c Challenge) VerifySignature(signatureB58 string) error {
	pub, err := solana.PublicKeyFromBase58(c.Identity)
	if err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}
	sig, err := solana.SignatureFromBase58(signatureB58)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !sig.Verify(pub, c.Message()) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}
