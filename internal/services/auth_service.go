package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/x402-escrow/backend/internal/auth"
	"github.com/x402-escrow/backend/internal/config"
	"github.com/x402-escrow/backend/internal/escrow"
	"github.com/x402-escrow/backend/internal/repositories"
	"github.com/x402-escrow/backend/internal/ton"
	"go.uber.org/zap"
)

var ErrAuthFailed = errors.New("authentication failed")

type AuthService struct {
	challenges repositories.ChallengeStore
	verifier   *ton.Verifier
	cfg        *config.Config
	log        *zap.Logger
	now        func() time.Time
}

func NewAuthService(challenges repositories.ChallengeStore, verifier *ton.Verifier, cfg *config.Config, log *zap.Logger) *AuthService {
	return &AuthService{
		challenges: challenges,
		verifier:   verifier,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// Session is a successful login.
type Session struct {
	Token    string
	Identity escrow.Identity
	Method   string
}

// IssueChallenge creates a sign-in challenge for identity and keeps it
// until ChallengeTTL passes or it is used. A zero identity leaves the
// challenge unbound, which only TON proof login accepts.
func (s *AuthService) IssueChallenge(ctx context.Context, identity escrow.Identity) (auth.Challenge, error) {
	ch, err := auth.NewChallenge(identity, s.now())
	if err != nil {
		return auth.Challenge{}, err
	}
	if identity.IsZero() {
		ch.Identity = ""
	}
	if err := s.challenges.Put(ctx, ch, s.cfg.ChallengeTTL); err != nil {
		return auth.Challenge{}, fmt.Errorf("store challenge: %w", err)
	}
	return ch, nil
}

// VerifySignature consumes the challenge for nonce and logs identity in if
// signature is its ed25519 signature of the challenge message.
func (s *AuthService) VerifySignature(ctx context.Context, identity escrow.Identity, nonce, signature string) (*Session, error) {
	ch, err := s.challenges.Take(ctx, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if ch.Identity != identity.String() {
		return nil, fmt.Errorf("%w: challenge was issued to another identity", ErrAuthFailed)
	}
	if err := ch.VerifySignature(signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return s.session(identity, auth.MethodSignature)
}

// VerifyTONProof logs in the wallet that signed a TON Connect proof over a
// previously issued nonce. The wallet's public key is the identity.
func (s *AuthService) VerifyTONProof(ctx context.Context, data ton.ProofData) (*Session, error) {
	if data.Network != "" && s.cfg.TONNetwork != "" && !tonNetworkMatches(s.cfg.TONNetwork, data.Network) {
		return nil, fmt.Errorf("%w: network mismatch", ErrAuthFailed)
	}
	ch, err := s.challenges.Take(ctx, data.Proof.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	pub, err := s.verifier.Verify(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	identity := solana.PublicKeyFromBytes(pub)
	if ch.Identity != "" && ch.Identity != identity.String() {
		return nil, fmt.Errorf("%w: challenge was issued to another identity", ErrAuthFailed)
	}
	return s.session(identity, auth.MethodTONProof)
}

func (s *AuthService) session(identity escrow.Identity, method string) (*Session, error) {
	token, err := auth.GenerateJWT(s.cfg.JWTSecret, identity.String(), method, s.cfg.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.log.Info("identity logged in", zap.String("identity", identity.String()), zap.String("method", method))
	return &Session{Token: token, Identity: identity, Method: method}, nil
}

// tonNetworkMatches accepts both names and TON Connect chain ids.
func tonNetworkMatches(configured, got string) bool {
	switch got {
	case "-239":
		got = "mainnet"
	case "-3":
		got = "testnet"
	}
	return configured == got
}
