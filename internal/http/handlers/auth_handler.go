package handlers

import (
	solana "github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
	"github.com/x402-escrow/backend/internal/config"
	"github.com/x402-escrow/backend/internal/http/dto"
	"github.com/x402-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *services.AuthService
	cfg         *config.Config
	log         *zap.Logger
}

func NewAuthHandler(authService *services.AuthService, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, cfg: cfg, log: log}
}

// Challenge issues a sign-in nonce. The same nonce serves as the TON
// Connect proof payload.
func (h *AuthHandler) Challenge(c *fiber.Ctx) error {
	var req dto.ChallengeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	var identity solana.PublicKey
	if req.Identity != "" {
		id, err := solana.PublicKeyFromBase58(req.Identity)
		if err != nil {
			return badRequest(c, "invalid identity")
		}
		identity = id
	}

	ch, err := h.authService.IssueChallenge(c.UserContext(), identity)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.ChallengeResponse{
		Nonce:     ch.Nonce,
		Message:   string(ch.Message()),
		IssuedAt:  ch.IssuedAt,
		ExpiresIn: int64(h.cfg.ChallengeTTL.Seconds()),
	})
}

// Verify logs in with an ed25519 signature over the challenge message.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	var req dto.VerifySignatureRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	identity, err := solana.PublicKeyFromBase58(req.Identity)
	if err != nil {
		return badRequest(c, "invalid identity")
	}
	if req.Nonce == "" || req.Signature == "" {
		return badRequest(c, "nonce and signature are required")
	}

	session, err := h.authService.VerifySignature(c.UserContext(), identity, req.Nonce, req.Signature)
	if err != nil {
		h.log.Debug("signature login failed", zap.String("identity", req.Identity), zap.Error(err))
		return respondError(c, h.log, err)
	}
	return c.JSON(authResponse(session))
}

// TONProof logs in the TON wallet that signed the proof.
func (h *AuthHandler) TONProof(c *fiber.Ctx) error {
	var req dto.TONProofRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Proof.Payload == "" {
		return badRequest(c, "proof payload is required")
	}

	session, err := h.authService.VerifyTONProof(c.UserContext(), req)
	if err != nil {
		h.log.Debug("ton proof login failed", zap.String("address", req.Address), zap.Error(err))
		return respondError(c, h.log, err)
	}
	return c.JSON(authResponse(session))
}

func authResponse(s *services.Session) dto.AuthResponse {
	return dto.AuthResponse{Token: s.Token, Identity: s.Identity.String(), Method: s.Method}
}
