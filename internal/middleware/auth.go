package middleware

import (
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
	"github.com/x402-escrow/backend/internal/auth"
	"github.com/x402-escrow/backend/internal/config"
	"go.uber.org/zap"
)

const (
	CtxIdentity   = "identity"
	CtxAuthMethod = "auth_method"
)

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "missing authorization header")
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return unauthorized(c, "invalid authorization format")
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return unauthorized(c, "invalid or expired token")
		}
		identity, err := solana.PublicKeyFromBase58(claims.Identity)
		if err != nil {
			log.Debug("jwt identity is not a public key", zap.String("identity", claims.Identity))
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(CtxIdentity, identity)
		c.Locals(CtxAuthMethod, claims.Method)

		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	reqID, _ := c.Locals(CtxRequestID).(string)
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":      msg,
		"code":       "Unauthorized",
		"request_id": reqID,
	})
}

// GetIdentity returns the authenticated caller.
func GetIdentity(c *fiber.Ctx) solana.PublicKey {
	id, _ := c.Locals(CtxIdentity).(solana.PublicKey)
	return id
}

func GetAuthMethod(c *fiber.Ctx) string {
	m, _ := c.Locals(CtxAuthMethod).(string)
	return m
}
