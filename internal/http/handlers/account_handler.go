package handlers

import (
	solana "github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
	"github.com/x402-escrow/backend/internal/http/dto"
	"github.com/x402-escrow/backend/internal/middleware"
	"github.com/x402-escrow/backend/internal/models"
	"github.com/x402-escrow/backend/internal/services"
	"github.com/x402-escrow/backend/internal/ton"
	"go.uber.org/zap"
)

type AccountHandler struct {
	fundingService *services.FundingService
	log            *zap.Logger
}

func NewAccountHandler(fundingService *services.FundingService, log *zap.Logger) *AccountHandler {
	return &AccountHandler{fundingService: fundingService, log: log}
}

// GetAccount returns the ledger balance of any identity, record addresses
// included.
func (h *AccountHandler) GetAccount(c *fiber.Ctx) error {
	id, err := solana.PublicKeyFromBase58(c.Params("identity"))
	if err != nil {
		return badRequest(c, "invalid identity")
	}
	bal, err := h.fundingService.Balance(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: models.Account{Identity: id.String(), Balance: bal}})
}

func (h *AccountHandler) GetMe(c *fiber.Ctx) error {
	id := middleware.GetIdentity(c)
	bal, err := h.fundingService.Balance(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.MeResponse{
		Identity:    id.String(),
		Method:      middleware.GetAuthMethod(c),
		Balance:     bal,
		FundingMemo: ton.FundingMemoPrefix + id.String(),
	})
}
