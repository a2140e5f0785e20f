package handlers

import (
	"strconv"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
	"github.com/x402-escrow/backend/internal/escrow"
	"github.com/x402-escrow/backend/internal/http/dto"
	"github.com/x402-escrow/backend/internal/middleware"
	"github.com/x402-escrow/backend/internal/models"
	"github.com/x402-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, log: log}
}

// Create opens a record with the caller as seller.
func (h *EscrowHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	seller := middleware.GetIdentity(c)
	entry, err := h.escrowService.Create(c.UserContext(), seller, req.RequestID, req.Amount, req.ExpiresAt)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(h.response(c, entry, ""))
}

// Deposit pays a record from the caller's balance.
func (h *EscrowHandler) Deposit(c *fiber.Ctx) error {
	seller, requestID, msg := parseRef(c)
	if msg != "" {
		return badRequest(c, msg)
	}
	entry, err := h.escrowService.Deposit(c.UserContext(), middleware.GetIdentity(c), seller, requestID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(h.response(c, entry, ""))
}

// Release pays a record out to its seller. Any authenticated caller may
// trigger it.
func (h *EscrowHandler) Release(c *fiber.Ctx) error {
	seller, requestID, msg := parseRef(c)
	if msg != "" {
		return badRequest(c, msg)
	}
	entry, err := h.escrowService.Release(c.UserContext(), middleware.GetIdentity(c), seller, requestID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(h.response(c, entry, models.EscrowStatusReleased))
}

// Refund returns an expired payment to the caller, who must be the payer.
func (h *EscrowHandler) Refund(c *fiber.Ctx) error {
	seller, requestID, msg := parseRef(c)
	if msg != "" {
		return badRequest(c, msg)
	}
	entry, err := h.escrowService.Refund(c.UserContext(), middleware.GetIdentity(c), seller, requestID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(h.response(c, entry, models.EscrowStatusRefunded))
}

// Lookup reads a record by ?seller=&request_id=.
func (h *EscrowHandler) Lookup(c *fiber.Ctx) error {
	seller, err := solana.PublicKeyFromBase58(c.Query("seller"))
	if err != nil {
		return badRequest(c, "invalid seller")
	}
	requestID := c.Query("request_id")
	if len(requestID) > escrow.MaxRequestIDLen {
		return respondError(c, h.log, escrow.ErrRequestIDTooLong)
	}
	entry, err := h.escrowService.Get(c.UserContext(), seller, requestID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: models.NewEscrowRecord(entry, h.escrowService.Now(), "")})
}

func (h *EscrowHandler) GetByAddress(c *fiber.Ctx) error {
	addr, err := solana.PublicKeyFromBase58(c.Params("address"))
	if err != nil {
		return badRequest(c, "invalid address")
	}
	entry, err := h.escrowService.GetByAddress(c.UserContext(), addr)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: models.NewEscrowRecord(entry, h.escrowService.Now(), "")})
}

// History lists the audit trail of a record address, including closed ones.
func (h *EscrowHandler) History(c *fiber.Ctx) error {
	addr, err := solana.PublicKeyFromBase58(c.Params("address"))
	if err != nil {
		return badRequest(c, "invalid address")
	}
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	logs, err := h.escrowService.History(c.UserContext(), addr, limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *EscrowHandler) response(c *fiber.Ctx, entry *escrow.Entry, status string) dto.EscrowResponse {
	resp := dto.EscrowResponse{Escrow: models.NewEscrowRecord(entry, h.escrowService.Now(), status)}
	if bal, err := h.escrowService.Balance(c.UserContext(), middleware.GetIdentity(c)); err == nil {
		resp.Balance = &bal
	} else {
		h.log.Warn("balance lookup failed", zap.Error(err))
	}
	return resp
}

// parseRef reads {seller, request_id}. A non-empty msg describes why the
// body was rejected.
func parseRef(c *fiber.Ctx) (seller escrow.Identity, requestID string, msg string) {
	var req dto.EscrowRefRequest
	if err := c.BodyParser(&req); err != nil {
		return seller, "", "invalid request body"
	}
	seller, err := solana.PublicKeyFromBase58(req.Seller)
	if err != nil {
		return seller, "", "invalid seller"
	}
	return seller, req.RequestID, ""
}
