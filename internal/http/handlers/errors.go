package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/x402-escrow/backend/internal/escrow"
	"github.com/x402-escrow/backend/internal/http/dto"
	"github.com/x402-escrow/backend/internal/middleware"
	"github.com/x402-escrow/backend/internal/repositories"
	"github.com/x402-escrow/backend/internal/services"
	"go.uber.org/zap"
)

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrRecordNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, escrow.ErrAddressInUse):
		return fiber.StatusConflict
	case errors.Is(err, escrow.ErrInsufficientFunds):
		return fiber.StatusPaymentRequired
	case errors.Is(err, services.ErrAuthFailed):
		return fiber.StatusUnauthorized
	case errors.Is(err, repositories.ErrBalanceOverflow):
		return fiber.StatusConflict
	}
	switch escrow.KindOf(err) {
	case escrow.KindValidation:
		return fiber.StatusBadRequest
	case escrow.KindState:
		return fiber.StatusConflict
	case escrow.KindAuthorization:
		return fiber.StatusForbidden
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := StatusFor(err)
	body := dto.ErrorResponse{
		Error:     err.Error(),
		Code:      escrow.CodeOf(err),
		RequestID: middleware.GetRequestID(c),
	}
	switch {
	case status == fiber.StatusInternalServerError:
		log.Error("request failed", zap.String("request_id", body.RequestID), zap.Error(err))
		body.Error = "internal server error"
		body.Code = "Internal"
	case status == fiber.StatusUnauthorized:
		body.Code = "Unauthorized"
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:     msg,
		Code:      "BadRequest",
		RequestID: middleware.GetRequestID(c),
	})
}
