package handlers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/x402-escrow/backend/internal/escrow"
	"github.com/x402-escrow/backend/internal/repositories"
	"github.com/x402-escrow/backend/internal/services"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{escrow.ErrInvalidAmount, fiber.StatusBadRequest},
		{escrow.ErrRequestIDTooLong, fiber.StatusBadRequest},
		{escrow.ErrAlreadyPaid, fiber.StatusConflict},
		{escrow.ErrPaymentNotExpired, fiber.StatusConflict},
		{escrow.ErrUnauthorizedSeller, fiber.StatusForbidden},
		{escrow.ErrUnauthorizedPayer, fiber.StatusForbidden},
		{escrow.ErrRecordNotFound, fiber.StatusNotFound},
		{escrow.ErrAddressInUse, fiber.StatusConflict},
		{fmt.Errorf("deposit 5: %w", escrow.ErrInsufficientFunds), fiber.StatusPaymentRequired},
		{repositories.ErrBalanceOverflow, fiber.StatusConflict},
		{fmt.Errorf("%w: bad nonce", services.ErrAuthFailed), fiber.StatusUnauthorized},
		{escrow.ErrInvalidAuthority, fiber.StatusInternalServerError},
		{errors.New("connection reset"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.expected {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.expected)
		}
	}
}
