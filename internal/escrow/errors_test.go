package escrow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err  error
		code string
		kind Kind
	}{
		{ErrInvalidAmount, "InvalidAmount", KindValidation},
		{ErrInvalidExpiration, "InvalidExpiration", KindValidation},
		{ErrRequestIDTooLong, "RequestIdTooLong", KindValidation},
		{ErrInvalidRequestID, "InvalidRequestId", KindValidation},
		{ErrAlreadyPaid, "AlreadyPaid", KindState},
		{ErrNotPaid, "NotPaid", KindState},
		{ErrPaymentExpired, "PaymentExpired", KindState},
		{ErrPaymentNotExpired, "PaymentNotExpired", KindState},
		{ErrUnauthorizedSeller, "UnauthorizedSeller", KindAuthorization},
		{ErrUnauthorizedPayer, "UnauthorizedPayer", KindAuthorization},
		{ErrAddressInUse, "AddressInUse", KindResource},
		{fmt.Errorf("deposit 10: %w", ErrInsufficientFunds), "InsufficientFunds", KindResource},
		{errors.New("boom"), "", KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, CodeOf(tt.err))
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}
