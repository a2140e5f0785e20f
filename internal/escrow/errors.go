package escrow

import "errors"

// Kind groups error codes by who is at fault.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindState         Kind = "state"
	KindAuthorization Kind = "authorization"
	KindResource      Kind = "resource"
	KindInternal      Kind = "internal"
)

// Error is a stable, distinguishable escrow failure.
type Error struct {
	Code string
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(code string, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Msg: msg}
}

var (
	ErrInvalidAmount     = newError("InvalidAmount", KindValidation, "invalid amount: must be greater than 0")
	ErrInvalidExpiration = newError("InvalidExpiration", KindValidation, "invalid expiration: must be in the future")
	ErrRequestIDTooLong  = newError("RequestIdTooLong", KindValidation, "request id too long: maximum 64 bytes")
	ErrInvalidRequestID  = newError("InvalidRequestId", KindValidation, "invalid request id")

	ErrAlreadyPaid       = newError("AlreadyPaid", KindState, "payment already made")
	ErrNotPaid           = newError("NotPaid", KindState, "payment not made yet")
	ErrPaymentExpired    = newError("PaymentExpired", KindState, "payment expired")
	ErrPaymentNotExpired = newError("PaymentNotExpired", KindState, "payment not expired yet")

	ErrUnauthorizedSeller = newError("UnauthorizedSeller", KindAuthorization, "unauthorized seller")
	ErrUnauthorizedPayer  = newError("UnauthorizedPayer", KindAuthorization, "unauthorized payer")

	// Surfaced by the custody store and the value transfer primitive.
	ErrAddressInUse      = newError("AddressInUse", KindResource, "escrow address already in use")
	ErrRecordNotFound    = newError("RecordNotFound", KindResource, "escrow record not found")
	ErrInsufficientFunds = newError("InsufficientFunds", KindResource, "insufficient funds")
	ErrInvalidAuthority  = newError("InvalidAuthority", KindInternal, "derived address does not match record")
)

// CodeOf returns the stable code of err, or "" when err is not an escrow error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf returns the kind of err. Unknown errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
