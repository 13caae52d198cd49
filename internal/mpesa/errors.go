// internal/mpesa/errors.go
package mpesa

import "errors"

var (
	// ErrValidation wraps input rejections (phone, amount) made before any
	// external call.
	ErrValidation = errors.New("mpesa: validation failed")

	// ErrMalformedCallback means the inbound payload lacked the expected
	// Body.stkCallback structure. Untrusted input; never panics the caller.
	ErrMalformedCallback = errors.New("mpesa: malformed callback payload")

	// ErrUnknownTransaction means no pending deposit matched the callback's
	// checkout id. Logged for manual reconciliation; the gateway is still
	// acknowledged so it stops retrying.
	ErrUnknownTransaction = errors.New("mpesa: no transaction for checkout id")

	// ErrGatewayRejected means the gateway answered with a non-success
	// response code during push initiation.
	ErrGatewayRejected = errors.New("mpesa: gateway rejected request")
)
