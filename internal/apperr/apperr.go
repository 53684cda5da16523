// Package apperr defines the relay's uniform error envelope.
//
// Every error that can reach an HTTP response is represented as a single
// *Error carrying a stable code string, the HTTP status it maps to, a
// human message, and optional structured details. This collapses the
// exception-hierarchy style of the system this was adapted from into one
// type with a kind enum, the way a Go service wants it.
package apperr

import "fmt"

// Code is a stable machine-readable error identifier.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeInvalidSignature   Code = "INVALID_SIGNATURE"
	CodeInvalidPayment     Code = "INVALID_PAYMENT"
	CodePaymentInvalid     Code = "PAYMENT_INVALID"
	CodePaymentFailed      Code = "PAYMENT_FAILED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeTxDecode           Code = "TX_DECODE_ERROR"
	CodeTxSimulation       Code = "TX_SIMULATION_ERROR"
	CodeTxNonce            Code = "TX_NONCE_ERROR"
	CodeTxGas              Code = "TX_GAS_ERROR"
	CodeTxBroadcast        Code = "TX_BROADCAST_ERROR"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// Error is the single typed error that crosses every component boundary in
// the relay. Handlers translate it directly into the HTTP error envelope.
type Error struct {
	Code       Code
	HTTPStatus int
	Message    string
	Details    map[string]any
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error with no wrapped cause.
func New(code Code, status int, message string) *Error {
	return &Error{Code: code, HTTPStatus: status, Message: message}
}

// Wrap builds an *Error that wraps an underlying cause for %w chains while
// keeping the message shown to clients separate from internal detail.
func Wrap(code Code, status int, message string, cause error) *Error {
	return &Error{Code: code, HTTPStatus: status, Message: message, cause: cause}
}

// WithDetails attaches structured detail fields and returns the receiver for
// chaining at the call site.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Validation is VALIDATION_ERROR, HTTP 400.
func Validation(message string) *Error {
	return New(CodeValidation, 400, message)
}

// InvalidSignature is INVALID_SIGNATURE, HTTP 400.
func InvalidSignature(message string) *Error {
	return New(CodeInvalidSignature, 400, message)
}

// InvalidPayment is INVALID_PAYMENT, HTTP 400 (header could not be parsed).
func InvalidPayment(message string) *Error {
	return New(CodeInvalidPayment, 400, message)
}

// PaymentInvalid is PAYMENT_INVALID, HTTP 402 (off/on-chain checks failed).
func PaymentInvalid(reason string) *Error {
	return New(CodePaymentInvalid, 402, reason)
}

// PaymentFailed is PAYMENT_FAILED, HTTP 402 (settlement reverted or failed to broadcast).
func PaymentFailed(message string, cause error) *Error {
	return Wrap(CodePaymentFailed, 402, message, cause)
}

// RateLimited is RATE_LIMITED, HTTP 429.
func RateLimited(retryAfterSeconds int) *Error {
	return New(CodeRateLimited, 429, "rate limit exceeded").WithDetails(map[string]any{
		"retryAfter": retryAfterSeconds,
	})
}

// InsufficientFunds is INSUFFICIENT_FUNDS, HTTP 503.
func InsufficientFunds(message string) *Error {
	return New(CodeInsufficientFunds, 503, message)
}

// Internal is INTERNAL_ERROR, HTTP 500.
func Internal(message string, cause error) *Error {
	return Wrap(CodeInternal, 500, message, cause)
}

// FromChainErrorKind maps a chain.ErrorKind string to the TX_* taxonomy.
// Kept independent of the chain package to avoid an import cycle; callers
// pass string(chain.Error.Kind) in.
func FromChainErrorKind(kind string, retriable bool, cause error) *Error {
	status := 500
	code := CodeInternal
	switch kind {
	case "revert":
		code, status = CodeTxSimulation, 400
	case "nonceTooLow":
		code, status = CodeTxNonce, 500
	case "underpriced":
		code, status = CodeTxGas, 500
	case "insufficientFunds":
		code, status = CodeInsufficientFunds, 503
	case "network":
		code, status = CodeTxBroadcast, 500
	default:
		code, status = CodeInternal, 500
	}
	e := Wrap(code, status, fmt.Sprintf("chain error (%s)", kind), cause)
	if retriable {
		e.Details = map[string]any{"retriable": true}
	}
	return e
}
