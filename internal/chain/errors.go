package chain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a chain-level failure so callers can decide whether
// to resync a wallet's nonce or simply surface the failure.
type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindRevert            ErrorKind = "revert"
	KindNonceTooLow       ErrorKind = "nonceTooLow"
	KindUnderpriced       ErrorKind = "underpriced"
	KindInsufficientFunds ErrorKind = "insufficientFunds"
	KindUnknown           ErrorKind = "unknown"
)

// Error is the single error type every adapter operation fails with.
type Error struct {
	Kind      ErrorKind
	Retriable bool
	cause     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("chain: %s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a typed chain error. Exported so callers that synthesize
// chain-shaped failures in tests don't need an unexported constructor.
func NewError(kind ErrorKind, retriable bool, cause error) *Error {
	return &Error{Kind: kind, Retriable: retriable, cause: cause}
}

func newError(kind ErrorKind, retriable bool, cause error) *Error {
	return NewError(kind, retriable, cause)
}

// classify inspects a raw RPC error string and buckets it into a Kind, the
// way node implementations vary their wording for the same condition.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	var chainErr *Error
	if errors.As(err, &chainErr) {
		return chainErr
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"):
		return newError(KindNonceTooLow, true, err)
	case strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "underpriced"):
		return newError(KindUnderpriced, true, err)
	case strings.Contains(msg, "insufficient funds"):
		return newError(KindInsufficientFunds, false, err)
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "always failing transaction"):
		return newError(KindRevert, false, err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "no such host"):
		return newError(KindNetwork, true, err)
	default:
		return newError(KindUnknown, false, err)
	}
}
