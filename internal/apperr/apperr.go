package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so callers can decide between retry, skip and abort.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers timeouts, 5xx and throttling. Retried within a tick.
	KindTransient
	// KindPermanent is an upstream rejection that will not succeed on retry.
	KindPermanent
	// KindValidation means the operation was refused and state was left unchanged.
	KindValidation
	// KindDuplicate marks a repeated order id or a stale fill report.
	KindDuplicate
	// KindDisabled is returned when the bot is switched off. Not logged as an error.
	KindDisabled
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindValidation:
		return "validation"
	case KindDuplicate:
		return "duplicate"
	case KindDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Error is the single error type used across the engine.
type Error struct {
	Kind   Kind
	Op     string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Symbol != "" {
		msg += " [" + e.Symbol + "]"
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error wrapping err.
func New(kind Kind, op, symbol string, err error) *Error {
	return &Error{Kind: kind, Op: op, Symbol: symbol, Err: err}
}

// Transient wraps err as a retryable failure.
func Transient(op, symbol string, err error) *Error { return New(KindTransient, op, symbol, err) }

// Permanent wraps err as a non-retryable failure.
func Permanent(op, symbol string, err error) *Error { return New(KindPermanent, op, symbol, err) }

// Validationf builds a validation error from a format string.
func Validationf(op, symbol, format string, args ...any) *Error {
	return New(KindValidation, op, symbol, fmt.Errorf(format, args...))
}

// Duplicate wraps err as a duplicate report.
func Duplicate(op, symbol string, err error) *Error { return New(KindDuplicate, op, symbol, err) }

// Disabled is returned by phases while the bot is off.
func Disabled(op string) *Error { return New(KindDisabled, op, "", nil) }

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsTransient(err error) bool  { return KindOf(err) == KindTransient }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsDuplicate(err error) bool  { return KindOf(err) == KindDuplicate }
func IsDisabled(err error) bool   { return KindOf(err) == KindDisabled }

// FromStatus classifies a non-2xx HTTP response.
// 429 and 5xx are transient, 409 is a duplicate, everything else is permanent.
func FromStatus(op, symbol string, status int, body string) *Error {
	err := fmt.Errorf("status %d: %s", status, body)
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return Transient(op, symbol, err)
	case status == http.StatusConflict:
		return Duplicate(op, symbol, err)
	default:
		return Permanent(op, symbol, err)
	}
}

// FromTransport classifies a failed round trip. Only caller cancellation is permanent.
func FromTransport(op, symbol string, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return Permanent(op, symbol, err)
	}
	return Transient(op, symbol, err)
}
