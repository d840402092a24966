// Package kerr defines the error kinds shared by the store, the HTTP
// handlers, the websocket dispatcher, and the subscription scheduler.
// Each kind carries a stable wire code (used verbatim in krist-style
// error payloads) and maps to exactly one HTTP status.
package kerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable wire code for an error category.
type Kind string

const (
	// Auth failures. All surface as 401.
	KindMissingBearer  Kind = "missing_bearer"
	KindInvalidSession Kind = "invalid_session"
	KindUnauthorized   Kind = "unauthorized"
	KindAuthFailed     Kind = "auth_failed"

	// Ledger failures.
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindWalletNotFound      Kind = "address_not_found"
	KindNameNotFound        Kind = "name_not_found"
	KindNotNameOwner        Kind = "not_name_owner"
	KindNameTaken           Kind = "name_taken"
	KindContractNotFound    Kind = "contract_not_found"
	KindSubNotFound         Kind = "subscription_not_found"
	KindTransactionNotFound Kind = "transaction_not_found"

	// Request validation.
	KindInvalidParameter Kind = "invalid_parameter"
	KindMissingParameter Kind = "missing_parameter"

	// Websocket hand-off.
	KindTokenNotFound Kind = "token_not_found"

	// Scheduler observed a row-count it did not expect. Logged and
	// retried on the next wake, never surfaced to clients.
	KindDesync Kind = "desync"

	// Anything transient from the store or the runtime.
	KindStore Kind = "server_error"
)

// Error is a kinded error. Field is set for invalid_parameter kinds so
// handlers can name the offending field.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New returns a kinded error with a fixed message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf returns a kinded error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a kinded error wrapping a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, err: err}
}

// Param returns an invalid_parameter error naming the field.
func Param(field, msg string) *Error {
	return &Error{Kind: KindInvalidParameter, Message: msg, Field: field}
}

// MissingParam returns a missing_parameter error naming the field.
func MissingParam(field string) *Error {
	return &Error{Kind: KindMissingParameter, Message: "missing parameter " + field, Field: field}
}

// IsKind reports whether err (or anything it wraps) is an *Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or KindStore when err carries no kind.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindStore
}

// MessageOf returns the human message of err. Unkinded errors all
// surface the same opaque message so internals never leak to clients.
func MessageOf(err error) string {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Message
	}
	return "an unexpected server error occurred"
}

// HTTPStatus maps an error to the status code its kind surfaces as.
// Unkinded errors are treated as transient store errors.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindMissingBearer, KindInvalidSession, KindUnauthorized, KindAuthFailed:
		return http.StatusUnauthorized
	case KindInsufficientFunds, KindInvalidParameter, KindMissingParameter, KindNameTaken:
		return http.StatusBadRequest
	case KindWalletNotFound, KindNameNotFound, KindContractNotFound, KindSubNotFound, KindTransactionNotFound:
		return http.StatusNotFound
	case KindNotNameOwner:
		return http.StatusForbidden
	case KindTokenNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Common instances reused across packages.
var (
	ErrMissingBearer  = New(KindMissingBearer, "missing bearer auth token in header")
	ErrInvalidSession = New(KindInvalidSession, "the provided token either does not exist, or has expired")
	ErrUnauthorized   = New(KindUnauthorized, "this session is not authorized to operate on this resource")
	ErrAuthFailed     = New(KindAuthFailed, "failed to start session, please try again")
	ErrTokenNotFound  = New(KindTokenNotFound, "websocket token not found or expired")
)
