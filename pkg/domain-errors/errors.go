// Package domainerrors defines the coded error type services return across
// the service boundary. Stores speak sentinel errors; services translate them
// into these so transport can map a stable code to an HTTP status and the
// client can branch on it (e.g. "link expired" vs "already verified").
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error kind.
type Code string

const (
	// CodeValidation marks malformed or out-of-range input the caller can fix.
	CodeValidation Code = "validation"

	// Token redemption outcomes. Distinct so the client can render
	// "already verified" vs "link expired" vs "unknown link".
	CodeTokenNotFound    Code = "token_not_found"
	CodeTokenExpired     Code = "token_expired"
	CodeTokenAlreadyUsed Code = "token_already_used"

	// CodeInvalidTransition marks an action attempted from the wrong status.
	CodeInvalidTransition Code = "invalid_transition"

	// CodeConcurrentModification marks an optimistic-lock loss; the caller
	// should refetch and retry.
	CodeConcurrentModification Code = "concurrent_modification"

	// CodeProvisioningFailed marks an approval whose external provisioning
	// call failed; the application is unchanged.
	CodeProvisioningFailed Code = "provisioning_failed"

	CodeNotFound    Code = "not_found"
	CodeConflict    Code = "conflict"
	CodeNotEligible Code = "not_eligible"
	CodeTimeout     Code = "timeout"
	CodeInternal    Code = "internal"
)

// Error is a domain error with a stable code and human-readable message.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the human-readable message from err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

// ToHTTPStatus maps a code to the HTTP status the transport layer writes.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeTokenExpired, CodeNotEligible:
		return http.StatusBadRequest
	case CodeTokenNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeTokenAlreadyUsed, CodeInvalidTransition, CodeConcurrentModification, CodeConflict:
		return http.StatusConflict
	case CodeProvisioningFailed:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
