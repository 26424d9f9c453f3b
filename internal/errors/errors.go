// Package errors defines the typed error taxonomy shared by every engine.
// Each failed operation surfaces exactly one Code; the HTTP layer maps codes
// to statuses and tests assert on them with CodeOf.
package errors

import (
	stdErrors "errors"
	"fmt"
)

// Code identifies a failure class.
type Code string

const (
	CodeAlreadyInitialized Code = "already_initialized"
	CodeUnauthorized       Code = "unauthorized"
	CodeNotFound           Code = "not_found"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvalidID          Code = "invalid_id"
	CodeAlreadyLocked      Code = "already_locked"
	CodeNotLocked          Code = "not_locked"
	CodeAgentLeased        Code = "agent_leased"
	CodeReplayRejected     Code = "replay_rejected"
	CodeRateLimitExceeded  Code = "rate_limit_exceeded"
	CodeOverflow           Code = "overflow"
	CodeAlreadyClaimed     Code = "already_claimed"
	CodeInvalidState       Code = "invalid_state"
	CodeStorageFailure     Code = "storage_failure"
	CodeUnknown            Code = "unknown"
)

// Error carries a code, a human message, and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match two typed errors by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if stdErrors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New builds a typed error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a typed error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf attaches a code and formatted message to an underlying cause.
func Wrapf(code Code, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the code from err, walking the wrap chain.
// Returns CodeUnknown for untyped errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if stdErrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
