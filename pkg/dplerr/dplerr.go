// Package dplerr implements the ledger's error taxonomy (SPEC_FULL.md §7) as
// a single wrapped error type instead of the source's exception hierarchy
// (see SPEC_FULL.md §9, "exceptions-for-control-flow").
package dplerr

import (
	"errors"
	"fmt"
)

// Code identifies one of the taxonomy's error categories.
type Code string

const (
	LockTimeout      Code = "LockTimeout"
	OperationNotFound Code = "OperationNotFound"
	PendingCalls     Code = "PendingCalls"
	CallNotFound     Code = "CallNotFound"
	DuplicateCallID  Code = "DuplicateCallId"
	StateMismatch    Code = "StateMismatch"
	HeartbeatStale   Code = "HeartbeatStale"
	AbortFlagSet     Code = "AbortFlagSet"
	OperationFailed  Code = "OperationFailed"
	IOError          Code = "IOError"
	RetryExhausted   Code = "RetryExhausted"
)

// Error is the concrete error type returned across every package boundary.
// Callers distinguish categories with errors.Is against the sentinel Error
// values below, or by inspecting Code directly.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code alone, so errors.Is(err, dplerr.New(LockTimeout, ""))
// and the sentinel values below both work regardless of Message/Cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// Sentinel values for errors.Is comparisons, one per Code.
var (
	ErrLockTimeout       = New(LockTimeout, "")
	ErrOperationNotFound = New(OperationNotFound, "")
	ErrPendingCalls      = New(PendingCalls, "")
	ErrCallNotFound      = New(CallNotFound, "")
	ErrDuplicateCallID   = New(DuplicateCallID, "")
	ErrStateMismatch     = New(StateMismatch, "")
	ErrHeartbeatStale    = New(HeartbeatStale, "")
	ErrAbortFlagSet      = New(AbortFlagSet, "")
	ErrOperationFailed   = New(OperationFailed, "")
	ErrIOError           = New(IOError, "")
	ErrRetryExhausted    = New(RetryExhausted, "")
)

// CodeOf extracts the Code from err, walking Unwrap chains; returns "" if
// err is nil or carries no *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
