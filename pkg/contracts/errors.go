package contracts

import (
	"errors"
	"fmt"
)

// ErrorCode tags every error the kernel raises.
type ErrorCode string

const (
	CodeClearanceViolation            ErrorCode = "CLEARANCE_VIOLATION"
	CodeEnforcementRejected           ErrorCode = "ENFORCEMENT_REJECTED"
	CodeAlreadyExecuted               ErrorCode = "ALREADY_EXECUTED"
	CodeNotFound                      ErrorCode = "NOT_FOUND"
	CodeAlreadyDecided                ErrorCode = "ALREADY_DECIDED"
	CodeUnauthorized                  ErrorCode = "UNAUTHORIZED"
	CodeUnregistered                  ErrorCode = "UNREGISTERED"
	CodeDuplicateDecision             ErrorCode = "DUPLICATE_DECISION"
	CodeInvalidTransition             ErrorCode = "INVALID_TRANSITION"
	CodeExecutionFailed               ErrorCode = "EXECUTION_FAILED"
	CodeNoApproversRegistered         ErrorCode = "NO_APPROVERS_REGISTERED"
	CodeInsufficientApproverClearance ErrorCode = "INSUFFICIENT_APPROVER_CLEARANCE"
)

// GovernanceError is the tagged error propagated to callers. When the
// failure produced an audit entry the entry rides along by reference.
type GovernanceError struct {
	Code    ErrorCode
	Message string
	Entry   *AuditEntry
	cause   error
}

// NewError builds a GovernanceError without an audit entry.
func NewError(code ErrorCode, message string) *GovernanceError {
	return &GovernanceError{Code: code, Message: message}
}

// Errorf builds a GovernanceError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *GovernanceError {
	return &GovernanceError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *GovernanceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GovernanceError) Unwrap() error { return e.cause }

// WithEntry attaches the audit entry recorded for this failure.
func (e *GovernanceError) WithEntry(entry *AuditEntry) *GovernanceError {
	e.Entry = entry
	return e
}

// WithCause wraps the underlying error (an executor failure, typically).
func (e *GovernanceError) WithCause(err error) *GovernanceError {
	e.cause = err
	return e
}

// CodeOf extracts the error code, or "" for untagged errors.
func CodeOf(err error) ErrorCode {
	var ge *GovernanceError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// EntryOf extracts the attached audit entry, if any.
func EntryOf(err error) *AuditEntry {
	var ge *GovernanceError
	if errors.As(err, &ge) {
		return ge.Entry
	}
	return nil
}
