// Package errors defines the typed failure kinds surfaced at the API boundary.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrSchemaInvalid is returned when a request payload fails validation
	ErrSchemaInvalid = "schema_invalid"

	// ErrUnauthenticated is returned when a token is missing, expired or malformed
	ErrUnauthenticated = "unauthenticated"

	// ErrForbidden is returned when a known identity lacks the required capability,
	// or when credentials are invalid, pending, disabled or blocked by maintenance
	ErrForbidden = "forbidden"

	// ErrNotFound is returned when no object or user matches the identifier
	ErrNotFound = "not_found"

	// ErrConflict is returned when a login or group name already exists
	ErrConflict = "conflict"

	// ErrFieldNotQueryable is returned by the search boundary for terms outside a field selector
	ErrFieldNotQueryable = "field_not_queryable"

	// ErrUnsupportedGrammar is returned by the search boundary for unrecognized grammar nodes
	ErrUnsupportedGrammar = "unsupported_grammar"

	// ErrMailSendFailed is returned when email dispatch is essential to the flow and failed
	ErrMailSendFailed = "mail_send_failed"

	// ErrIntegrityConflict is returned when a storage integrity conflict survives
	// the post-rollback existence re-check
	ErrIntegrityConflict = "integrity_conflict"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewSchemaInvalidError creates a new schema validation error
func NewSchemaInvalidError(message string, cause error) *Error {
	return NewError(ErrSchemaInvalid, message, cause)
}

// NewUnauthenticatedError creates a new unauthenticated error
func NewUnauthenticatedError(message string, cause error) *Error {
	return NewError(ErrUnauthenticated, message, cause)
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string, cause error) *Error {
	return NewError(ErrForbidden, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewConflictError creates a new conflict error
func NewConflictError(message string, cause error) *Error {
	return NewError(ErrConflict, message, cause)
}

// NewFieldNotQueryableError creates a new field-not-queryable error
func NewFieldNotQueryableError(message string, cause error) *Error {
	return NewError(ErrFieldNotQueryable, message, cause)
}

// NewUnsupportedGrammarError creates a new unsupported-grammar error
func NewUnsupportedGrammarError(message string, cause error) *Error {
	return NewError(ErrUnsupportedGrammar, message, cause)
}

// NewMailSendFailedError creates a new mail-send-failed error
func NewMailSendFailedError(message string, cause error) *Error {
	return NewError(ErrMailSendFailed, message, cause)
}

// NewIntegrityConflictError creates a new integrity-conflict error
func NewIntegrityConflictError(message string, cause error) *Error {
	return NewError(ErrIntegrityConflict, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsSchemaInvalid checks if the error is a schema validation error
func IsSchemaInvalid(err error) bool {
	return isType(err, ErrSchemaInvalid)
}

// IsUnauthenticated checks if the error is an unauthenticated error
func IsUnauthenticated(err error) bool {
	return isType(err, ErrUnauthenticated)
}

// IsForbidden checks if the error is a forbidden error
func IsForbidden(err error) bool {
	return isType(err, ErrForbidden)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return isType(err, ErrNotFound)
}

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool {
	return isType(err, ErrConflict)
}

// IsFieldNotQueryable checks if the error is a field-not-queryable error
func IsFieldNotQueryable(err error) bool {
	return isType(err, ErrFieldNotQueryable)
}

// IsUnsupportedGrammar checks if the error is an unsupported-grammar error
func IsUnsupportedGrammar(err error) bool {
	return isType(err, ErrUnsupportedGrammar)
}

// IsMailSendFailed checks if the error is a mail-send-failed error
func IsMailSendFailed(err error) bool {
	return isType(err, ErrMailSendFailed)
}

// IsIntegrityConflict checks if the error is an integrity-conflict error
func IsIntegrityConflict(err error) bool {
	return isType(err, ErrIntegrityConflict)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return isType(err, ErrInternal)
}
