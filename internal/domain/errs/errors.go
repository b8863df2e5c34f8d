// Package errs defines the workflow error taxonomy. Every error carries a
// Kind the API layer maps to a status, and a short machine-readable Code.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow error
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindPrecondition  Kind = "precondition"
	KindCollaborator  Kind = "collaborator"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// Codes used across the workflow
const (
	CodeMissingFile    = "missing_file"
	CodeInvalidAmount  = "invalid_amount"
	CodeInvalidField   = "invalid_field"
	CodeInvalidAction  = "invalid_action"
	CodeNotAuthorized  = "not_authorized"
	CodeWrongLevel     = "wrong_level"
	CodeNotOwner       = "not_owner"
	CodeAlreadyDecided = "already_decided"
	CodeRequestClosed  = "request_closed"
	CodeLevelOrder     = "previous_level_pending"
	CodeNotApproved    = "not_approved"
	CodeExtraction     = "extraction_failed"
	CodeRendering      = "rendering_failed"
	CodeReceiptCheck   = "receipt_validation_failed"
	CodeNotFound       = "not_found"
)

// Error is a classified workflow error
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and code, so sentinel-style comparisons work
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

// E creates a new classified error
func E(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap classifies an underlying error
func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validation is shorthand for E(KindValidation, ...)
func Validation(code, message string) *Error {
	return E(KindValidation, code, message)
}

// Authorization is shorthand for E(KindAuthorization, ...)
func Authorization(code, message string) *Error {
	return E(KindAuthorization, code, message)
}

// Precondition is shorthand for E(KindPrecondition, ...)
func Precondition(code, message string) *Error {
	return E(KindPrecondition, code, message)
}

// NotFound reports a missing (or invisible) resource
func NotFound(resource string, id int64) *Error {
	return E(KindNotFound, CodeNotFound, fmt.Sprintf("%s %d not found", resource, id))
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the Code of err, or "" for unclassified errors
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
