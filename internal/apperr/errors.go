// Package apperr defines the error taxonomy shared by the domain packages.
//
// Every caller-visible failure is one of a small set of kinds. Domain packages
// declare their own sentinels on top of these kinds so that callers can match
// either the specific condition or the broad category with errors.Is.
package apperr

import (
	"errors"
	"sort"
	"strings"
)

// Kinds.
var (
	ErrValidation   = errors.New("invalid fields")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("forbidden for you")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrInternal     = errors.New("internal error")
)

// Error is a domain failure with a machine-readable code.
type Error struct {
	Kind    error
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches the error's kind as well as identity.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func newError(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Conflict returns a conflict-kind error.
func Conflict(code, message string) *Error {
	return newError(ErrConflict, code, message)
}

// NotFound returns a not-found-kind error.
func NotFound(code, message string) *Error {
	return newError(ErrNotFound, code, message)
}

// Unauthorized returns an unauthorized-kind error.
func Unauthorized(code, message string) *Error {
	return newError(ErrUnauthorized, code, message)
}

// RateLimited returns a rate-limited-kind error.
func RateLimited(code, message string) *Error {
	return newError(ErrRateLimited, code, message)
}

// Internal returns an internal-kind error.
func Internal(code, message string) *Error {
	return newError(ErrInternal, code, message)
}

// FieldErrors maps a field name to the messages describing what is wrong with it.
type FieldErrors map[string][]string

// Add appends a message for field.
func (f FieldErrors) Add(field, message string) {
	f[field] = append(f[field], message)
}

// ValidationError reports field-level problems with caller input.
type ValidationError struct {
	Fields FieldErrors
	// Cause is an optional domain sentinel the violation also matches.
	Cause error
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: FieldErrors{field: {message}}}
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("invalid fields: ")
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Fields[name], ", "))
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Has reports whether field has at least one violation.
func (e *ValidationError) Has(field string) bool {
	return len(e.Fields[field]) > 0
}

// Collect returns nil when no field has a violation, and a ValidationError otherwise.
func Collect(fields FieldErrors) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
