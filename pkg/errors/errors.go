// Package errors provides structured error handling for datadock.
// It implements coded errors with context so that failures can be
// classified (and logged) without comparing message strings.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Remote fetch errors (1xx)
	CodeTokenMissing  Code = "E101"
	CodeNotFound      Code = "E102"
	CodeUnauthorized  Code = "E103"
	CodeForbidden     Code = "E104"
	CodeRemoteStatus  Code = "E105"
	CodeTimeout       Code = "E106"
	CodeConnection    Code = "E107"

	// Decode errors (2xx)
	CodeDecodeFailed      Code = "E201"
	CodeTimestampRange    Code = "E202"
	CodeUnsupportedFormat Code = "E203"

	// Cache errors (3xx)
	CodeCacheWrite    Code = "E301"
	CodeCacheMetadata Code = "E302"

	// Deduplication errors (4xx)
	CodeDedupFailed Code = "E401"

	// Configuration errors (5xx)
	CodeConfig Code = "E501"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all datadock errors.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// --- Convenience constructors ---

// TokenMissing reports a missing access token before any network call.
func TokenMissing() *Error {
	return New(CodeTokenMissing, "access token not provided")
}

// RemoteStatus classifies a non-200 HTTP response by status code.
func RemoteStatus(status int, path string) *Error {
	var e *Error
	switch status {
	case 404:
		e = New(CodeNotFound, "not found on remote")
	case 401:
		e = New(CodeUnauthorized, "remote rejected token")
	case 403:
		e = New(CodeForbidden, "access forbidden")
	default:
		e = Newf(CodeRemoteStatus, "remote returned HTTP %d", status)
	}
	return e.WithContext("path", path).WithContext("status", status)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsRetryable returns true if retrying the operation may succeed.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeConnection, CodeRemoteStatus:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
