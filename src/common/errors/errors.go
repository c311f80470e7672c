// Package errors provides the structured error system for lkb.
// Every failure kind carries a domain, a code and the process exit code the
// CLI returns when that failure ends a run.
package errors

import (
	"errors"
	"fmt"
)

// Code represents a unique error code within a domain
type Code string

// Domain represents an error domain (e.g., "download", "build", "registry")
type Domain string

// Error domains
const (
	DomainCatalog     Domain = "catalog"
	DomainDownload    Domain = "download"
	DomainExtract     Domain = "extract"
	DomainBuild       Domain = "build"
	DomainBootloader  Domain = "bootloader"
	DomainRegistry    Domain = "registry"
	DomainHistory     Domain = "history"
	DomainEnvironment Domain = "environment"
	DomainInternal    Domain = "internal"
)

// Error represents a structured error with domain, code, and exit code
type Error struct {
	// Domain categorizes the error (e.g., "build", "registry")
	Domain Domain `json:"domain"`

	// Code is a unique identifier within the domain (e.g., "compile_failed")
	Code Code `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// ExitCode is the process exit status used when this error ends a run
	ExitCode int `json:"exit_code"`

	// Detail carries kind-specific data such as an HTTP status or a make exit code
	Detail int `json:"detail,omitempty"`

	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is and errors.As support
func (e *Error) Unwrap() error {
	return e.cause
}

// Is implements error comparison for errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Domain == t.Domain && e.Code == t.Code
}

// WithCause returns a new error with the underlying cause attached
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// WithMessage returns a new error with a custom message
func (e *Error) WithMessage(message string) *Error {
	c := *e
	c.Message = message
	return &c
}

// WithMessagef returns a new error with a formatted custom message
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetail returns a new error carrying a kind-specific integer, such as
// the HTTP status of a failed download or the exit code of make.
func (e *Error) WithDetail(detail int) *Error {
	c := *e
	c.Detail = detail
	return &c
}

// New creates a new Error with the given parameters
func New(domain Domain, code Code, exitCode int, message string) *Error {
	return &Error{
		Domain:   domain,
		Code:     code,
		Message:  message,
		ExitCode: exitCode,
	}
}

// Wrap wraps an existing error with an Error
func Wrap(err error, domain Domain, code Code, exitCode int, message string) *Error {
	return &Error{
		Domain:   domain,
		Code:     code,
		Message:  message,
		ExitCode: exitCode,
		cause:    err,
	}
}

// GetExitCode returns the exit code for an error.
// nil maps to 0; an error that is not an *Error maps to 1.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ExitCode
	}
	return ExitGeneric
}

// GetCode returns the error code if the error is an *Error, otherwise empty string
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetDomain returns the error domain if the error is an *Error, otherwise empty string
func GetDomain(err error) Domain {
	var e *Error
	if errors.As(err, &e) {
		return e.Domain
	}
	return ""
}

// GetDetail returns the kind-specific detail of an *Error, or 0
func GetDetail(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return 0
}

// Is checks if an error matches a target error (delegates to errors.Is)
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target (delegates to errors.As)
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
