package situation

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code
type Code string

const (
	CodePredicateEval        Code = "PREDICATE_EVAL"
	CodeAlreadyResolved      Code = "ALREADY_RESOLVED"
	CodePrerequisiteNotMet   Code = "PREREQUISITE_NOT_MET"
	CodeCascadeDepthExceeded Code = "CASCADE_DEPTH_EXCEEDED"
	CodeUnknownSituation     Code = "UNKNOWN_SITUATION"
	CodeUnknownBranch        Code = "UNKNOWN_BRANCH"
	CodeUnknownSeed          Code = "UNKNOWN_SEED"
	CodeNotResolvable        Code = "NOT_RESOLVABLE"
	CodeSituationClosed      Code = "SITUATION_CLOSED"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeInvalidEffect        Code = "INVALID_EFFECT"
	CodeTimeRegression       Code = "TIME_REGRESSION"
)

// Recoverable reports whether the caller can continue after the error
// without reloading state
func (c Code) Recoverable() bool {
	return c != CodePredicateEval
}

// HTTPStatus maps the code to the status an API should answer with
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnknownSituation, CodeUnknownBranch, CodeUnknownSeed:
		return http.StatusNotFound
	case CodeAlreadyResolved, CodeSituationClosed, CodeNotResolvable, CodeInvalidTransition:
		return http.StatusConflict
	case CodePrerequisiteNotMet:
		return http.StatusForbidden
	case CodePredicateEval, CodeInvalidEffect, CodeTimeRegression, CodeCascadeDepthExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type
type Error struct {
	Code        Code
	SituationID string
	Reason      string // user-facing reason text
	Cause       error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.SituationID != "" {
		msg += " [" + e.SituationID + "]"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

var (
	ErrPredicateEval        = &Error{Code: CodePredicateEval}
	ErrAlreadyResolved      = &Error{Code: CodeAlreadyResolved}
	ErrPrerequisiteNotMet   = &Error{Code: CodePrerequisiteNotMet}
	ErrCascadeDepthExceeded = &Error{Code: CodeCascadeDepthExceeded}
	ErrUnknownSituation     = &Error{Code: CodeUnknownSituation}
	ErrUnknownBranch        = &Error{Code: CodeUnknownBranch}
	ErrUnknownSeed          = &Error{Code: CodeUnknownSeed}
	ErrNotResolvable        = &Error{Code: CodeNotResolvable}
	ErrSituationClosed      = &Error{Code: CodeSituationClosed}
	ErrInvalidTransition    = &Error{Code: CodeInvalidTransition}
	ErrInvalidEffect        = &Error{Code: CodeInvalidEffect}
	ErrTimeRegression       = &Error{Code: CodeTimeRegression}
)

// Errorf creates a domain error with a formatted reason
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error around an underlying cause
func Wrap(code Code, reason string, cause error) *Error {
	return &Error{Code: code, Reason: reason, Cause: cause}
}

// For attaches a situation id
func (e *Error) For(situationID string) *Error {
	e.SituationID = situationID
	return e
}

// CodeOf extracts the domain code from err, or "" if err is not a domain error
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ReasonOf returns the user-facing reason text of a domain error, falling
// back to the error string
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
