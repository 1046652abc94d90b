// Package apierror defines the error taxonomy surfaced by the byapi client.
//
// Every failure returned by the request layer is an *Error carrying a Kind.
// Callers branch on the kind with errors.Is against the sentinel values:
//
//	if errors.Is(err, apierror.ErrAuthentication) { ... }
package apierror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindAuthentication Kind = "authentication_error"
	KindData           Kind = "data_error"
	KindNotFound       Kind = "not_found_error"
	KindRateLimit      Kind = "rate_limit_error"
	KindNetwork        Kind = "network_error"
	KindConfiguration  Kind = "configuration_error"
)

// Sentinels for errors.Is matching. They compare equal to any *Error of the
// same kind.
var (
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrData           = &Error{Kind: KindData}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrRateLimit      = &Error{Kind: KindRateLimit}
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrConfiguration  = &Error{Kind: KindConfiguration}
)

// Error is a classified client failure.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int // 0 when no HTTP response was involved
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

func newError(kind Kind, statusCode int, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:       kind,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
		Cause:      cause,
	}
}

func Authentication(statusCode int, format string, args ...any) *Error {
	return newError(KindAuthentication, statusCode, nil, format, args...)
}

func Data(statusCode int, cause error, format string, args ...any) *Error {
	return newError(KindData, statusCode, cause, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, 0, nil, format, args...)
}

func RateLimit(statusCode int, cause error, format string, args ...any) *Error {
	return newError(KindRateLimit, statusCode, cause, format, args...)
}

func Network(statusCode int, cause error, format string, args ...any) *Error {
	return newError(KindNetwork, statusCode, cause, format, args...)
}

func Configuration(format string, args ...any) *Error {
	return newError(KindConfiguration, 0, nil, format, args...)
}
