// Package apperr defines the application's operational error type and the
// closed error-code taxonomy exposed to clients. Errors carry an HTTP
// status, a stable code, and a localized message.
package apperr

import (
	"errors"
	"net/http"

	"github.com/ajeer/ajeer-backend/internal/locales"
)

// Error is an operational error with a client-safe code and message.
type Error struct {
	Code    string
	Status  int
	Message string
	Details map[string]interface{}
	cause   error
}

// New builds an Error with a message localized from the code and details.
// The locale is read from details["locale"] when present.
func New(code string, status int, details map[string]interface{}) *Error {
	locale := "en"
	if details != nil {
		if l, ok := details["locale"].(string); ok {
			locale = l
		}
	}
	return &Error{
		Code:    code,
		Status:  status,
		Message: locales.Message(code, details, locale),
		Details: details,
	}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches the underlying error for logging without exposing it
// in the client-facing message.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// Validation returns a 400 error.
func Validation(code string, details map[string]interface{}) *Error {
	return New(code, http.StatusBadRequest, details)
}

// NotFound returns a 404 error.
func NotFound(code string, details map[string]interface{}) *Error {
	return New(code, http.StatusNotFound, details)
}

// Forbidden returns a 403 error.
func Forbidden(code string, details map[string]interface{}) *Error {
	return New(code, http.StatusForbidden, details)
}

// RateLimit returns a 429 error.
func RateLimit(code string, details map[string]interface{}) *Error {
	return New(code, http.StatusTooManyRequests, details)
}

// Processing returns a 500 error.
func Processing(code string, details map[string]interface{}) *Error {
	return New(code, http.StatusInternalServerError, details)
}

// SafeError is the sanitized form sent to clients.
type SafeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Sanitize converts any error into a client-safe payload. Outside
// development mode, non-operational errors collapse to a generic internal
// error so internals never leak.
func Sanitize(err error, development bool) SafeError {
	var appErr *Error
	if errors.As(err, &appErr) {
		return SafeError{Code: appErr.Code, Message: appErr.Message}
	}
	safe := SafeError{Code: CodeInternal, Message: "Internal server error"}
	if development && err != nil {
		safe.Message = err.Error()
	}
	return safe
}

// StatusOf returns the HTTP status for an error, defaulting to 500.
func StatusOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
