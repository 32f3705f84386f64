package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeBadRequest   = "BAD_REQUEST"
	CodeNotFound     = "NOT_FOUND"
	CodeUnavailable  = "UNAVAILABLE"
	CodeInternal     = "INTERNAL_ERROR"
	CodeNotConnected = "NOT_CONNECTED"
	CodeBadPayload   = "BAD_PAYLOAD"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func Forbidden(message string, err error) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Unavailable marks a transient failure: a 5xx answer or a network error.
func Unavailable(message string, err error) *AppError {
	return &AppError{
		Code:    CodeUnavailable,
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func NotConnected(message string) *AppError {
	return &AppError{
		Code:    CodeNotConnected,
		Message: message,
		Status:  http.StatusServiceUnavailable,
	}
}

func BadPayload(message string, err error) *AppError {
	return &AppError{
		Code:    CodeBadPayload,
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     err,
	}
}

// FromStatus classifies an upstream HTTP status into an AppError.
func FromStatus(status int, message string) *AppError {
	switch {
	case status == http.StatusUnauthorized:
		return Unauthorized(message, nil)
	case status == http.StatusForbidden:
		return Forbidden(message, nil)
	case status == http.StatusNotFound:
		return NotFound(message, nil)
	case status >= http.StatusInternalServerError:
		return New(CodeUnavailable, message, status, nil)
	default:
		return New(CodeBadRequest, message, status, nil)
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsAuth reports whether err is a terminal 401/403 failure.
func IsAuth(err error) bool {
	return Is(err, CodeUnauthorized) || Is(err, CodeForbidden)
}

// IsRetryable reports whether err is worth retrying. Errors that are not
// AppErrors are treated as network failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	return appErr.Code == CodeUnavailable
}
