// Package apperrors defines the structured error taxonomy used across
// the bridge: every failure path produces an AppError carrying both an
// HTTP status and a machine-readable code, per spec.md §7.
package apperrors

import (
	"fmt"
	"net/http"
)

// Well-known codes covering the spec.md §7 error categories. Malformed
// requests use BAD_REQUEST or ACTION_REQUIRED (405); transport-policy
// violations use FORBIDDEN or CONFLICT.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeConflict         = "CONFLICT"
	CodeActionRequired   = "ACTION_REQUIRED"
	CodeNotImplemented   = "NOT_IMPLEMENTED"
	CodeBusInconsistency = "BUS_INCONSISTENCY"
	CodeDeliveryFailure  = "DELIVERY_FAILURE"
	CodeStartupFailure   = "STARTUP_FAILURE"
)

var statusByCode = map[string]int{
	CodeBadRequest:       http.StatusBadRequest,
	CodeActionRequired:   http.StatusMethodNotAllowed,
	CodeUnauthorized:     http.StatusUnauthorized,
	CodeForbidden:        http.StatusForbidden,
	CodeConflict:         http.StatusConflict,
	CodeNotImplemented:   http.StatusNotImplemented,
	CodeBusInconsistency: http.StatusInternalServerError,
	CodeDeliveryFailure:  http.StatusInternalServerError,
	CodeStartupFailure:   http.StatusInternalServerError,
}

// AppError is a structured application error carrying an HTTP status,
// a machine-readable code, and optional wrapped cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code the Request Handler should write
// for this error.
func (e *AppError) HTTPStatus() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New creates an AppError with the given code and message.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches code and message context to an existing error.
func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func BadRequest(message string) *AppError       { return New(CodeBadRequest, message) }
func Unauthorized(message string) *AppError     { return New(CodeUnauthorized, message) }
func Forbidden(message string) *AppError        { return New(CodeForbidden, message) }
func Conflict(message string) *AppError         { return New(CodeConflict, message) }
func NotImplemented(message string) *AppError   { return New(CodeNotImplemented, message) }
func BusInconsistency(message string) *AppError { return New(CodeBusInconsistency, message) }
func DeliveryFailure(message string) *AppError  { return New(CodeDeliveryFailure, message) }
func StartupFailure(err error, message string) *AppError {
	return Wrap(err, CodeStartupFailure, message)
}
