package utils

import (
	"errors"
	"net/http"
	"strings"
)

// Code classifies a failure for API clients. The interview handlers and the
// websocket channel render it next to the message.
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT" // malformed request, missing role or session id
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN" // session owned by another candidate
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"            // interview already finished or cancelled
	CodePrecondition    Code = "FAILED_PRECONDITION" // wrong interview state for the call
	CodeUnprocessable   Code = "UNPROCESSABLE"       // empty answer, unsupported recording format
	CodeUnavailable     Code = "UNAVAILABLE"         // camera, storage or inference backend down
	CodeTimeout         Code = "TIMEOUT"
	CodeInternal        Code = "INTERNAL"
)

var statusByCode = map[Code]int{
	CodeInvalidArgument: http.StatusBadRequest,
	CodeUnauthorized:    http.StatusUnauthorized,
	CodeForbidden:       http.StatusForbidden,
	CodeNotFound:        http.StatusNotFound,
	CodeConflict:        http.StatusConflict,
	CodePrecondition:    http.StatusConflict,
	CodeUnprocessable:   http.StatusUnprocessableEntity,
	CodeUnavailable:     http.StatusServiceUnavailable,
	CodeTimeout:         http.StatusGatewayTimeout,
	CodeInternal:        http.StatusInternalServerError,
}

// ErrNotFound is returned by the session and result repositories for a
// missing row.
var ErrNotFound = errors.New("not found")

// AppError carries a failure from the interview service to the handlers.
// Message is shown to the candidate; Err is only logged.
type AppError struct {
	Code    Code
	Op      string // e.g. "InterviewService.Start"
	Message string
	Err     error
}

// Error joins the non-empty parts as "op: message: cause".
func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 3)
	if e.Op != "" && (e.Message != "" || e.Err != nil) {
		parts = append(parts, e.Op)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return "error"
	}
	return strings.Join(parts, ": ")
}

func (e *AppError) Unwrap() error { return e.Err }

// E builds an AppError. Every service method names itself in op.
func E(code Code, op, msg string, err error) error {
	return &AppError{Code: code, Op: op, Message: msg, Err: err}
}

func IsCode(err error, code Code) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Code == code
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// HTTPStatus maps err to a response status. Bare repository misses map to
// 404; anything else without a code is a 500.
func HTTPStatus(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		if st, ok := statusByCode[ae.Code]; ok {
			return st
		}
		return http.StatusInternalServerError
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
