// Package cerrors defines the error taxonomy shared by every layer of the
// session runtime (interpreter, control protocol, execution engine, stream
// hub, session, session manager) and the HTTP status each one maps to.
package cerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies which taxonomy bucket an error belongs to.
type Code string

const (
	CodeNotFound          Code = "not_found"
	CodeAlreadyExists     Code = "already_exists"
	CodeDuplicateExecution Code = "duplicate_execution"
	CodeStartupFailed     Code = "startup_failed"
	CodePeerGone          Code = "peer_gone"
	CodeTimeout           Code = "timeout"
	CodeUnauthorized      Code = "unauthorized"
	CodeBadRequest        Code = "bad_request"
	CodeInternal          Code = "internal"
)

// httpStatus is the canonical status each taxonomy code maps to.
var httpStatus = map[Code]int{
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeDuplicateExecution: http.StatusConflict,
	CodeStartupFailed:      http.StatusBadGateway,
	CodePeerGone:           http.StatusOK, // PeerGone mid-execution surfaces as a 2xx result with success=false
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeBadRequest:         http.StatusBadRequest,
	CodeInternal:           http.StatusInternalServerError,
}

// Error is a taxonomy-tagged error carrying the component-local message.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code this error's taxonomy bucket maps to.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func NotFound(format string, args ...interface{}) *Error {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

func AlreadyExists(format string, args ...interface{}) *Error {
	return New(CodeAlreadyExists, fmt.Sprintf(format, args...))
}

func DuplicateExecution(format string, args ...interface{}) *Error {
	return New(CodeDuplicateExecution, fmt.Sprintf(format, args...))
}

func StartupFailed(cause error, format string, args ...interface{}) *Error {
	return Wrap(CodeStartupFailed, fmt.Sprintf(format, args...), cause)
}

func PeerGone(format string, args ...interface{}) *Error {
	return New(CodePeerGone, fmt.Sprintf(format, args...))
}

func Timeout(format string, args ...interface{}) *Error {
	return New(CodeTimeout, fmt.Sprintf(format, args...))
}

func Unauthorized(format string, args ...interface{}) *Error {
	return New(CodeUnauthorized, fmt.Sprintf(format, args...))
}

func BadRequest(format string, args ...interface{}) *Error {
	return New(CodeBadRequest, fmt.Sprintf(format, args...))
}

func Internal(cause error, format string, args ...interface{}) *Error {
	return Wrap(CodeInternal, fmt.Sprintf(format, args...), cause)
}

// As extracts a *Error from err, following the standard errors.As protocol.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// StatusFor returns the HTTP status for any error, defaulting to 500 for
// errors outside the taxonomy.
func StatusFor(err error) int {
	if ce, ok := As(err); ok {
		return ce.HTTPStatus()
	}
	return http.StatusInternalServerError
}
