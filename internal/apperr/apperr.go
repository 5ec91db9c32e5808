// Package apperr defines the closed set of application error codes and the
// uniform envelope they are rendered through at the API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeInvalidImage       Code = "INVALID_IMAGE"
	CodeFaceNotDetected    Code = "FACE_NOT_DETECTED"
	CodeLowQuality         Code = "LOW_QUALITY"
	CodeInvalidFaceAngle   Code = "INVALID_FACE_ANGLE"
	CodeUserNotFound       Code = "USER_NOT_FOUND"
	CodeFaceNotFound       Code = "FACE_NOT_FOUND"
	CodeOrgNotFound        Code = "ORG_NOT_FOUND"
	CodeEventNotFound      Code = "EVENT_NOT_FOUND"
	CodeInactiveUser       Code = "INACTIVE_USER"
	CodeFaceAlreadyExists  Code = "FACE_ALREADY_EXISTS"
	CodeAmbiguousMatch     Code = "AMBIGUOUS_MATCH"
	CodeCapacityExceeded   Code = "CAPACITY_EXCEEDED"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeWorkerUnavailable  Code = "WORKER_UNAVAILABLE"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeCrossOrgAccess     Code = "USER_RELATED_WITH_ANOTHER_ORG"
	CodeInternal           Code = "INTERNAL_ERROR"
)

var statusByCode = map[Code]int{
	CodeInvalidRequest:     http.StatusBadRequest,
	CodeInvalidImage:       http.StatusBadRequest,
	CodeFaceNotDetected:    http.StatusBadRequest,
	CodeLowQuality:         http.StatusBadRequest,
	CodeInvalidFaceAngle:   http.StatusUnprocessableEntity,
	CodeUserNotFound:       http.StatusNotFound,
	CodeFaceNotFound:       http.StatusNotFound,
	CodeOrgNotFound:        http.StatusNotFound,
	CodeEventNotFound:      http.StatusNotFound,
	CodeInactiveUser:       http.StatusForbidden,
	CodeFaceAlreadyExists:  http.StatusConflict,
	CodeAmbiguousMatch:     http.StatusConflict,
	CodeCapacityExceeded:   http.StatusTooManyRequests,
	CodeRateLimitExceeded:  http.StatusTooManyRequests,
	CodeWorkerUnavailable:  http.StatusServiceUnavailable,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeCrossOrgAccess:     http.StatusForbidden,
	CodeInternal:           http.StatusInternalServerError,
}

var messageByCode = map[Code]string{
	CodeInvalidRequest:     "invalid request parameters",
	CodeInvalidImage:       "invalid image format, only jpg, jpeg and png are accepted",
	CodeFaceNotDetected:    "no face found in the image, please capture again",
	CodeLowQuality:         "image quality too low, improve lighting and capture again",
	CodeInvalidFaceAngle:   "face angle unsuitable, please capture facing forward",
	CodeUserNotFound:       "identity is not registered",
	CodeFaceNotFound:       "face record not found",
	CodeOrgNotFound:        "organization not found",
	CodeEventNotFound:      "detection event not found",
	CodeInactiveUser:       "identity has been deactivated",
	CodeFaceAlreadyExists:  "face is already registered",
	CodeAmbiguousMatch:     "multiple identities match equally well, capture again",
	CodeCapacityExceeded:   "organization identity capacity reached",
	CodeRateLimitExceeded:  "request limit exceeded, try again shortly",
	CodeWorkerUnavailable:  "worker service is currently unavailable, try again shortly",
	CodeServiceUnavailable: "service temporarily unavailable, try again shortly",
	CodeCrossOrgAccess:     "identity belongs to another organization",
	CodeInternal:           "internal server error",
}

// Error is a domain failure carrying a stable code. The wrapped cause is
// for logs only and never reaches the API envelope.
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

// New returns an Error with the code's default message.
func New(code Code) *Error {
	return &Error{Code: code, Message: messageByCode[code]}
}

// Newf returns an Error with a custom message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a coded error.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Message: messageByCode[code], cause: cause}
}

// From maps any error to an *Error. Unknown errors become INTERNAL_ERROR
// so internals never leak through the envelope.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Code: CodeInternal, Message: messageByCode[CodeInternal], cause: err}
}

// CodeOf extracts the code from an error chain, INTERNAL_ERROR if none.
func CodeOf(err error) Code {
	return From(err).Code
}

// HTTPStatus returns the HTTP status mapped to the error's code.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller may retry with backoff. Only the
// availability class qualifies; input-quality errors must never be retried
// with the same image.
func (c Code) Retryable() bool {
	switch c {
	case CodeRateLimitExceeded, CodeWorkerUnavailable, CodeServiceUnavailable:
		return true
	}
	return false
}

// Envelope is the uniform error body: {"success": false, "error": {...}}.
type Envelope struct {
	Success bool `json:"success"`
	Err     Body `json:"error"`
}

type Body struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// ToEnvelope renders an error for the API boundary.
func ToEnvelope(err error) (int, Envelope) {
	ae := From(err)
	return ae.HTTPStatus(), Envelope{Success: false, Err: Body{Code: ae.Code, Message: ae.Message}}
}
