package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeFaceNotDetected, http.StatusBadRequest},
		{CodeInvalidFaceAngle, http.StatusUnprocessableEntity},
		{CodeUserNotFound, http.StatusNotFound},
		{CodeFaceAlreadyExists, http.StatusConflict},
		{CodeAmbiguousMatch, http.StatusConflict},
		{CodeRateLimitExceeded, http.StatusTooManyRequests},
		{CodeWorkerUnavailable, http.StatusServiceUnavailable},
		{CodeCrossOrgAccess, http.StatusForbidden},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := New(tt.code).HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestFromPassthrough(t *testing.T) {
	orig := New(CodeUserNotFound)
	wrapped := fmt.Errorf("recognize: %w", orig)

	got := From(wrapped)
	if got.Code != CodeUserNotFound {
		t.Errorf("From(wrapped).Code = %s, want USER_NOT_FOUND", got.Code)
	}
}

func TestFromUnknownBecomesInternal(t *testing.T) {
	got := From(errors.New("pg connection refused"))
	if got.Code != CodeInternal {
		t.Errorf("From(unknown).Code = %s, want INTERNAL_ERROR", got.Code)
	}
	if got.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", got.HTTPStatus())
	}
}

func TestEnvelopeHidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.5:5432: connection refused")
	status, env := ToEnvelope(Wrap(CodeServiceUnavailable, cause))

	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
	if env.Success {
		t.Error("envelope success = true, want false")
	}
	if env.Err.Code != CodeServiceUnavailable {
		t.Errorf("envelope code = %s, want SERVICE_UNAVAILABLE", env.Err.Code)
	}
	if env.Err.Message != messageByCode[CodeServiceUnavailable] {
		t.Errorf("envelope message leaked cause: %q", env.Err.Message)
	}
}

func TestRetryableClass(t *testing.T) {
	retryable := []Code{CodeRateLimitExceeded, CodeWorkerUnavailable, CodeServiceUnavailable}
	for _, c := range retryable {
		if !c.Retryable() {
			t.Errorf("%s should be retryable", c)
		}
	}

	terminal := []Code{CodeFaceNotDetected, CodeLowQuality, CodeAmbiguousMatch, CodeCrossOrgAccess}
	for _, c := range terminal {
		if c.Retryable() {
			t.Errorf("%s must not be retryable", c)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CodeInternal, cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}
