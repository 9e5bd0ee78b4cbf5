package errors

import (
	"context"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Type:    ErrTypeNetwork,
				Message: "connection failed",
			},
			expected: "network: connection failed",
		},
		{
			name: "error with cause",
			err: &AppError{
				Type:    ErrTypeNetwork,
				Message: "connection failed",
				Cause:   fmt.Errorf("dial tcp: timeout"),
			},
			expected: "network: connection failed (caused by: dial tcp: timeout)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := &AppError{
		Type:  ErrTypeNetwork,
		Cause: cause,
	}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestNewServerError(t *testing.T) {
	tests := []struct {
		code     int
		wantType ErrorType
	}{
		{CodeWrongAuth, ErrTypeAuth},
		{CodeNotAuthorized, ErrTypeNotAuthorized},
		{CodeServerTooOld, ErrTypeServerTooOld},
		{CodeNotFound, ErrTypeNotFound},
		{CodeMissingParam, ErrTypeServer},
		{CodeGeneric, ErrTypeServer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code %d", tt.code), func(t *testing.T) {
			err := NewServerError(tt.code, "boom")
			if err.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", err.Type, tt.wantType)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %v, want %v", err.Code, tt.code)
			}
		})
	}
}

func TestGetErrorType_Wrapped(t *testing.T) {
	err := fmt.Errorf("jukebox skip: %w", NewOfflineError("jukebox"))
	if got := GetErrorType(err); got != ErrTypeOffline {
		t.Errorf("GetErrorType() = %v, want %v", got, ErrTypeOffline)
	}
	if got := GetErrorType(fmt.Errorf("plain")); got != ErrTypeUnknown {
		t.Errorf("GetErrorType() = %v, want %v", got, ErrTypeUnknown)
	}
}

func TestIsCancelled(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, true},
		{"wrapped context canceled", fmt.Errorf("read: %w", context.Canceled), true},
		{"deadline", context.DeadlineExceeded, true},
		{"app cancelled", NewCancelledError("stop", nil), true},
		{"network", NewNetworkError("reset", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCancelled(tt.err); got != tt.want {
				t.Errorf("IsCancelled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTerminalJukebox(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server too old", NewServerTooOldError("1.6.0", "1.7.0"), true},
		{"offline", NewOfflineError("jukebox"), true},
		{"not authorized", NewNotAuthorizedError("no jukebox role"), true},
		{"network", NewNetworkError("timeout", nil), false},
		{"wrong auth", NewAuthError("bad password", nil), false},
		{"plain", fmt.Errorf("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTerminalJukebox(tt.err); got != tt.want {
				t.Errorf("IsTerminalJukebox() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewNetworkError("x", nil)) {
		t.Error("network errors should be retryable")
	}
	if IsRetryable(NewValidationError("x")) {
		t.Error("validation errors should not be retryable")
	}
	if IsRetryable(fmt.Errorf("x")) {
		t.Error("plain errors should not be retryable")
	}
}
