package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeNetwork represents transport failures (dial, read, 5xx)
	ErrTypeNetwork ErrorType = "network"
	// ErrTypeAuth represents wrong credentials (Subsonic code 40)
	ErrTypeAuth ErrorType = "auth"
	// ErrTypeNotAuthorized represents a user lacking a permission (Subsonic code 50)
	ErrTypeNotAuthorized ErrorType = "not_authorized"
	// ErrTypeServerTooOld represents a server below the required API version
	ErrTypeServerTooOld ErrorType = "server_too_old"
	// ErrTypeOffline represents an operation that needs a server while in offline mode
	ErrTypeOffline ErrorType = "offline"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeFileSystem represents file system errors
	ErrTypeFileSystem ErrorType = "filesystem"
	// ErrTypeCancelled represents an operation stopped by its context
	ErrTypeCancelled ErrorType = "cancelled"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeServer represents any other error reported by the server
	ErrTypeServer ErrorType = "server"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// Subsonic REST error codes.
const (
	CodeGeneric       = 0
	CodeMissingParam  = 10
	CodeClientTooOld  = 20
	CodeServerTooOld  = 30
	CodeWrongAuth     = 40
	CodeNotAuthorized = 50
	CodeTrialExpired  = 60
	CodeNotFound      = 70
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType
	Message   string
	Code      int
	Retryable bool
	Cause     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeNetwork,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewAuthError creates a new authentication error
func NewAuthError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeAuth,
		Message: message,
		Code:    CodeWrongAuth,
		Cause:   cause,
	}
}

// NewNotAuthorizedError creates an error for a user that lacks a server permission
func NewNotAuthorizedError(message string) *AppError {
	return &AppError{
		Type:    ErrTypeNotAuthorized,
		Message: message,
		Code:    CodeNotAuthorized,
	}
}

// NewServerTooOldError reports that the server speaks an older API than required
func NewServerTooOldError(serverVersion, required string) *AppError {
	return &AppError{
		Type:    ErrTypeServerTooOld,
		Message: fmt.Sprintf("server version %s is older than required %s", serverVersion, required),
		Code:    CodeServerTooOld,
	}
}

// NewOfflineError creates an error for an operation attempted in offline mode
func NewOfflineError(operation string) *AppError {
	return &AppError{
		Type:    ErrTypeOffline,
		Message: fmt.Sprintf("%s is not available in offline mode", operation),
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: message,
		Code:    CodeNotFound,
	}
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeFileSystem,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewCancelledError wraps a context error
func NewCancelledError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeCancelled,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: message,
	}
}

// NewServerError maps a Subsonic error code to a classified error.
func NewServerError(code int, message string) *AppError {
	switch code {
	case CodeWrongAuth:
		return NewAuthError(message, nil)
	case CodeNotAuthorized:
		return NewNotAuthorizedError(message)
	case CodeNotFound:
		return NewNotFoundError(message)
	case CodeServerTooOld:
		return &AppError{Type: ErrTypeServerTooOld, Message: message, Code: code}
	}
	return &AppError{
		Type:    ErrTypeServer,
		Message: message,
		Code:    code,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return ErrTypeCancelled
	}
	return ErrTypeUnknown
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	return GetErrorType(err) == ErrTypeAuth
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	return GetErrorType(err) == ErrTypeNetwork
}

// IsCancelled reports whether err came from a cancelled context.
func IsCancelled(err error) bool {
	return err != nil && GetErrorType(err) == ErrTypeCancelled
}

// IsTerminalJukebox reports whether a jukebox failure should end the jukebox
// session: the server cannot serve jukebox requests at all.
func IsTerminalJukebox(err error) bool {
	switch GetErrorType(err) {
	case ErrTypeServerTooOld, ErrTypeOffline, ErrTypeNotAuthorized:
		return true
	}
	return false
}
