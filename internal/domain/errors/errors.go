package errors

import (
	"errors"
	"fmt"
)

var (
	// Precondition errors
	ErrEmptyCart               = errors.New("cart is empty")
	ErrStationLocked           = errors.New("station is locked: terminal release not confirmed")
	ErrAuthorizationInProgress = errors.New("an authorization is already in progress")
	ErrUnknownMethod           = errors.New("unknown payment method")
	ErrChannelNotSupported     = errors.New("payment channel not supported")

	// Session errors
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrPaymentNotApproved     = errors.New("payment not approved")
	ErrAmountChanged          = errors.New("cart total changed since authorization")
	ErrSessionInvalidated     = errors.New("authorization session invalidated")
	ErrOrchestratorClosed     = errors.New("orchestrator is closed")

	// Provider errors
	ErrProviderNotFound      = errors.New("payment provider not found")
	ErrProviderNotConfigured = errors.New("payment provider not configured")
	ErrProviderUnavailable   = errors.New("payment provider unavailable")
	ErrProviderRejected      = errors.New("payment rejected by provider")
	ErrProviderTimeout       = errors.New("provider request timeout")
	ErrTerminalBusy          = errors.New("terminal already has a pending charge")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidAmount    = errors.New("invalid amount")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
