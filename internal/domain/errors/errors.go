package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// Notification errors
	ErrNotConfigured    = errors.New("mail delivery is not configured")
	ErrValidationFailed = errors.New("validation failed")
	ErrDeliveryFailed   = errors.New("email delivery failed")

	// Provider errors
	ErrProviderNotFound    = errors.New("email provider not found")
	ErrProviderUnavailable = errors.New("email provider unavailable")
	ErrProviderTimeout     = errors.New("provider request timeout")

	// Outbox errors
	ErrOutboxEntryNotFound = errors.New("outbox entry not found")

	// Settings errors
	ErrSettingNotFound = errors.New("setting not found")
	ErrInvalidSetting  = errors.New("invalid setting value")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
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

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// ValidationErrors aggregates every rule a message violated.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "invalid email parameters: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// ConfigurationError reports missing sender identity or provider credentials.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "mail configuration incomplete: missing " + strings.Join(e.Missing, ", ")
}

func (e *ConfigurationError) Unwrap() error {
	return ErrNotConfigured
}

// DeliveryError is returned by providers when a send attempt fails.
// StatusCode follows HTTP semantics even for non-HTTP transports.
type DeliveryError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%s: delivery failed with status %d", e.Provider, e.StatusCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *DeliveryError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrDeliveryFailed
}

// NewDeliveryError creates a new delivery error
func NewDeliveryError(provider string, status int, body string, err error) *DeliveryError {
	return &DeliveryError{
		Provider:   provider,
		StatusCode: status,
		Body:       body,
		Err:        err,
	}
}

// IsClientError reports whether err is a non-retriable 4xx delivery failure.
// 429 (throttling) and 408 (request timeout, also used for aborted calls)
// stay retriable.
func IsClientError(err error) bool {
	var de *DeliveryError
	if !errors.As(err, &de) {
		return false
	}
	return de.StatusCode >= 400 && de.StatusCode < 500 && de.StatusCode != http.StatusTooManyRequests &&
		de.StatusCode != http.StatusRequestTimeout
}

// IsRetriable reports whether a failed delivery may succeed when attempted again.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) || errors.Is(err, ErrValidationFailed) {
		return false
	}
	return !IsClientError(err)
}

// StatusCode extracts the delivery status from err, or 0 if none is known.
func StatusCode(err error) int {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.StatusCode
	}
	return 0
}
