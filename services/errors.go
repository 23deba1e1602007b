package services

import (
	"errors"
	"fmt"

	"github.com/upb/rentiful/backend/identity"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeNoCredential       ErrorType = "no_credential"
	ErrorTypeInvalidCredential  ErrorType = "invalid_credential"
	ErrorTypeNoRole             ErrorType = "no_role"
	ErrorTypeForbidden          ErrorType = "forbidden"
	ErrorTypeConflict           ErrorType = "conflict"
	ErrorTypeInvalidCredentials ErrorType = "invalid_credentials"
	ErrorTypeResolution         ErrorType = "resolution_failure"
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeInternal           ErrorType = "internal"
)

// DomainError represents a structured error with additional context.
// Message is safe to return to clients; Err is for logs only.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Sentinels for errors.Is checks. Never attach details to these; build a
// fresh error with NewDomainError instead.
var (
	ErrNoCredential       = NewDomainError(ErrorTypeNoCredential, "authentication required", nil)
	ErrInvalidCredential  = NewDomainError(ErrorTypeInvalidCredential, "invalid or expired credential", nil)
	ErrNoRole             = NewDomainError(ErrorTypeNoRole, "credential carries no role", nil)
	ErrForbidden          = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrInvalidCredentials = NewDomainError(ErrorTypeInvalidCredentials, "invalid email or password", nil)
	ErrEmailTaken         = NewDomainError(ErrorTypeConflict, "email already registered", nil)
	ErrProfileNotFound    = NewDomainError(ErrorTypeNotFound, "profile not found", nil)
	ErrRateLimitExceeded  = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)
	ErrInternal           = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// NewProfileConflict reports that a concurrent request created the profile first.
// The caller may retry and will then find the existing profile.
func NewProfileConflict(err error) *DomainError {
	return NewDomainError(ErrorTypeConflict, "profile was created concurrently", err).
		WithDetail("retryable", true)
}

// NewEmailConflict reports that the email belongs to another profile.
// Retrying cannot succeed.
func NewEmailConflict(err error) *DomainError {
	return NewDomainError(ErrorTypeConflict, "email is already registered to another profile", err).
		WithDetail("retryable", false)
}

// NewRoleMismatch reports a subject that already holds a profile under another role
func NewRoleMismatch(registered identity.Role) *DomainError {
	return NewDomainError(ErrorTypeForbidden, "subject is registered under another role", nil).
		WithDetail("registeredRole", registered.String())
}

// NewResolutionFailure reports a downstream lookup or create failure
func NewResolutionFailure(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeResolution, message, err).
		WithDetail("retryable", true)
}

// FromIdentityError maps verifier rejections onto the domain taxonomy
func FromIdentityError(err error) *DomainError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrNoCredential):
		return NewDomainError(ErrorTypeNoCredential, ErrNoCredential.Message, err)
	case errors.Is(err, identity.ErrNoRole):
		return NewDomainError(ErrorTypeNoRole, ErrNoRole.Message, err)
	case errors.Is(err, identity.ErrInvalidCredential):
		return NewDomainError(ErrorTypeInvalidCredential, ErrInvalidCredential.Message, err)
	default:
		return NewDomainError(ErrorTypeInvalidCredential, ErrInvalidCredential.Message, err)
	}
}

// Error type checking helper functions

func hasType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsUnauthorizedError reports credential problems that map to 401
func IsUnauthorizedError(err error) bool {
	return hasType(err, ErrorTypeNoCredential) ||
		hasType(err, ErrorTypeInvalidCredential) ||
		hasType(err, ErrorTypeInvalidCredentials)
}

// IsForbiddenError reports authorization problems that map to 403
func IsForbiddenError(err error) bool {
	return hasType(err, ErrorTypeForbidden) || hasType(err, ErrorTypeNoRole)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsResolutionError checks if an error is a resolution failure
func IsResolutionError(err error) bool {
	return hasType(err, ErrorTypeResolution)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return hasType(err, ErrorTypeRateLimit)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) && len(domainErr.Details) > 0 {
		return domainErr.Details
	}
	return nil
}

// PublicMessage returns the client-safe message of a domain error
func PublicMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ErrInternal.Message
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
