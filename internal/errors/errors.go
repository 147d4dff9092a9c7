package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/delegation-service/internal/adapter"
	"github.com/delegation-service/internal/storage"
	"github.com/delegation-service/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryProvider represents custodial wallet or chain provider errors
	CategoryProvider ErrorCategory = "provider"
	// CategoryDependency represents account store errors
	CategoryDependency ErrorCategory = "dependency"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

func inputError(code, message string, details map[string]interface{}) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       code,
		Message:    message,
		Details:    details,
	}
}

// User Input Errors (4xx)

// NewInvalidChildAddressError creates an error for a malformed child address
func NewInvalidChildAddressError(address string) *CategorizedError {
	return inputError(types.CodeInvalidChildAddress,
		"child address must be a 0x-prefixed 40 character hex string",
		map[string]interface{}{"address": address})
}

// NewInvalidDelegatorAddressError creates an error for a malformed delegator address
func NewInvalidDelegatorAddressError(address string) *CategorizedError {
	return inputError(types.CodeInvalidDelegatorAddress,
		"delegator address must be a 0x-prefixed 40 character hex string",
		map[string]interface{}{"delegatorAddress": address})
}

// NewInvalidTokenError creates an error for a token outside the allow-list
func NewInvalidTokenError(token string) *CategorizedError {
	return inputError(types.CodeInvalidToken,
		"only USDC is supported",
		map[string]interface{}{"tokenAddress": token})
}

// NewInvalidAmountError creates an error for a non-positive or non-numeric amount
func NewInvalidAmountError(field string, reason string) *CategorizedError {
	return inputError(types.CodeInvalidAmount,
		fmt.Sprintf("invalid %s: %s", field, reason),
		map[string]interface{}{"field": field, "reason": reason})
}

// NewInvalidAddressError creates an invalid address error
func NewInvalidAddressError(address string) *CategorizedError {
	return inputError(types.CodeInvalidAddress,
		fmt.Sprintf("invalid address format: %s", address),
		map[string]interface{}{"address": address})
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       types.CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewInvalidInputError creates an error for an unreadable request body
func NewInvalidInputError(message string) *CategorizedError {
	return inputError(types.CodeInvalidInput, message, nil)
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       types.CodeForbidden,
		Message:    message,
	}
}

// NewChildNotFoundError creates a not found error for a child address
func NewChildNotFoundError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       types.CodeChildNotFound,
		Message:    "Child not found",
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       types.CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       types.CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// NewStoreUnavailableError creates an account store error
func NewStoreUnavailableError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDependency,
		StatusCode: http.StatusInternalServerError,
		Code:       types.CodeStoreUnavailable,
		Message:    fmt.Sprintf("account store unavailable during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Provider Errors

// NewProviderError creates a provider error
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       types.CodeProviderError,
		Message:    fmt.Sprintf("provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewProviderUnavailableError creates an error for a provider that is not configured or tripped
func NewProviderUnavailableError(provider string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusServiceUnavailable,
		Code:       types.CodeProviderUnavailable,
		Message:    fmt.Sprintf("provider unavailable: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	switch {
	case stderrors.Is(err, storage.ErrAccountNotFound):
		return &CategorizedError{
			Category:   CategoryNotFound,
			StatusCode: http.StatusNotFound,
			Code:       types.CodeChildNotFound,
			Message:    "Child not found",
			Cause:      err,
		}
	case stderrors.Is(err, storage.ErrAccountExists):
		return &CategorizedError{
			Category:   CategoryConflict,
			StatusCode: http.StatusConflict,
			Code:       types.CodeChildExists,
			Message:    "child account already exists",
			Cause:      err,
		}
	case stderrors.Is(err, storage.ErrLockTimeout):
		return &CategorizedError{
			Category:   CategoryConflict,
			StatusCode: http.StatusConflict,
			Code:       types.CodeConflict,
			Message:    "another request for this child is in progress",
			Cause:      err,
		}
	case stderrors.Is(err, storage.ErrStoreUnavailable):
		return NewStoreUnavailableError("request", err)
	case stderrors.Is(err, adapter.ErrProviderUnavailable):
		catErr := NewProviderUnavailableError("wallet")
		catErr.Cause = err
		return catErr
	case stderrors.Is(err, adapter.ErrChainUnavailable):
		catErr := NewProviderUnavailableError("chain")
		catErr.Cause = err
		return catErr
	case stderrors.Is(err, context.DeadlineExceeded):
		catErr := NewProviderError("timeout", err)
		catErr.StatusCode = http.StatusGatewayTimeout
		return catErr
	}

	var provErr *adapter.ProviderError
	if stderrors.As(err, &provErr) {
		return NewProviderError(provErr.Provider, err)
	}

	// Default to internal error
	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	switch err.Code {
	case types.CodeInvalidChildAddress, types.CodeInvalidDelegatorAddress, types.CodeInvalidToken,
		types.CodeInvalidAmount, types.CodeInvalidAddress, types.CodeInvalidInput:
		return &CategorizedError{
			Category:   CategoryUserInput,
			StatusCode: http.StatusBadRequest,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case types.CodeInvalidParameter:
		return &CategorizedError{
			Category:   CategoryValidation,
			StatusCode: http.StatusBadRequest,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case types.CodeChildNotFound:
		return &CategorizedError{
			Category:   CategoryNotFound,
			StatusCode: http.StatusNotFound,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case types.CodeForbidden:
		return &CategorizedError{
			Category:   CategoryAuthorization,
			StatusCode: http.StatusForbidden,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case types.CodeProviderUnavailable:
		return &CategorizedError{
			Category:   CategoryProvider,
			StatusCode: http.StatusServiceUnavailable,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	default:
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 500
}
