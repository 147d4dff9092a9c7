// Package types provides common type definitions for the delegation service.
package types

// AccountStatus represents the lifecycle state of a child account
type AccountStatus string

const (
	// StatusActive represents an account that can spend within its limits
	StatusActive AccountStatus = "active"
	// StatusConnected represents an account that has just been linked to a delegator
	StatusConnected AccountStatus = "connected"
	// StatusRestricted represents an account whose spending has been suspended
	StatusRestricted AccountStatus = "restricted"
)

// Valid reports whether s is a known account status
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusConnected, StatusRestricted:
		return true
	}
	return false
}

// ActivityKind represents the type of an entry in a child's activity ledger
type ActivityKind string

const (
	// ActivityConnected is recorded when a new child account is created
	ActivityConnected ActivityKind = "connected"
	// ActivityReconnected is recorded when an existing child is connected again
	ActivityReconnected ActivityKind = "reconnected"
	// ActivityFundsAdded is recorded on every top-up
	ActivityFundsAdded ActivityKind = "funds_added"
	// ActivityFundingTransfer is recorded after the initial custodial funding attempt
	ActivityFundingTransfer ActivityKind = "funding_transfer"
	// ActivityUpdated is recorded when a delegator edits a child account
	ActivityUpdated ActivityKind = "updated"
)

// Reason codes carried in ServiceError.Code
const (
	CodeInvalidChildAddress     = "INVALID_CHILD_ADDRESS"
	CodeInvalidDelegatorAddress = "INVALID_DELEGATOR_ADDRESS"
	CodeInvalidToken            = "INVALID_TOKEN"
	CodeInvalidAmount           = "INVALID_AMOUNT"
	CodeInvalidAddress          = "INVALID_ADDRESS"
	CodeInvalidParameter        = "INVALID_PARAMETER"
	CodeInvalidInput            = "INVALID_INPUT"
	CodeChildNotFound           = "CHILD_NOT_FOUND"
	CodeChildExists             = "CHILD_EXISTS"
	CodeConflict                = "CONFLICT"
	CodeStoreUnavailable        = "STORE_UNAVAILABLE"
	CodeProviderError           = "PROVIDER_ERROR"
	CodeProviderUnavailable     = "PROVIDER_UNAVAILABLE"
	CodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	CodeForbidden               = "FORBIDDEN"
	CodeInternalError           = "INTERNAL_ERROR"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NewServiceError builds a ServiceError with optional details
func NewServiceError(code, message string, details map[string]interface{}) *ServiceError {
	return &ServiceError{Code: code, Message: message, Details: details}
}

// TokenBalance represents an on-chain balance of the delegated token
type TokenBalance struct {
	Address  string `json:"address"`
	Token    string `json:"token"`
	Balance  string `json:"balance"`  // Human readable, scaled by Decimals
	Raw      string `json:"raw"`      // Base units as returned by balanceOf
	Decimals int    `json:"decimals"` // Token decimals
}
