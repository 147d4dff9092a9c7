package service

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// addressLength is "0x" plus 40 hex digits
const addressLength = 42

// Validator gates untrusted input before it reaches a store or a provider
type Validator struct {
	allowedToken string
}

// NewValidator creates a validator for a single allowed token
func NewValidator(allowedToken string) *Validator {
	return &Validator{allowedToken: allowedToken}
}

// AllowedToken returns the configured token address as supplied
func (v *Validator) AllowedToken() string {
	return v.allowedToken
}

// ValidateAddress reports whether value is exactly "0x" followed by 40 hex digits
func ValidateAddress(value string) bool {
	if len(value) != addressLength || !strings.HasPrefix(value, "0x") {
		return false
	}
	return common.IsHexAddress(value)
}

// ValidateToken reports whether value is the allowed token, ignoring case
func (v *Validator) ValidateToken(value string) bool {
	if value == "" {
		return false
	}
	return strings.EqualFold(value, v.allowedToken)
}

// ValidateAmount converts value to a number and accepts it only if it is
// finite and strictly positive. Strings are parsed after trimming spaces.
func ValidateAmount(value interface{}) (float64, bool) {
	n, ok := toFloat(value)
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}

// validateNonNegative accepts finite numbers >= 0
func validateNonNegative(value interface{}) (float64, bool) {
	n, ok := toFloat(value)
	if !ok || n < 0 {
		return 0, false
	}
	return n, true
}

func toFloat(value interface{}) (float64, bool) {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}

	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
