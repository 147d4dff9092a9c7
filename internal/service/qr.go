package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/delegation-service/internal/errors"
	"github.com/delegation-service/internal/logging"
)

// QRService builds the payload a delegator shows to a child device
type QRService struct {
	validator *Validator
	now       func() time.Time
}

// NewQRService creates a new QR service
func NewQRService(validator *Validator) *QRService {
	return &QRService{validator: validator, now: time.Now}
}

// GenerateQRInput represents input for generating a connection QR code
type GenerateQRInput struct {
	DelegatorAddress string      `json:"delegatorAddress"`
	MaxAmount        interface{} `json:"maxAmount"`
	Alias            string      `json:"alias,omitempty"`
}

// QRPayload is what the child app scans and posts back to connect-child
type QRPayload struct {
	Delegator   string  `json:"delegator"`
	Token       string  `json:"token"`
	MaxAmount   float64 `json:"maxAmount"`
	WeeklyLimit int64   `json:"weeklyLimit"`
	Timestamp   int64   `json:"timestamp"`
	Alias       string  `json:"alias"`
}

// QRResult carries the payload and its JSON encoding
type QRResult struct {
	QRData  string     `json:"qrData"`
	Payload *QRPayload `json:"payload"`
}

// Generate validates the delegator and allocation and builds the QR payload
func (s *QRService) Generate(ctx context.Context, input *GenerateQRInput) (*QRResult, error) {
	if input == nil {
		input = &GenerateQRInput{}
	}
	if !ValidateAddress(input.DelegatorAddress) {
		return nil, apperrors.NewInvalidDelegatorAddressError(input.DelegatorAddress)
	}
	maxAmount, ok := ValidateAmount(input.MaxAmount)
	if !ok {
		return nil, apperrors.NewInvalidAmountError("maxAmount", "must be a finite number greater than 0")
	}
	weeklyLimit, ok := ComputeWeeklyLimit(maxAmount)
	if !ok {
		return nil, apperrors.NewInvalidAmountError("maxAmount", "is too large")
	}

	payload := &QRPayload{
		Delegator:   input.DelegatorAddress,
		Token:       s.validator.AllowedToken(),
		MaxAmount:   maxAmount,
		WeeklyLimit: weeklyLimit,
		Timestamp:   s.now().UnixMilli(),
		Alias:       input.Alias,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode QR payload", fmt.Errorf("marshal: %w", err))
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"delegator": payload.Delegator,
		"maxAmount": payload.MaxAmount,
	}).Debug("QR payload generated")

	return &QRResult{QRData: string(data), Payload: payload}, nil
}
