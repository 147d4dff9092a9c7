// Package models provides data models for the delegation service.
package models

import (
	"strings"

	"github.com/delegation-service/internal/types"
)

// ChildAccount is the persisted record of a child linked to a delegator.
// Timestamps are milliseconds since the Unix epoch.
type ChildAccount struct {
	ID                     string              `json:"id" db:"id"`
	Address                string              `json:"address" db:"address"`
	DelegatorAddress       string              `json:"delegatorAddress" db:"delegator_address"`
	TokenAddress           string              `json:"tokenAddress" db:"token_address"`
	Alias                  string              `json:"alias" db:"alias"`
	MaxAmount              float64             `json:"maxAmount" db:"max_amount"`
	WeeklyLimit            int64               `json:"weeklyLimit" db:"weekly_limit"`
	Balance                float64             `json:"balance" db:"balance"`
	Spent                  float64             `json:"spent" db:"spent"`
	Status                 types.AccountStatus `json:"status" db:"status"`
	CustodialWalletID      string              `json:"custodialWalletId,omitempty" db:"custodial_wallet_id"`
	CustodialWalletAddress string              `json:"custodialWalletAddress,omitempty" db:"custodial_wallet_address"`
	FundingTransactionID   string              `json:"fundingTransactionId,omitempty" db:"funding_transaction_id"`
	FundingError           string              `json:"fundingError,omitempty" db:"funding_error"`
	ConnectedAt            int64               `json:"connectedAt" db:"connected_at"`
	CreatedAt              int64               `json:"createdAt" db:"created_at"`
	UpdatedAt              int64               `json:"updatedAt,omitempty" db:"updated_at"`
}

// AddressKey returns the case-insensitive lookup key for an address
func AddressKey(address string) string {
	return strings.ToLower(address)
}

// Clone returns a copy that can be mutated without affecting the receiver
func (c *ChildAccount) Clone() *ChildAccount {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// ChildAccountPatch is a partial update. Nil fields are left unchanged.
type ChildAccountPatch struct {
	DelegatorAddress       *string              `json:"delegatorAddress,omitempty"`
	TokenAddress           *string              `json:"tokenAddress,omitempty"`
	Alias                  *string              `json:"alias,omitempty"`
	MaxAmount              *float64             `json:"maxAmount,omitempty"`
	WeeklyLimit            *int64               `json:"weeklyLimit,omitempty"`
	Balance                *float64             `json:"balance,omitempty"`
	Spent                  *float64             `json:"spent,omitempty"`
	Status                 *types.AccountStatus `json:"status,omitempty"`
	CustodialWalletID      *string              `json:"custodialWalletId,omitempty"`
	CustodialWalletAddress *string              `json:"custodialWalletAddress,omitempty"`
	FundingTransactionID   *string              `json:"fundingTransactionId,omitempty"`
	FundingError           *string              `json:"fundingError,omitempty"`
	ConnectedAt            *int64               `json:"connectedAt,omitempty"`
}

// Apply merges the patch into account. UpdatedAt is left to the caller.
func (p *ChildAccountPatch) Apply(account *ChildAccount) {
	if p == nil || account == nil {
		return
	}
	if p.DelegatorAddress != nil {
		account.DelegatorAddress = *p.DelegatorAddress
	}
	if p.TokenAddress != nil {
		account.TokenAddress = *p.TokenAddress
	}
	if p.Alias != nil {
		account.Alias = *p.Alias
	}
	if p.MaxAmount != nil {
		account.MaxAmount = *p.MaxAmount
	}
	if p.WeeklyLimit != nil {
		account.WeeklyLimit = *p.WeeklyLimit
	}
	if p.Balance != nil {
		account.Balance = *p.Balance
	}
	if p.Spent != nil {
		account.Spent = *p.Spent
	}
	if p.Status != nil {
		account.Status = *p.Status
	}
	if p.CustodialWalletID != nil {
		account.CustodialWalletID = *p.CustodialWalletID
	}
	if p.CustodialWalletAddress != nil {
		account.CustodialWalletAddress = *p.CustodialWalletAddress
	}
	if p.FundingTransactionID != nil {
		account.FundingTransactionID = *p.FundingTransactionID
	}
	if p.FundingError != nil {
		account.FundingError = *p.FundingError
	}
	if p.ConnectedAt != nil {
		account.ConnectedAt = *p.ConnectedAt
	}
}
