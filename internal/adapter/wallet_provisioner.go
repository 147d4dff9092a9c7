// Package adapter contains clients for the external systems the delegation
// service depends on: the custodial wallet provider and the token contract.
package adapter

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable indicates the provider is not configured or is being skipped
	ErrProviderUnavailable = errors.New("wallet provider unavailable")

	// ErrChainUnavailable indicates no RPC endpoint is configured for balance reads
	ErrChainUnavailable = errors.New("chain rpc unavailable")
)

// CustodialWallet is a wallet created and held by the provider on behalf of a child
type CustodialWallet struct {
	ID         string `json:"id"`
	Address    string `json:"address"`
	Blockchain string `json:"blockchain"`
	State      string `json:"state,omitempty"`
}

// TransferResult describes an accepted transfer request
type TransferResult struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// WalletProvisioner creates custodial wallets and moves funds between them.
// Implementations make a single attempt per call.
type WalletProvisioner interface {
	CreateWallet(ctx context.Context, aliasHint string) (*CustodialWallet, error)
	Transfer(ctx context.Context, sourceWalletID, destinationAddress string, amount float64) (*TransferResult, error)
}

// ProviderError wraps a failed provider call with context
type ProviderError struct {
	Provider   string
	Op         string // Operation that failed (e.g., "CreateWallet", "Transfer")
	StatusCode int    // HTTP status, 0 for transport failures
	Reason     string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed (status %d): %s", e.Provider, e.Op, e.StatusCode, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Provider, e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Op, e.Reason)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NoopWalletProvisioner is used when no provider is configured
type NoopWalletProvisioner struct{}

func (NoopWalletProvisioner) CreateWallet(ctx context.Context, aliasHint string) (*CustodialWallet, error) {
	return nil, ErrProviderUnavailable
}

func (NoopWalletProvisioner) Transfer(ctx context.Context, sourceWalletID, destinationAddress string, amount float64) (*TransferResult, error) {
	return nil, ErrProviderUnavailable
}
