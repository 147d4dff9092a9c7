package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/delegation-service/internal/circuitbreaker"
	"github.com/delegation-service/internal/types"
)

// GuardedProvisioner skips a provider that keeps failing. While the circuit is
// open every call fails fast with ErrProviderUnavailable.
type GuardedProvisioner struct {
	next    WalletProvisioner
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedProvisioner wraps next with breaker
func NewGuardedProvisioner(next WalletProvisioner, breaker *circuitbreaker.CircuitBreaker) *GuardedProvisioner {
	return &GuardedProvisioner{next: next, breaker: breaker}
}

func (g *GuardedProvisioner) CreateWallet(ctx context.Context, aliasHint string) (*CustodialWallet, error) {
	var wallet *CustodialWallet
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		wallet, err = g.next.CreateWallet(ctx, aliasHint)
		return err
	})
	return wallet, translateBreakerError(err)
}

func (g *GuardedProvisioner) Transfer(ctx context.Context, sourceWalletID, destinationAddress string, amount float64) (*TransferResult, error) {
	var result *TransferResult
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = g.next.Transfer(ctx, sourceWalletID, destinationAddress, amount)
		return err
	})
	return result, translateBreakerError(err)
}

// GuardedBalanceReader applies a circuit breaker to on-chain balance reads
type GuardedBalanceReader struct {
	next    TokenBalanceReader
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedBalanceReader wraps next with breaker
func NewGuardedBalanceReader(next TokenBalanceReader, breaker *circuitbreaker.CircuitBreaker) *GuardedBalanceReader {
	return &GuardedBalanceReader{next: next, breaker: breaker}
}

func (g *GuardedBalanceReader) BalanceOf(ctx context.Context, owner string) (*types.TokenBalance, error) {
	var balance *types.TokenBalance
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		balance, err = g.next.BalanceOf(ctx, owner)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return balance, err
}

func translateBreakerError(err error) error {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return err
}
