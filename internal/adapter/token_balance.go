package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/delegation-service/internal/types"
)

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}]`

// ContractCaller is the subset of ethclient.Client used for read-only calls
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenBalanceReader reads the delegated token balance of an address on-chain
type TokenBalanceReader interface {
	BalanceOf(ctx context.Context, owner string) (*types.TokenBalance, error)
}

// ERC20BalanceReader calls balanceOf on a single ERC-20 contract
type ERC20BalanceReader struct {
	caller   ContractCaller
	token    common.Address
	decimals int32
	abi      abi.ABI
}

// DialERC20BalanceReader connects to rpcURL and reads balances of token
func DialERC20BalanceReader(rpcURL, token string, decimals int) (*ERC20BalanceReader, error) {
	if rpcURL == "" {
		return nil, ErrChainUnavailable
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewERC20BalanceReader(client, token, decimals)
}

// NewERC20BalanceReader creates a reader on an existing caller
func NewERC20BalanceReader(caller ContractCaller, token string, decimals int) (*ERC20BalanceReader, error) {
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid token address: %s", token)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	return &ERC20BalanceReader{
		caller:   caller,
		token:    common.HexToAddress(token),
		decimals: int32(decimals), // #nosec G115 - validated in config
		abi:      parsed,
	}, nil
}

// BalanceOf returns owner's balance in base units and scaled by the token decimals
func (r *ERC20BalanceReader) BalanceOf(ctx context.Context, owner string) (*types.TokenBalance, error) {
	ownerAddr := common.HexToAddress(owner)
	data, err := r.abi.Pack("balanceOf", ownerAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &r.token,
		Data: data,
	}, nil)
	if err != nil {
		return nil, &ProviderError{Provider: "rpc", Op: "balanceOf", Reason: "call failed", Err: err}
	}

	raw := new(big.Int)
	if len(result) > 0 {
		raw.SetBytes(result)
	}

	return &types.TokenBalance{
		Address:  owner,
		Token:    r.token.Hex(),
		Balance:  decimal.NewFromBigInt(raw, -r.decimals).String(),
		Raw:      raw.String(),
		Decimals: int(r.decimals),
	}, nil
}
