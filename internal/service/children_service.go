package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/delegation-service/internal/adapter"
	apperrors "github.com/delegation-service/internal/errors"
	"github.com/delegation-service/internal/logging"
	"github.com/delegation-service/internal/metrics"
	"github.com/delegation-service/internal/models"
	"github.com/delegation-service/internal/storage"
	"github.com/delegation-service/internal/types"
)

// Activity page sizes
const (
	DefaultActivityLimit = 50
	MaxActivityLimit     = 500
)

// ChildrenService manages existing child accounts on behalf of a delegator
type ChildrenService struct {
	store          storage.AccountStore
	locker         storage.KeyLocker
	ledger         storage.ActivityLedger
	balances       adapter.TokenBalanceReader
	chainTimeout   time.Duration
	allowBulkClear bool
}

// ChildrenOptions configures the optional parts of ChildrenService
type ChildrenOptions struct {
	ChainTimeout   time.Duration
	AllowBulkClear bool
}

// NewChildrenService creates a new children service. balances may be nil when
// no RPC endpoint is configured.
func NewChildrenService(
	store storage.AccountStore,
	locker storage.KeyLocker,
	ledger storage.ActivityLedger,
	balances adapter.TokenBalanceReader,
	opts ChildrenOptions,
) *ChildrenService {
	if locker == nil {
		locker = storage.NewLocalKeyLocker()
	}
	if opts.ChainTimeout <= 0 {
		opts.ChainTimeout = defaultProviderTimeout
	}
	return &ChildrenService{
		store:          store,
		locker:         locker,
		ledger:         ledger,
		balances:       balances,
		chainTimeout:   opts.ChainTimeout,
		allowBulkClear: opts.AllowBulkClear,
	}
}

// ChildrenList is the result of listing children
type ChildrenList struct {
	Children []*models.ChildAccount
	// Degraded is set when the store failed and Children is empty because of it
	Degraded bool
}

// ListChildren never fails: a store error yields an empty, degraded list.
func (s *ChildrenService) ListChildren(ctx context.Context) *ChildrenList {
	children, err := s.store.ListAll(ctx)
	if err != nil {
		metrics.RecordStoreDegraded()
		logging.FromContext(ctx).WithError(err).Error("failed to list children, serving empty list")
		return &ChildrenList{Children: []*models.ChildAccount{}, Degraded: true}
	}
	if children == nil {
		children = []*models.ChildAccount{}
	}
	return &ChildrenList{Children: children}
}

// GetChild returns a single child account
func (s *ChildrenService) GetChild(ctx context.Context, address string) (*models.ChildAccount, error) {
	if !ValidateAddress(address) {
		return nil, apperrors.NewInvalidAddressError(address)
	}
	return s.find(ctx, address)
}

// UpdateChildInput holds the fields a delegator may edit. Nil means unchanged.
// Amounts accept the same representations as ValidateAmount.
type UpdateChildInput struct {
	Alias       *string     `json:"alias,omitempty"`
	Status      *string     `json:"status,omitempty"`
	MaxAmount   interface{} `json:"maxAmount,omitempty"`
	WeeklyLimit interface{} `json:"weeklyLimit,omitempty"`
	Balance     interface{} `json:"balance,omitempty"`
	Spent       interface{} `json:"spent,omitempty"`
}

// UpdateChild applies a partial edit. A new maxAmount always recomputes the
// weekly limit; a weekly limit on its own must stay within the stored maxAmount.
func (s *ChildrenService) UpdateChild(ctx context.Context, address string, input *UpdateChildInput) (*models.ChildAccount, error) {
	if !ValidateAddress(address) {
		return nil, apperrors.NewInvalidAddressError(address)
	}
	if input == nil {
		input = &UpdateChildInput{}
	}

	patch := &models.ChildAccountPatch{Alias: input.Alias}

	if input.Status != nil {
		status := types.AccountStatus(*input.Status)
		if !status.Valid() {
			return nil, apperrors.NewInvalidParameterError("status", "must be one of active, connected, restricted")
		}
		patch.Status = &status
	}

	if input.MaxAmount != nil {
		maxAmount, ok := validateNonNegative(input.MaxAmount)
		if !ok {
			return nil, apperrors.NewInvalidAmountError("maxAmount", "must be a finite number >= 0")
		}
		weeklyLimit, ok := ComputeWeeklyLimit(maxAmount)
		if !ok {
			return nil, apperrors.NewInvalidAmountError("maxAmount", "is too large")
		}
		patch.MaxAmount = &maxAmount
		patch.WeeklyLimit = &weeklyLimit
	}

	var loneWeeklyLimit *int64
	if input.WeeklyLimit != nil && input.MaxAmount == nil {
		v, ok := validateNonNegative(input.WeeklyLimit)
		if !ok || v != math.Trunc(v) {
			return nil, apperrors.NewInvalidAmountError("weeklyLimit", "must be a whole number >= 0")
		}
		weeklyLimit := int64(v)
		loneWeeklyLimit = &weeklyLimit
	}

	if input.Balance != nil {
		balance, ok := validateNonNegative(input.Balance)
		if !ok {
			return nil, apperrors.NewInvalidAmountError("balance", "must be a finite number >= 0")
		}
		patch.Balance = &balance
	}

	if input.Spent != nil {
		spent, ok := validateNonNegative(input.Spent)
		if !ok {
			return nil, apperrors.NewInvalidAmountError("spent", "must be a finite number >= 0")
		}
		patch.Spent = &spent
	}

	unlock, err := s.locker.Lock(ctx, models.AddressKey(address))
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.find(ctx, address)
	if err != nil {
		return nil, err
	}

	if loneWeeklyLimit != nil {
		if float64(*loneWeeklyLimit) > existing.MaxAmount {
			return nil, apperrors.NewInvalidAmountError("weeklyLimit", "must not exceed maxAmount")
		}
		patch.WeeklyLimit = loneWeeklyLimit
	}

	updated, err := s.update(ctx, existing.Address, patch)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithField("childAddress", updated.Address).Info("child updated")
	recordActivity(ctx, s.ledger, &models.ActivityEvent{
		ChildAddress:     updated.Address,
		DelegatorAddress: updated.DelegatorAddress,
		Kind:             types.ActivityUpdated,
		Amount:           updated.MaxAmount,
	})
	return updated, nil
}

// AddFunds tops up a child: balance and maxAmount both grow by amount and the
// weekly limit follows the new maxAmount.
func (s *ChildrenService) AddFunds(ctx context.Context, address string, amount interface{}) (*models.ChildAccount, error) {
	if !ValidateAddress(address) {
		return nil, apperrors.NewInvalidAddressError(address)
	}
	value, ok := ValidateAmount(amount)
	if !ok {
		return nil, apperrors.NewInvalidAmountError("amount", "must be a finite number greater than 0")
	}

	unlock, err := s.locker.Lock(ctx, models.AddressKey(address))
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.find(ctx, address)
	if err != nil {
		return nil, err
	}

	maxAmount := addAmounts(existing.MaxAmount, value)
	balance := addAmounts(existing.Balance, value)
	weeklyLimit, ok := ComputeWeeklyLimit(maxAmount)
	if !ok {
		return nil, apperrors.NewInvalidAmountError("amount", "would raise maxAmount beyond the supported range")
	}

	updated, err := s.update(ctx, existing.Address, &models.ChildAccountPatch{
		MaxAmount:   &maxAmount,
		Balance:     &balance,
		WeeklyLimit: &weeklyLimit,
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"childAddress": updated.Address,
		"amount":       value,
		"balance":      updated.Balance,
	}).Info("funds added")
	recordActivity(ctx, s.ledger, &models.ActivityEvent{
		ChildAddress:     updated.Address,
		DelegatorAddress: updated.DelegatorAddress,
		Kind:             types.ActivityFundsAdded,
		Amount:           value,
	})
	return updated, nil
}

// Activity returns a child's ledger entries, newest first.
// limit <= 0 selects DefaultActivityLimit and values above MaxActivityLimit are capped.
func (s *ChildrenService) Activity(ctx context.Context, address string, limit int) ([]*models.ActivityEvent, error) {
	if !ValidateAddress(address) {
		return nil, apperrors.NewInvalidAddressError(address)
	}
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}
	if s.ledger == nil {
		return []*models.ActivityEvent{}, nil
	}

	events, err := s.ledger.ListByChild(ctx, address, limit)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("activity", err)
	}
	if events == nil {
		events = []*models.ActivityEvent{}
	}
	return events, nil
}

// OnChainBalance reads the delegated token balance of a child from the chain
func (s *ChildrenService) OnChainBalance(ctx context.Context, address string) (*types.TokenBalance, error) {
	if !ValidateAddress(address) {
		return nil, apperrors.NewInvalidAddressError(address)
	}
	if s.balances == nil {
		return nil, apperrors.NewProviderUnavailableError("chain")
	}

	cctx, cancel := context.WithTimeout(ctx, s.chainTimeout)
	defer cancel()

	balance, err := s.balances.BalanceOf(cctx, address)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("childAddress", address).Warn("on-chain balance read failed")
		return nil, err
	}
	return balance, nil
}

// ClearChildren removes every child account when bulk clearing is enabled
func (s *ChildrenService) ClearChildren(ctx context.Context) error {
	if !s.allowBulkClear {
		return apperrors.NewForbiddenError("bulk clear is disabled")
	}
	if err := s.store.Clear(ctx); err != nil {
		return apperrors.NewStoreUnavailableError("clear", err)
	}
	logging.FromContext(ctx).Warn("all child accounts cleared")
	return nil
}

func (s *ChildrenService) find(ctx context.Context, address string) (*models.ChildAccount, error) {
	child, err := s.store.FindByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, apperrors.NewChildNotFoundError(address)
		}
		return nil, apperrors.NewStoreUnavailableError("lookup", err)
	}
	return child, nil
}

func (s *ChildrenService) update(ctx context.Context, address string, patch *models.ChildAccountPatch) (*models.ChildAccount, error) {
	updated, err := s.store.Update(ctx, address, patch)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, apperrors.NewChildNotFoundError(address)
		}
		return nil, apperrors.NewStoreUnavailableError("update", err)
	}
	return updated, nil
}
