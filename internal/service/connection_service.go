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

// defaultProviderTimeout bounds each call to the wallet provider
const defaultProviderTimeout = 5 * time.Second

// ConnectionService links child addresses to delegators
type ConnectionService struct {
	store           storage.AccountStore
	locker          storage.KeyLocker
	provisioner     adapter.WalletProvisioner
	ledger          storage.ActivityLedger
	validator       *Validator
	fundingWalletID string
	providerTimeout time.Duration
	now             func() time.Time
}

// ConnectionOptions holds the provider settings used by the workflow
type ConnectionOptions struct {
	// FundingWalletID is the custodial wallet new children are funded from.
	// Empty disables the initial transfer.
	FundingWalletID string
	ProviderTimeout time.Duration
}

// NewConnectionService creates a new connection service. A nil locker falls
// back to in-process locking, a nil provisioner to NoopWalletProvisioner.
func NewConnectionService(
	store storage.AccountStore,
	locker storage.KeyLocker,
	provisioner adapter.WalletProvisioner,
	ledger storage.ActivityLedger,
	validator *Validator,
	opts ConnectionOptions,
) *ConnectionService {
	if locker == nil {
		locker = storage.NewLocalKeyLocker()
	}
	if provisioner == nil {
		provisioner = adapter.NoopWalletProvisioner{}
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	return &ConnectionService{
		store:           store,
		locker:          locker,
		provisioner:     provisioner,
		ledger:          ledger,
		validator:       validator,
		fundingWalletID: opts.FundingWalletID,
		providerTimeout: opts.ProviderTimeout,
		now:             time.Now,
	}
}

// ConnectChildInput is the payload produced by scanning a delegator's QR code.
// The child address may arrive under any of three names and the delegator and
// token under their QR payload names.
type ConnectChildInput struct {
	ChildAddress     string      `json:"childAddress"`
	Address          string      `json:"address"`
	WalletAddress    string      `json:"walletAddress"`
	DelegatorAddress string      `json:"delegatorAddress"`
	Delegator        string      `json:"delegator"`
	TokenAddress     string      `json:"tokenAddress"`
	Token            string      `json:"token"`
	MaxAmount        interface{} `json:"maxAmount"`
	Alias            *string     `json:"alias,omitempty"`
	Timestamp        interface{} `json:"timestamp,omitempty"`
}

// ResolvedChildAddress returns the first non-empty of childAddress, address, walletAddress
func (in *ConnectChildInput) ResolvedChildAddress() string {
	return firstNonEmpty(in.ChildAddress, in.Address, in.WalletAddress)
}

// ResolvedDelegatorAddress returns delegatorAddress, or delegator when absent
func (in *ConnectChildInput) ResolvedDelegatorAddress() string {
	return firstNonEmpty(in.DelegatorAddress, in.Delegator)
}

// ResolvedTokenAddress returns tokenAddress, or token when absent
func (in *ConnectChildInput) ResolvedTokenAddress() string {
	return firstNonEmpty(in.TokenAddress, in.Token)
}

// ConnectChildResult is the persisted record and whether it was newly created
type ConnectChildResult struct {
	Child   *models.ChildAccount
	Created bool
}

// Connect validates input and creates or refreshes the child account.
// Validation runs child, delegator, token, amount and stops at the first failure.
// Wallet provisioning and funding failures never fail the connection.
func (s *ConnectionService) Connect(ctx context.Context, input *ConnectChildInput) (*ConnectChildResult, error) {
	if input == nil {
		input = &ConnectChildInput{}
	}

	childAddress := input.ResolvedChildAddress()
	if !ValidateAddress(childAddress) {
		metrics.RecordConnection(metrics.OutcomeRejected)
		return nil, apperrors.NewInvalidChildAddressError(childAddress)
	}

	delegatorAddress := input.ResolvedDelegatorAddress()
	if !ValidateAddress(delegatorAddress) {
		metrics.RecordConnection(metrics.OutcomeRejected)
		return nil, apperrors.NewInvalidDelegatorAddressError(delegatorAddress)
	}

	tokenAddress := input.ResolvedTokenAddress()
	if !s.validator.ValidateToken(tokenAddress) {
		metrics.RecordConnection(metrics.OutcomeRejected)
		return nil, apperrors.NewInvalidTokenError(tokenAddress)
	}

	maxAmount, ok := ValidateAmount(input.MaxAmount)
	if !ok {
		metrics.RecordConnection(metrics.OutcomeRejected)
		return nil, apperrors.NewInvalidAmountError("maxAmount", "must be a finite number greater than 0")
	}
	weeklyLimit, ok := ComputeWeeklyLimit(maxAmount)
	if !ok {
		metrics.RecordConnection(metrics.OutcomeRejected)
		return nil, apperrors.NewInvalidAmountError("maxAmount", "is too large")
	}

	req := &connectRequest{
		childAddress:     childAddress,
		delegatorAddress: delegatorAddress,
		tokenAddress:     tokenAddress,
		maxAmount:        maxAmount,
		weeklyLimit:      weeklyLimit,
		alias:            input.Alias,
		connectedAt:      s.connectedAt(input.Timestamp),
	}

	unlock, err := s.locker.Lock(ctx, models.AddressKey(childAddress))
	if err != nil {
		metrics.RecordConnection(metrics.OutcomeFailed)
		return nil, err
	}
	defer unlock()

	result, err := s.connectLocked(ctx, req)
	if err != nil {
		metrics.RecordConnection(metrics.OutcomeFailed)
		return nil, err
	}

	if result.Created {
		metrics.RecordConnection(metrics.OutcomeCreated)
	} else {
		metrics.RecordConnection(metrics.OutcomeUpdated)
	}
	return result, nil
}

type connectRequest struct {
	childAddress     string
	delegatorAddress string
	tokenAddress     string
	maxAmount        float64
	weeklyLimit      int64
	alias            *string
	connectedAt      int64
}

func (s *ConnectionService) connectLocked(ctx context.Context, req *connectRequest) (*ConnectChildResult, error) {
	existing, err := s.store.FindByAddress(ctx, req.childAddress)
	switch {
	case err == nil:
		return s.reconnect(ctx, existing, req)
	case errors.Is(err, storage.ErrAccountNotFound):
		return s.create(ctx, req)
	default:
		return nil, apperrors.NewStoreUnavailableError("lookup", err)
	}
}

func (s *ConnectionService) reconnect(ctx context.Context, existing *models.ChildAccount, req *connectRequest) (*ConnectChildResult, error) {
	alias := existing.Alias
	if req.alias != nil {
		alias = *req.alias
	}
	status := types.StatusConnected

	patch := &models.ChildAccountPatch{
		DelegatorAddress: &req.delegatorAddress,
		TokenAddress:     &req.tokenAddress,
		MaxAmount:        &req.maxAmount,
		WeeklyLimit:      &req.weeklyLimit,
		Alias:            &alias,
		Status:           &status,
		Balance:          &req.maxAmount,
		ConnectedAt:      &req.connectedAt,
	}

	updated, err := s.store.Update(ctx, existing.Address, patch)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, err
		}
		return nil, apperrors.NewStoreUnavailableError("update", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"childAddress": updated.Address,
		"delegator":    req.delegatorAddress,
		"maxAmount":    req.maxAmount,
	}).Info("child reconnected")

	s.record(ctx, &models.ActivityEvent{
		ChildAddress:     updated.Address,
		DelegatorAddress: req.delegatorAddress,
		Kind:             types.ActivityReconnected,
		Amount:           req.maxAmount,
	})

	return &ConnectChildResult{Child: updated, Created: false}, nil
}

func (s *ConnectionService) create(ctx context.Context, req *connectRequest) (*ConnectChildResult, error) {
	logger := logging.FromContext(ctx).WithField("childAddress", req.childAddress)

	alias := ""
	if req.alias != nil {
		alias = *req.alias
	}

	record := &models.ChildAccount{
		Address:          req.childAddress,
		DelegatorAddress: req.delegatorAddress,
		TokenAddress:     req.tokenAddress,
		Alias:            alias,
		MaxAmount:        req.maxAmount,
		WeeklyLimit:      req.weeklyLimit,
		Balance:          req.maxAmount,
		Spent:            0,
		Status:           types.StatusConnected,
		ConnectedAt:      req.connectedAt,
		CreatedAt:        s.now().UnixMilli(),
	}

	wallet := s.provisionWallet(ctx, req.childAddress, alias)
	if wallet != nil {
		record.CustodialWalletID = wallet.ID
		record.CustodialWalletAddress = wallet.Address
	}

	created, err := s.store.Create(ctx, record)
	if err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			// Another replica created the record between lookup and create
			if wallet != nil {
				logger.WithFields(map[string]interface{}{
					"walletId":      wallet.ID,
					"walletAddress": wallet.Address,
				}).Warn("custodial wallet orphaned by concurrent create")
			}
			logger.Warn("child created concurrently, applying as reconnection")
			existing, findErr := s.store.FindByAddress(ctx, req.childAddress)
			if findErr != nil {
				return nil, apperrors.NewStoreUnavailableError("lookup", findErr)
			}
			return s.reconnect(ctx, existing, req)
		}
		return nil, apperrors.NewStoreUnavailableError("create", err)
	}

	logger.WithFields(map[string]interface{}{
		"delegator":       req.delegatorAddress,
		"maxAmount":       req.maxAmount,
		"weeklyLimit":     req.weeklyLimit,
		"custodialWallet": created.CustodialWalletID,
	}).Info("child connected")

	s.record(ctx, &models.ActivityEvent{
		ChildAddress:     created.Address,
		DelegatorAddress: req.delegatorAddress,
		Kind:             types.ActivityConnected,
		Amount:           req.maxAmount,
	})

	if wallet != nil && wallet.Address != "" && s.fundingWalletID != "" {
		created = s.fundWallet(ctx, created, wallet)
	} else {
		metrics.RecordFundingTransfer(metrics.ResultSkipped)
	}

	return &ConnectChildResult{Child: created, Created: true}, nil
}

// provisionWallet returns nil when the provider is unavailable or fails
func (s *ConnectionService) provisionWallet(ctx context.Context, childAddress, alias string) *adapter.CustodialWallet {
	hint := alias
	if hint == "" {
		hint = childAddress
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	wallet, err := s.provisioner.CreateWallet(pctx, hint)
	if err == nil && (wallet == nil || wallet.ID == "") {
		err = &adapter.ProviderError{Provider: "wallet", Op: "CreateWallet", Reason: "provider returned no wallet"}
	}
	if err != nil {
		logger := logging.FromContext(ctx).WithField("childAddress", childAddress).WithError(err)
		if errors.Is(err, adapter.ErrProviderUnavailable) {
			metrics.RecordProvisioning(metrics.ResultSkipped)
			logger.Debug("custodial wallet provider unavailable, continuing without wallet")
		} else {
			metrics.RecordProvisioning(metrics.ResultFailed)
			logger.Warn("custodial wallet creation failed, continuing without wallet")
		}
		return nil
	}

	metrics.RecordProvisioning(metrics.ResultOK)
	return wallet
}

// fundWallet moves the allocation into the new custodial wallet and stores
// the outcome on the record. The record is returned unchanged if that write fails.
func (s *ConnectionService) fundWallet(ctx context.Context, child *models.ChildAccount, wallet *adapter.CustodialWallet) *models.ChildAccount {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"childAddress":    child.Address,
		"custodialWallet": wallet.ID,
	})

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	transfer, err := s.provisioner.Transfer(pctx, s.fundingWalletID, wallet.Address, child.MaxAmount)
	cancel()

	event := &models.ActivityEvent{
		ChildAddress:     child.Address,
		DelegatorAddress: child.DelegatorAddress,
		Kind:             types.ActivityFundingTransfer,
		Amount:           child.MaxAmount,
	}
	patch := &models.ChildAccountPatch{}

	if err != nil || transfer == nil {
		reason := "provider returned no transaction"
		if err != nil {
			reason = err.Error()
		}
		metrics.RecordFundingTransfer(metrics.ResultFailed)
		logger.WithField("reason", reason).Warn("initial funding transfer failed")
		patch.FundingError = &reason
		event.Error = reason
	} else {
		metrics.RecordFundingTransfer(metrics.ResultOK)
		logger.WithField("transactionId", transfer.ID).Info("initial funding transfer submitted")
		patch.FundingTransactionID = &transfer.ID
		event.TransactionID = transfer.ID
	}

	s.record(ctx, event)

	updated, err := s.store.Update(ctx, child.Address, patch)
	if err != nil {
		logger.WithError(err).Error("failed to store funding outcome")
		return child
	}
	return updated
}

// connectedAt uses the scan timestamp in milliseconds when one was supplied
func (s *ConnectionService) connectedAt(timestamp interface{}) int64 {
	if timestamp != nil {
		// float64(math.MaxInt64) rounds up to 2^63, so the bound is exclusive
		if ms, ok := ValidateAmount(timestamp); ok && ms < math.MaxInt64 {
			return int64(ms)
		}
	}
	return s.now().UnixMilli()
}

func (s *ConnectionService) record(ctx context.Context, event *models.ActivityEvent) {
	recordActivity(ctx, s.ledger, event)
}

// recordActivity appends to the ledger. Failures are logged only.
func recordActivity(ctx context.Context, ledger storage.ActivityLedger, event *models.ActivityEvent) {
	if ledger == nil {
		return
	}
	if err := ledger.Record(ctx, event); err != nil {
		logging.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"childAddress": event.ChildAddress,
			"kind":         event.Kind,
		}).Warn("failed to record activity")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
