// Package main provides the API server entry point for the delegation service.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/delegation-service/internal/adapter"
	"github.com/delegation-service/internal/api"
	"github.com/delegation-service/internal/circuitbreaker"
	"github.com/delegation-service/internal/config"
	"github.com/delegation-service/internal/logging"
	"github.com/delegation-service/internal/retry"
	"github.com/delegation-service/internal/service"
	"github.com/delegation-service/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// only an unreachable backend is worth waiting for
	storeDown := func(err error) bool { return errors.Is(err, storage.ErrStoreUnavailable) }
	var store storage.AccountStore
	err = retry.Do(context.Background(), retry.DefaultConfig(), storeDown, func(ctx context.Context, attempt int) error {
		var err error
		store, err = storage.NewAccountStore(cfg)
		return err
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to open account store")
	}
	defer store.Close()
	logger.WithField("backend", cfg.Store.Backend).Info("Account store ready")

	locker := openLocker(cfg, logger)
	ledger, closeLedger := openLedger(cfg, logger)
	defer closeLedger()

	breakers := circuitbreaker.NewManager()
	provisioner := openProvisioner(cfg, breakers, logger)
	balances := openBalanceReader(cfg, breakers, logger)

	validator := service.NewValidator(cfg.Delegation.AllowedToken)
	connectionService := service.NewConnectionService(store, locker, provisioner, ledger, validator, service.ConnectionOptions{
		FundingWalletID: cfg.Circle.FundingWalletID,
		ProviderTimeout: cfg.Circle.Timeout,
	})
	childrenService := service.NewChildrenService(store, locker, ledger, balances, service.ChildrenOptions{
		ChainTimeout:   cfg.Chain.Timeout,
		AllowBulkClear: cfg.Admin.AllowBulkClear,
	})
	qrService := service.NewQRService(validator)

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, connectionService, childrenService, qrService, store, breakers)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":  cfg.Server.Host,
		"port":  cfg.Server.Port,
		"token": cfg.Delegation.AllowedToken,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// openLocker serializes connect workflows across replicas through Redis when
// it is configured, and within this process otherwise.
func openLocker(cfg *config.Config, logger *logging.Logger) storage.KeyLocker {
	if cfg.Database.Redis.Host == "" {
		logger.Info("Redis not configured, using in-process connect locks")
		return storage.NewLocalKeyLocker()
	}
	var client *redis.Client
	err := retry.Do(context.Background(), retry.DefaultConfig(), nil, func(ctx context.Context, attempt int) error {
		var err error
		client, err = storage.NewRedisClient(&cfg.Database.Redis)
		return err
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	logger.Info("Using Redis connect locks")
	return storage.NewRedisKeyLocker(client, cfg.Database.Redis.LockTTL, cfg.Database.Redis.LockWait)
}

func openLedger(cfg *config.Config, logger *logging.Logger) (storage.ActivityLedger, func()) {
	if cfg.Database.ClickHouse.Host == "" {
		logger.Info("ClickHouse not configured, activity is kept in memory")
		return storage.NewMemoryActivityLedger(), func() {}
	}
	var db *storage.ClickHouseDB
	err := retry.Do(context.Background(), retry.DefaultConfig(), nil, func(ctx context.Context, attempt int) error {
		var err error
		db, err = storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		return err
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	return storage.NewClickHouseActivityLedger(db), func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("Error closing ClickHouse connection")
		}
	}
}

func openProvisioner(cfg *config.Config, breakers *circuitbreaker.Manager, logger *logging.Logger) adapter.WalletProvisioner {
	if !cfg.Circle.Enabled() {
		logger.Warn("Wallet provider not configured, children connect without custodial wallets")
		return adapter.NoopWalletProvisioner{}
	}
	circle, err := adapter.NewCircleWalletProvisioner(&cfg.Circle, cfg.Delegation.AllowedToken)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create wallet provider client")
	}
	breaker := breakers.GetOrCreate(&circuitbreaker.Config{
		Name:         "circle",
		FailureLimit: cfg.Circle.FailureLimit,
		ResetTimeout: cfg.Circle.ResetTimeout,
	})
	return adapter.NewGuardedProvisioner(circle, breaker)
}

func openBalanceReader(cfg *config.Config, breakers *circuitbreaker.Manager, logger *logging.Logger) adapter.TokenBalanceReader {
	if cfg.Chain.RPCURL == "" {
		logger.Info("Chain RPC not configured, on-chain balance lookups are disabled")
		return nil
	}
	reader, err := adapter.DialERC20BalanceReader(cfg.Chain.RPCURL, cfg.Delegation.AllowedToken, cfg.Delegation.TokenDecimals)
	if err != nil {
		logger.WithError(err).Warn("Chain RPC unavailable, on-chain balance lookups are disabled")
		return nil
	}
	return adapter.NewGuardedBalanceReader(reader, breakers.GetOrCreate(circuitbreaker.DefaultConfig("rpc")))
}
