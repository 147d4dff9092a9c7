// Package storage provides the account store backends, connect locking and
// the activity ledger used by the delegation service.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/delegation-service/internal/config"
	"github.com/delegation-service/internal/models"
)

var (
	// ErrAccountNotFound is returned when no record exists for an address
	ErrAccountNotFound = errors.New("child account not found")
	// ErrAccountExists is returned by Create when the address is already stored
	ErrAccountExists = errors.New("child account already exists")
	// ErrStoreUnavailable wraps backend I/O failures
	ErrStoreUnavailable = errors.New("account store unavailable")
)

// AccountStore persists child account records keyed case-insensitively by address.
type AccountStore interface {
	// FindByAddress returns ErrAccountNotFound when no record matches.
	FindByAddress(ctx context.Context, address string) (*models.ChildAccount, error)
	// ListAll returns every record in creation order.
	ListAll(ctx context.Context) ([]*models.ChildAccount, error)
	// Create assigns ID and CreatedAt when unset. It fails with ErrAccountExists
	// if a record for the same address is already present.
	Create(ctx context.Context, account *models.ChildAccount) (*models.ChildAccount, error)
	// Update merges patch into the stored record and stamps UpdatedAt.
	Update(ctx context.Context, address string, patch *models.ChildAccountPatch) (*models.ChildAccount, error)
	// Clear removes every record.
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// NewAccountStore opens the backend selected by cfg.Store.Backend
func NewAccountStore(cfg *config.Config) (AccountStore, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return NewMemoryAccountStore(), nil
	case config.StoreFile:
		return NewFileAccountStore(cfg.Store.FilePath)
	case config.StorePostgres:
		db, err := NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return NewPostgresAccountStore(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

// nowMillis returns the current time in milliseconds since the epoch
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// prepareNew fills the generated fields of a record about to be created
func prepareNew(account *models.ChildAccount) *models.ChildAccount {
	record := account.Clone()
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = nowMillis()
	}
	return record
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
