package storage

import (
	"context"
	"sync"

	"github.com/delegation-service/internal/models"
)

// MemoryAccountStore keeps records in process memory
type MemoryAccountStore struct {
	mu      sync.RWMutex
	records []*models.ChildAccount
	index   map[string]int
}

// NewMemoryAccountStore creates an empty in-memory store
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{index: make(map[string]int)}
}

func (s *MemoryAccountStore) FindByAddress(ctx context.Context, address string) (*models.ChildAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[models.AddressKey(address)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return s.records[i].Clone(), nil
}

func (s *MemoryAccountStore) ListAll(ctx context.Context) ([]*models.ChildAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ChildAccount, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *MemoryAccountStore) Create(ctx context.Context, account *models.ChildAccount) (*models.ChildAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.AddressKey(account.Address)
	if _, exists := s.index[key]; exists {
		return nil, ErrAccountExists
	}

	record := prepareNew(account)
	s.index[key] = len(s.records)
	s.records = append(s.records, record)
	return record.Clone(), nil
}

func (s *MemoryAccountStore) Update(ctx context.Context, address string, patch *models.ChildAccountPatch) (*models.ChildAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[models.AddressKey(address)]
	if !ok {
		return nil, ErrAccountNotFound
	}

	record := s.records[i]
	patch.Apply(record)
	record.UpdatedAt = nowMillis()
	return record.Clone(), nil
}

func (s *MemoryAccountStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.index = make(map[string]int)
	return nil
}

func (s *MemoryAccountStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryAccountStore) Close() error { return nil }
