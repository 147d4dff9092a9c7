package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/delegation-service/internal/models"
)

// FileAccountStore keeps every record in a single JSON document on disk.
// Each operation reads the whole file; writes go through a temp file and rename.
type FileAccountStore struct {
	mu   sync.Mutex
	path string
}

// NewFileAccountStore creates the parent directory of path if needed
func NewFileAccountStore(path string) (*FileAccountStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, unavailable("create data directory", err)
	}
	return &FileAccountStore{path: path}, nil
}

// Path returns the backing file location
func (s *FileAccountStore) Path() string {
	return s.path
}

func (s *FileAccountStore) load() ([]*models.ChildAccount, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, unavailable("read", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []*models.ChildAccount
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, unavailable("decode", err)
	}
	return records, nil
}

func (s *FileAccountStore) save(records []*models.ChildAccount) error {
	if records == nil {
		records = []*models.ChildAccount{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return unavailable("encode", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return unavailable("write", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName) // no-op after a successful rename
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return unavailable("write", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return unavailable("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return unavailable("write", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return unavailable("rename", err)
	}
	return nil
}

func indexOf(records []*models.ChildAccount, address string) int {
	key := models.AddressKey(address)
	for i, r := range records {
		if models.AddressKey(r.Address) == key {
			return i
		}
	}
	return -1
}

func (s *FileAccountStore) FindByAddress(ctx context.Context, address string) (*models.ChildAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	i := indexOf(records, address)
	if i < 0 {
		return nil, ErrAccountNotFound
	}
	return records[i], nil
}

func (s *FileAccountStore) ListAll(ctx context.Context) ([]*models.ChildAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*models.ChildAccount{}
	}
	return records, nil
}

func (s *FileAccountStore) Create(ctx context.Context, account *models.ChildAccount) (*models.ChildAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	if indexOf(records, account.Address) >= 0 {
		return nil, ErrAccountExists
	}

	record := prepareNew(account)
	if err := s.save(append(records, record)); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

func (s *FileAccountStore) Update(ctx context.Context, address string, patch *models.ChildAccountPatch) (*models.ChildAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	i := indexOf(records, address)
	if i < 0 {
		return nil, ErrAccountNotFound
	}

	patch.Apply(records[i])
	records[i].UpdatedAt = nowMillis()
	if err := s.save(records); err != nil {
		return nil, err
	}
	return records[i].Clone(), nil
}

func (s *FileAccountStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(nil)
}

// Ping verifies the backing file, if present, can be read and decoded
func (s *FileAccountStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.load()
	return err
}

func (s *FileAccountStore) Close() error { return nil }

// String implements fmt.Stringer for log fields
func (s *FileAccountStore) String() string {
	return fmt.Sprintf("file(%s)", s.path)
}
