package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/delegation-service/internal/models"
)

// PostgresAccountStore stores each child account as a JSONB document keyed by
// its lower-cased address. The unique index on address_key makes Create a
// compare-and-swap across replicas.
type PostgresAccountStore struct {
	db *PostgresDB
}

// NewPostgresAccountStore creates a document store on an open connection
func NewPostgresAccountStore(db *PostgresDB) *PostgresAccountStore {
	return &PostgresAccountStore{db: db}
}

func decodeDocument(doc []byte) (*models.ChildAccount, error) {
	var account models.ChildAccount
	if err := json.Unmarshal(doc, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal child account: %w", err)
	}
	return &account, nil
}

// FindByAddress retrieves a child account by address
func (s *PostgresAccountStore) FindByAddress(ctx context.Context, address string) (*models.ChildAccount, error) {
	query := `
		SELECT document
		FROM child_accounts
		WHERE address_key = $1
	`

	var doc []byte
	err := s.db.Pool().QueryRow(ctx, query, models.AddressKey(address)).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, unavailable("find child account", err)
	}

	return decodeDocument(doc)
}

// ListAll returns all child accounts ordered by creation time
func (s *PostgresAccountStore) ListAll(ctx context.Context) ([]*models.ChildAccount, error) {
	query := `
		SELECT document
		FROM child_accounts
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, unavailable("list child accounts", err)
	}
	defer rows.Close()

	accounts := make([]*models.ChildAccount, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, unavailable("scan child account", err)
		}
		account, err := decodeDocument(doc)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate child accounts", err)
	}

	return accounts, nil
}

// Create inserts a new child account unless one exists for the address
func (s *PostgresAccountStore) Create(ctx context.Context, account *models.ChildAccount) (*models.ChildAccount, error) {
	record := prepareNew(account)

	doc, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal child account: %w", err)
	}

	query := `
		INSERT INTO child_accounts (id, address_key, document, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address_key) DO NOTHING
	`

	tag, err := s.db.Pool().Exec(ctx, query,
		record.ID,
		models.AddressKey(record.Address),
		doc,
		record.CreatedAt,
	)
	if err != nil {
		return nil, unavailable("create child account", err)
	}

	if tag.RowsAffected() == 0 {
		return nil, ErrAccountExists
	}

	return record, nil
}

// Update merges a patch into the stored document under a row lock
func (s *PostgresAccountStore) Update(ctx context.Context, address string, patch *models.ChildAccountPatch) (*models.ChildAccount, error) {
	var updated *models.ChildAccount

	err := pgx.BeginFunc(ctx, s.db.Pool(), func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx, `
			SELECT document
			FROM child_accounts
			WHERE address_key = $1
			FOR UPDATE
		`, models.AddressKey(address)).Scan(&doc)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return unavailable("lock child account", err)
		}

		account, err := decodeDocument(doc)
		if err != nil {
			return err
		}
		patch.Apply(account)
		account.UpdatedAt = nowMillis()

		newDoc, err := json.Marshal(account)
		if err != nil {
			return fmt.Errorf("failed to marshal child account: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE child_accounts
			SET document = $2, updated_at = $3
			WHERE address_key = $1
		`, models.AddressKey(address), newDoc, account.UpdatedAt)
		if err != nil {
			return unavailable("update child account", err)
		}

		updated = account
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		return nil, unavailable("update child account", err)
	}

	return updated, nil
}

// Clear deletes all child accounts
func (s *PostgresAccountStore) Clear(ctx context.Context) error {
	if _, err := s.db.Pool().Exec(ctx, `DELETE FROM child_accounts`); err != nil {
		return unavailable("clear child accounts", err)
	}
	return nil
}

func (s *PostgresAccountStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *PostgresAccountStore) Close() error {
	s.db.Close()
	return nil
}
