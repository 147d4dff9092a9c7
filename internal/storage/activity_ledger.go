package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/delegation-service/internal/models"
	"github.com/delegation-service/internal/types"
)

// ActivityLedger is an append-only log of child account events
type ActivityLedger interface {
	Record(ctx context.Context, event *models.ActivityEvent) error
	// ListByChild returns at most limit events for address, newest first.
	ListByChild(ctx context.Context, address string, limit int) ([]*models.ActivityEvent, error)
}

func stampEvent(event *models.ActivityEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
}

// MemoryActivityLedger keeps events in memory
type MemoryActivityLedger struct {
	mu     sync.RWMutex
	events map[string][]*models.ActivityEvent
}

// NewMemoryActivityLedger creates an empty in-memory ledger
func NewMemoryActivityLedger() *MemoryActivityLedger {
	return &MemoryActivityLedger{events: make(map[string][]*models.ActivityEvent)}
}

func (l *MemoryActivityLedger) Record(ctx context.Context, event *models.ActivityEvent) error {
	stampEvent(event)
	cp := *event

	l.mu.Lock()
	defer l.mu.Unlock()
	key := models.AddressKey(event.ChildAddress)
	l.events[key] = append(l.events[key], &cp)
	return nil
}

func (l *MemoryActivityLedger) ListByChild(ctx context.Context, address string, limit int) ([]*models.ActivityEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events := l.events[models.AddressKey(address)]
	out := make([]*models.ActivityEvent, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		cp := *events[i]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClickHouseActivityLedger writes events to the child_account_events table
type ClickHouseActivityLedger struct {
	db *ClickHouseDB
}

// NewClickHouseActivityLedger creates a ledger on an open ClickHouse connection
func NewClickHouseActivityLedger(db *ClickHouseDB) *ClickHouseActivityLedger {
	return &ClickHouseActivityLedger{db: db}
}

func (l *ClickHouseActivityLedger) Record(ctx context.Context, event *models.ActivityEvent) error {
	stampEvent(event)

	batch, err := l.db.Conn().PrepareBatch(ctx, `
		INSERT INTO child_account_events (
			id, child_address, delegator_address, kind, amount, transaction_id, error, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	if err := batch.Append(
		event.ID,
		models.AddressKey(event.ChildAddress),
		event.DelegatorAddress,
		string(event.Kind),
		event.Amount,
		event.TransactionID,
		event.Error,
		event.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (l *ClickHouseActivityLedger) ListByChild(ctx context.Context, address string, limit int) ([]*models.ActivityEvent, error) {
	query := `
		SELECT id, child_address, delegator_address, kind, amount, transaction_id, error, created_at
		FROM child_account_events
		WHERE child_address = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := l.db.Conn().Query(ctx, query, models.AddressKey(address), uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	events := make([]*models.ActivityEvent, 0)
	for rows.Next() {
		var (
			event models.ActivityEvent
			kind  string
		)
		if err := rows.Scan(
			&event.ID,
			&event.ChildAddress,
			&event.DelegatorAddress,
			&kind,
			&event.Amount,
			&event.TransactionID,
			&event.Error,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Kind = types.ActivityKind(kind)
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
