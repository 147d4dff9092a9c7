package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delegation-service/internal/config"
	"github.com/delegation-service/internal/models"
	"github.com/delegation-service/internal/types"
)

func TestMemoryActivityLedger(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryActivityLedger()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.Record(ctx, &models.ActivityEvent{
		ChildAddress: childA, Kind: types.ActivityConnected, Amount: 100, CreatedAt: base,
	}))
	require.NoError(t, ledger.Record(ctx, &models.ActivityEvent{
		ChildAddress: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Kind: types.ActivityFundsAdded, Amount: 25, CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, ledger.Record(ctx, &models.ActivityEvent{
		ChildAddress: childB, Kind: types.ActivityConnected, Amount: 5,
	}))

	events, err := ledger.ListByChild(ctx, childA, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.ActivityFundsAdded, events[0].Kind)
	assert.Equal(t, types.ActivityConnected, events[1].Kind)
	assert.NotEmpty(t, events[0].ID)

	limited, err := ledger.ListByChild(ctx, childA, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := ledger.ListByChild(ctx, "0x0000000000000000000000000000000000000000", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClickHouseActivityLedger(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewClickHouseDB(&config.ClickHouseConfig{
		Host: "localhost", Port: "9000", Database: "default", User: "default",
	})
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
		return
	}
	defer func() {
		_ = db.Close()
	}()

	ctx := testContext(t)
	require.NoError(t, RunClickHouseMigrations(ctx, db, "../../migrations/clickhouse"))

	ledger := NewClickHouseActivityLedger(db)
	address := "0x" + time.Now().Format("20060102150405") + "00000000000000000000000000"
	require.NoError(t, ledger.Record(ctx, &models.ActivityEvent{
		ChildAddress: address, Kind: types.ActivityConnected, Amount: 100,
	}))

	events, err := ledger.ListByChild(ctx, address, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.ActivityConnected, events[0].Kind)
}
