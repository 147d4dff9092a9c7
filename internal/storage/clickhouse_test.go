package storage

import (
	"context"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delegation-service/internal/config"
)

// testContext bounds a storage test that talks to a live backend
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testClickHouseConfig() *config.ClickHouseConfig {
	return &config.ClickHouseConfig{
		Host:           "localhost",
		Port:           "9000",
		Database:       "delegation",
		User:           "default",
		Password:       "clickhouse_dev_password",
		MaxConnections: 2,
		QueryTimeout:   5 * time.Second,
		AsyncInsert:    true,
	}
}

func TestClickHouseOptions(t *testing.T) {
	opts := clickHouseOptions(testClickHouseConfig())

	assert.Equal(t, []string{"localhost:9000"}, opts.Addr)
	assert.Equal(t, "delegation", opts.Auth.Database)
	assert.Equal(t, 2, opts.MaxOpenConns)
	assert.Equal(t, 1, opts.MaxIdleConns)
	assert.Equal(t, 5*time.Second, opts.ReadTimeout)
	assert.Equal(t, 5, opts.Settings["max_execution_time"])
	assert.Equal(t, 1, opts.Settings["async_insert"])
	assert.Equal(t, 0, opts.Settings["wait_for_async_insert"])
	require.NotNil(t, opts.Compression)
	assert.Equal(t, clickhouse.CompressionLZ4, opts.Compression.Method)
	require.Len(t, opts.ClientInfo.Products, 1)
	assert.Equal(t, "delegation-service", opts.ClientInfo.Products[0].Name)
}

func TestClickHouseOptions_Defaults(t *testing.T) {
	opts := clickHouseOptions(&config.ClickHouseConfig{Host: "ch", Port: "9000"})

	assert.Equal(t, 4, opts.MaxOpenConns)
	assert.Equal(t, 2, opts.MaxIdleConns)
	assert.Equal(t, 10*time.Second, opts.ReadTimeout)
	assert.Equal(t, 10, opts.Settings["max_execution_time"])
	assert.NotContains(t, opts.Settings, "async_insert")
}

func TestNewClickHouseDB(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewClickHouseDB(testClickHouseConfig())
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
		return
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	ctx := testContext(t)
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if db.Conn() == nil {
		t.Error("Conn() returned nil")
	}
}
