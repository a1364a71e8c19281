package blocktracker

import (
	"context"
	"database/sql"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/chainwatch/internal/db"
	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/internal/migrations"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
	"github.com/goran-ethernal/chainwatch/pkg/config"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := t.TempDir() + "/blocktracker_test.db"

	cfg := config.DatabaseConfig{Path: dbPath}
	cfg.ApplyDefaults()

	conn, err := db.NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)

	require.NoError(t, db.RunMigrationsDB(logger.NewNopLogger(), conn, migrations.All()))

	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestSQLiteStore_EmptyByDefault(t *testing.T) {
	t.Parallel()

	conn := setupTestDB(t)
	store := NewSQLiteStore(conn, "usdc-transfers", nil, logger.NewNopLogger())

	fetched, err := store.GetLastFetched(context.Background())
	require.NoError(t, err)
	require.Nil(t, fetched)

	processed, err := store.GetLastProcessed(context.Background())
	require.NoError(t, err)
	require.Nil(t, processed)
}

func TestSQLiteStore_SetAndGetLastFetched(t *testing.T) {
	t.Parallel()

	conn := setupTestDB(t)
	store := NewSQLiteStore(conn, "usdc-transfers", nil, logger.NewNopLogger())
	ctx := context.Background()

	ref := chain.BlockRef{Number: 100, Hash: common.HexToHash("0xaa")}
	require.NoError(t, store.SetLastFetched(ctx, ref))

	got, err := store.GetLastFetched(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, ref.Equal(*got))

	ref2 := chain.BlockRef{Number: 200, Hash: common.HexToHash("0xbb")}
	require.NoError(t, store.SetLastFetched(ctx, ref2))

	got, err = store.GetLastFetched(ctx)
	require.NoError(t, err)
	require.True(t, ref2.Equal(*got))
}

func TestSQLiteStore_SetLastProcessedIfHigher(t *testing.T) {
	t.Parallel()

	conn := setupTestDB(t)
	store := NewSQLiteStore(conn, "usdc-transfers", nil, logger.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, store.SetLastProcessedIfHigher(ctx, chain.BlockRef{Number: 50, Hash: common.HexToHash("0x32")}))

	got, err := store.GetLastProcessed(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(50), got.Number)

	// Lower number must not regress the cursor.
	require.NoError(t, store.SetLastProcessedIfHigher(ctx, chain.BlockRef{Number: 10, Hash: common.HexToHash("0xa")}))
	got, err = store.GetLastProcessed(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(50), got.Number)

	// Higher number advances the cursor.
	require.NoError(t, store.SetLastProcessedIfHigher(ctx, chain.BlockRef{Number: 75, Hash: common.HexToHash("0x4b")}))
	got, err = store.GetLastProcessed(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(75), got.Number)
}

func TestSQLiteStore_IndependentEmitterScopes(t *testing.T) {
	t.Parallel()

	conn := setupTestDB(t)
	ctx := context.Background()

	storeA := NewSQLiteStore(conn, "emitter-a", nil, logger.NewNopLogger())
	storeB := NewSQLiteStore(conn, "emitter-b", nil, logger.NewNopLogger())

	require.NoError(t, storeA.SetLastFetched(ctx, chain.BlockRef{Number: 10, Hash: common.HexToHash("0x1")}))
	require.NoError(t, storeB.SetLastFetched(ctx, chain.BlockRef{Number: 20, Hash: common.HexToHash("0x2")}))

	gotA, err := storeA.GetLastFetched(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), gotA.Number)

	gotB, err := storeB.GetLastFetched(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(20), gotB.Number)
}
