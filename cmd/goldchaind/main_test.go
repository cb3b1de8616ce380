package main

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goldchain/config"
	"goldchain/core"
	"goldchain/native/ledger"
	"goldchain/observability/logging"
	"goldchain/rpc"
	"goldchain/storage"
)

func TestOpenDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.Storage = config.StorageMemory
	db, err := openDatabase(cfg)
	require.NoError(t, err)
	_, ok := db.(*storage.MemDB)
	require.True(t, ok)
	db.Close()

	cfg.Storage = config.StorageLevelDB
	cfg.DataDir = t.TempDir()
	db, err = openDatabase(cfg)
	require.NoError(t, err)
	_, ok = db.(*storage.LevelDB)
	require.True(t, ok)
	db.Close()
	require.DirExists(t, filepath.Join(cfg.DataDir, stateDirectoryName))
}

func TestOpenNonceStore(t *testing.T) {
	cfg := config.Default()
	cfg.NonceStorePath = filepath.Join(t.TempDir(), "nested", "nonces.db")
	store, err := openNonceStore(cfg)
	require.NoError(t, err)
	_, ok := store.(*rpc.BoltNonceStore)
	require.True(t, ok)
	require.NoError(t, store.Close())

	cfg.Storage = config.StorageMemory
	store, err = openNonceStore(cfg)
	require.NoError(t, err)
	_, ok = store.(*rpc.MemoryNonceStore)
	require.True(t, ok)
}

func TestStartIndexerBackfillsAndFollows(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	node, err := core.NewNode(db)
	require.NoError(t, err)
	defer node.Close()

	admin := ledger.Identity{0x42}
	require.NoError(t, node.Initialize(admin))
	_, err = node.AddLedger(admin, "TRACK001", "LOT001")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Indexer.DSN = filepath.Join(t.TempDir(), "index", "index.db")

	ctx, cancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	idx, err := startIndexer(ctx, cfg, node, logging.New(io.Discard, serviceName, "test"), &workers)
	require.NoError(t, err)
	defer func() {
		cancel()
		workers.Wait()
		_ = idx.Close()
	}()

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	_, err = node.AddLedger(admin, "TRACK001", "LOT002")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		count, err := idx.Count(ctx)
		return err == nil && count == 2
	}, 2*time.Second, 10*time.Millisecond)
}
