package trie

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"goldchain/storage"
)

func TestTrieCommitFlushPersistsData(t *testing.T) {
	dir := t.TempDir()

	db1, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	tr, err := NewTrie(db1, nil)
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("key"))
	value := []byte("value")

	require.NoError(t, tr.Update(key.Bytes(), value))
	require.True(t, tr.Dirty())
	root, err := tr.Commit(1)
	require.NoError(t, err)
	require.False(t, tr.Dirty())
	require.Equal(t, root, tr.Root())

	db1.Close()

	db2, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	restored, err := NewTrie(db2, root.Bytes())
	require.NoError(t, err)

	got, err := restored.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestTrieRollbackDiscardsPendingWrites(t *testing.T) {
	tr, err := NewTrie(storage.NewMemDB(), nil)
	require.NoError(t, err)

	kept := crypto.Keccak256Hash([]byte("kept"))
	require.NoError(t, tr.Update(kept.Bytes(), []byte("1")))
	root, err := tr.Commit(1)
	require.NoError(t, err)

	dropped := crypto.Keccak256Hash([]byte("dropped"))
	require.NoError(t, tr.Update(dropped.Bytes(), []byte("2")))
	require.NotEqual(t, root, tr.Hash())

	require.NoError(t, tr.Rollback())
	require.Equal(t, root, tr.Hash())

	got, err := tr.Get(dropped.Bytes())
	require.NoError(t, err)
	require.Nil(t, got)
	got, err = tr.Get(kept.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
}
