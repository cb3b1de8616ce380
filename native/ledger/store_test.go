package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = encoded
	return nil
}

func (m *memoryStore) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.data[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryStore) snapshot() map[string]string {
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = string(v)
	}
	return out
}

// failingStore fails every write after the first n.
type failingStore struct {
	*memoryStore
	remaining int
}

var errWriteFailed = errors.New("write failed")

func (f *failingStore) KVPut(key []byte, value interface{}) error {
	if f.remaining <= 0 {
		return errWriteFailed
	}
	f.remaining--
	return f.memoryStore.KVPut(key, value)
}

func TestStoreInsertAndGet(t *testing.T) {
	store := NewStore(newMemoryStore())
	record := &Ledger{TrackingID: "TRACK001", LotID: "LOT001", RecordedAt: 1000}
	key := record.Key()

	require.NoError(t, store.Insert(key, record))

	got, ok, err := store.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record, got)

	n, err := store.Len()
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)

	_, ok, err = store.Get(DeriveKey("TRACK001", "LOT002"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreInsertDuplicateLeavesStateUntouched(t *testing.T) {
	backend := newMemoryStore()
	store := NewStore(backend)
	original := &Ledger{TrackingID: "T", LotID: "L", RecordedAt: 1}
	key := original.Key()
	require.NoError(t, store.Insert(key, original))
	before := backend.snapshot()

	err := store.Insert(key, &Ledger{TrackingID: "T", LotID: "L", RecordedAt: 2})
	require.ErrorIs(t, err, ErrLedgerAlreadyExists)
	require.Equal(t, before, backend.snapshot())

	got, _, err := store.Get(key)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.RecordedAt)
}

func TestStoreGetAllPreservesInsertionOrder(t *testing.T) {
	store := NewStore(newMemoryStore())
	var want []*Ledger
	for i := 0; i < 25; i++ {
		// Reverse lexical order so sorting by key or id would be noticed.
		record := &Ledger{
			TrackingID: fmt.Sprintf("TRACK%03d", 100-i),
			LotID:      fmt.Sprintf("LOT%d", i%3),
			RecordedAt: uint64(1000 + i),
		}
		require.NoError(t, store.Insert(record.Key(), record))
		want = append(want, record)
	}

	got, err := store.GetAll()
	require.NoError(t, err)
	require.Equal(t, want, got)

	keys, err := store.Keys()
	require.NoError(t, err)
	require.Len(t, keys, len(want))
	for i, key := range keys {
		require.Equal(t, want[i].Key(), key)
	}
	require.NoError(t, store.Verify())
}

func TestStoreGetAllEmpty(t *testing.T) {
	store := NewStore(newMemoryStore())
	got, err := store.GetAll()
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, store.Verify())
}

func TestStoreGetAllReportsDanglingIndexEntry(t *testing.T) {
	backend := newMemoryStore()
	store := NewStore(backend)
	first := &Ledger{TrackingID: "A", LotID: "1"}
	second := &Ledger{TrackingID: "B", LotID: "2"}
	require.NoError(t, store.Insert(first.Key(), first))
	require.NoError(t, store.Insert(second.Key(), second))

	delete(backend.data, string(recordKey(first.Key())))

	_, err := store.GetAll()
	require.ErrorIs(t, err, ErrIndexCorrupted)
	require.ErrorIs(t, store.Verify(), ErrIndexCorrupted)
}

func TestStoreVerifyDetectsDuplicateIndexEntry(t *testing.T) {
	backend := newMemoryStore()
	store := NewStore(backend)
	record := &Ledger{TrackingID: "A", LotID: "1"}
	require.NoError(t, store.Insert(record.Key(), record))

	require.NoError(t, backend.KVPut(indexEntryKey(1), record.Key()))
	require.NoError(t, backend.KVPut(indexLenKey, uint64(2)))

	require.ErrorIs(t, store.Verify(), ErrIndexCorrupted)
}

func TestStoreVerifyDetectsMisplacedRecord(t *testing.T) {
	backend := newMemoryStore()
	store := NewStore(backend)
	record := &Ledger{TrackingID: "A", LotID: "1"}
	require.NoError(t, store.Insert(record.Key(), record))

	require.NoError(t, backend.KVPut(recordKey(record.Key()), storedLedger{TrackingID: "B", LotID: "1"}))

	require.ErrorIs(t, store.Verify(), ErrIndexCorrupted)
}

func TestStoreMissingIndexEntry(t *testing.T) {
	backend := newMemoryStore()
	store := NewStore(backend)
	require.NoError(t, backend.KVPut(indexLenKey, uint64(1)))

	_, err := store.GetAll()
	require.ErrorIs(t, err, ErrIndexCorrupted)
}

func TestStoreInsertPropagatesWriteFailure(t *testing.T) {
	store := NewStore(&failingStore{memoryStore: newMemoryStore()})
	record := &Ledger{TrackingID: "A", LotID: "1"}
	err := store.Insert(record.Key(), record)
	require.ErrorIs(t, err, errWriteFailed)
}

func TestStoreUnavailable(t *testing.T) {
	var store *Store
	_, _, err := store.Get(Key{})
	require.ErrorIs(t, err, ErrStateUnavailable)
	_, err = NewStore(nil).Len()
	require.ErrorIs(t, err, ErrStateUnavailable)
}
