package ledger

import (
	"fmt"
)

type storedLedger struct {
	TrackingID string
	LotID      string
	RecordedAt uint64
}

func (s storedLedger) toLedger() *Ledger {
	return &Ledger{TrackingID: s.TrackingID, LotID: s.LotID, RecordedAt: s.RecordedAt}
}

// Store persists ledger records keyed by their derived key together with an
// ordered index of every inserted key. The index is the only way to enumerate
// the mapping and must always mirror its key set exactly.
//
// Insert performs several writes; callers run it inside a host transaction so
// a failure part way leaves no trace.
type Store struct {
	store storage
}

// NewStore binds the ledger table to the provided storage backend.
func NewStore(store storage) *Store {
	return &Store{store: store}
}

// Has reports whether a record is stored under key.
func (s *Store) Has(key Key) (bool, error) {
	if s == nil || s.store == nil {
		return false, ErrStateUnavailable
	}
	ok, err := s.store.KVGet(recordKey(key), nil)
	if err != nil {
		return false, fmt.Errorf("ledger: lookup %s: %w", key, err)
	}
	return ok, nil
}

// Get returns the record stored under key.
func (s *Store) Get(key Key) (*Ledger, bool, error) {
	if s == nil || s.store == nil {
		return nil, false, ErrStateUnavailable
	}
	var stored storedLedger
	ok, err := s.store.KVGet(recordKey(key), &stored)
	if err != nil {
		return nil, false, fmt.Errorf("ledger: load %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return stored.toLedger(), true, nil
}

// Len returns the number of keys in the index.
func (s *Store) Len() (uint64, error) {
	if s == nil || s.store == nil {
		return 0, ErrStateUnavailable
	}
	var n uint64
	if _, err := s.store.KVGet(indexLenKey, &n); err != nil {
		return 0, fmt.Errorf("ledger: load index length: %w", err)
	}
	return n, nil
}

// Insert stores ledger under key and appends key to the index. It fails with
// ErrLedgerAlreadyExists, writing nothing, when key is already present.
func (s *Store) Insert(key Key, ledger *Ledger) error {
	if ledger == nil {
		return fmt.Errorf("ledger: nil record")
	}
	exists, err := s.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return ErrLedgerAlreadyExists
	}
	n, err := s.Len()
	if err != nil {
		return err
	}
	record := storedLedger{TrackingID: ledger.TrackingID, LotID: ledger.LotID, RecordedAt: ledger.RecordedAt}
	if err := s.store.KVPut(recordKey(key), record); err != nil {
		return fmt.Errorf("ledger: store %s: %w", key, err)
	}
	if err := s.store.KVPut(indexEntryKey(n), key); err != nil {
		return fmt.Errorf("ledger: append index: %w", err)
	}
	if err := s.store.KVPut(indexLenKey, n+1); err != nil {
		return fmt.Errorf("ledger: store index length: %w", err)
	}
	return nil
}

// KeyAt returns the key at position in the index.
func (s *Store) KeyAt(position uint64) (Key, error) {
	if s == nil || s.store == nil {
		return Key{}, ErrStateUnavailable
	}
	var key Key
	ok, err := s.store.KVGet(indexEntryKey(position), &key)
	if err != nil {
		return Key{}, fmt.Errorf("ledger: load index entry %d: %w", position, err)
	}
	if !ok {
		return Key{}, fmt.Errorf("%w: missing index entry %d", ErrIndexCorrupted, position)
	}
	return key, nil
}

// Keys returns the index in insertion order.
func (s *Store) Keys() ([]Key, error) {
	n, err := s.Len()
	if err != nil {
		return nil, err
	}
	keys := make([]Key, 0, n)
	for i := uint64(0); i < n; i++ {
		key, err := s.KeyAt(i)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// GetAll dereferences every indexed key in insertion order. An entry that does
// not resolve is reported as ErrIndexCorrupted rather than skipped.
func (s *Store) GetAll() ([]*Ledger, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]*Ledger, 0, len(keys))
	for i, key := range keys {
		record, ok, err := s.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: index entry %d (%s) has no record", ErrIndexCorrupted, i, key)
		}
		out = append(out, record)
	}
	return out, nil
}

// Verify audits the index against the mapping: every entry resolves, no key
// appears twice and every record re-derives to the key it is stored under.
func (s *Store) Verify() error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}
	seen := make(map[Key]uint64, len(keys))
	for i, key := range keys {
		pos := uint64(i)
		if first, dup := seen[key]; dup {
			return fmt.Errorf("%w: key %s indexed at %d and %d", ErrIndexCorrupted, key, first, pos)
		}
		seen[key] = pos
		record, ok, err := s.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: index entry %d (%s) has no record", ErrIndexCorrupted, pos, key)
		}
		if derived := DeriveKey(record.TrackingID, record.LotID); derived != key {
			return fmt.Errorf("%w: record at %s derives to %s", ErrIndexCorrupted, key, derived)
		}
	}
	return nil
}
