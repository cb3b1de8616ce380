package rpc

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketNonces = []byte("nonces")

// NonceStore remembers which (caller, nonce) pairs have been consumed.
type NonceStore interface {
	// Remember records the nonce and reports whether it had already been used.
	Remember(ctx context.Context, caller [20]byte, nonce string, observed time.Time) (bool, error)
	// Prune forgets nonces observed before cutoff.
	Prune(ctx context.Context, cutoff time.Time) error
	Close() error
}

func nonceKey(caller [20]byte, nonce string) string {
	return hex.EncodeToString(caller[:]) + "|" + nonce
}

// MemoryNonceStore keeps nonces in process memory.
type MemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[string]time.Time)}
}

func (m *MemoryNonceStore) Remember(_ context.Context, caller [20]byte, nonce string, observed time.Time) (bool, error) {
	key := nonceKey(caller, nonce)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return true, nil
	}
	m.seen[key] = observed
	return false, nil
}

func (m *MemoryNonceStore) Prune(_ context.Context, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, at := range m.seen {
		if at.Before(cutoff) {
			delete(m.seen, key)
		}
	}
	return nil
}

func (m *MemoryNonceStore) Close() error { return nil }

// BoltNonceStore persists consumed nonces in a BoltDB file so replay
// protection survives restarts.
type BoltNonceStore struct {
	db *bolt.DB
}

// NewBoltNonceStore opens (or creates) the nonce database at path.
func NewBoltNonceStore(path string) (*BoltNonceStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("bolt nonce store path required")
	}
	db, err := bolt.Open(trimmed, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt nonce store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNonces)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltNonceStore{db: db}, nil
}

func (b *BoltNonceStore) Remember(_ context.Context, caller [20]byte, nonce string, observed time.Time) (bool, error) {
	key := []byte(nonceKey(caller, nonce))
	seen := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketNonces)
		if bucket.Get(key) != nil {
			seen = true
			return nil
		}
		value := make([]byte, 8)
		binary.BigEndian.PutUint64(value, uint64(observed.UnixNano()))
		return bucket.Put(key, value)
	})
	return seen, err
}

func (b *BoltNonceStore) Prune(ctx context.Context, cutoff time.Time) error {
	limit := uint64(cutoff.UnixNano())
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketNonces)
		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(v) != 8 || binary.BigEndian.Uint64(v) < limit {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltNonceStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
