package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Identity is the 20-byte account identifier of a caller.
type Identity = [20]byte

// Key is the content-addressed identifier of a ledger record.
type Key [32]byte

// String renders the key as 0x-prefixed hex.
func (k Key) String() string {
	return "0x" + hex.EncodeToString(k[:])
}

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool {
	return k == Key{}
}

// ParseKey decodes a hex key with or without the 0x prefix.
func ParseKey(s string) (Key, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Key{}, fmt.Errorf("ledger: invalid key: %w", err)
	}
	if len(raw) != len(Key{}) {
		return Key{}, fmt.Errorf("ledger: invalid key length %d", len(raw))
	}
	var k Key
	copy(k[:], raw)
	return k, nil
}

// Config holds the admin fixed at initialisation.
type Config struct {
	Admin Identity
}

// Ledger is an immutable tracking record.
type Ledger struct {
	TrackingID string
	LotID      string
	RecordedAt uint64
}

// Key derives the content-addressed key of the record.
func (l *Ledger) Key() Key {
	if l == nil {
		return Key{}
	}
	return DeriveKey(l.TrackingID, l.LotID)
}

// Env carries the host-supplied values for one call.
type Env struct {
	Caller    Identity
	Timestamp uint64
}
