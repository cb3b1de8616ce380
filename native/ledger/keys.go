package ledger

import (
	"fmt"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// KeyTag separates the record key space from any other user of the hash.
const KeyTag = "ledger"

// DeriveKey computes BLAKE2b-256(KeyTag || trackingID || lotID).
func DeriveKey(trackingID, lotID string) Key {
	buf := make([]byte, 0, len(KeyTag)+len(trackingID)+len(lotID))
	buf = append(buf, KeyTag...)
	buf = append(buf, trackingID...)
	buf = append(buf, lotID...)
	return Key(blake2b.Sum256(buf))
}

var (
	configKey        = []byte("ledger/config")
	recordPrefix     = []byte("ledger/record/")
	indexLenKey      = []byte("ledger/index/len")
	indexEntryPrefix = "ledger/index/"
)

func recordKey(key Key) []byte {
	return []byte(fmt.Sprintf("%s%x", recordPrefix, key[:]))
}

func indexEntryKey(position uint64) []byte {
	return []byte(indexEntryPrefix + strconv.FormatUint(position, 10))
}
