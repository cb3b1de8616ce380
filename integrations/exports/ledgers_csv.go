package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"

	"goldchain/native/ledger"
)

var ledgerHeader = []string{"position", "key", "tracking_id", "lot_id", "recorded_at"}

// LedgersCSV builds a CSV export for the supplied ledgers in enumeration
// order and returns the serialised data alongside a SHA-256 checksum of the
// payload.
func LedgersCSV(records []*ledger.Ledger) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(ledgerHeader); err != nil {
		return nil, "", err
	}
	position := uint64(0)
	for _, record := range records {
		if record == nil {
			continue
		}
		row := []string{
			strconv.FormatUint(position, 10),
			record.Key().String(),
			record.TrackingID,
			record.LotID,
			strconv.FormatUint(record.RecordedAt, 10),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
		position++
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
