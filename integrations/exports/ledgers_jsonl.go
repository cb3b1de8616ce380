package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"goldchain/native/ledger"
)

type ledgerLine struct {
	Position   uint64 `json:"position"`
	Key        string `json:"key"`
	TrackingID string `json:"trackingId"`
	LotID      string `json:"lotId"`
	RecordedAt uint64 `json:"recordedAt"`
}

// LedgersJSONL builds a JSON Lines export for the supplied ledgers and
// returns the serialised payload alongside a checksum.
func LedgersJSONL(records []*ledger.Ledger) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	position := uint64(0)
	for _, record := range records {
		if record == nil {
			continue
		}
		line := ledgerLine{
			Position:   position,
			Key:        record.Key().String(),
			TrackingID: record.TrackingID,
			LotID:      record.LotID,
			RecordedAt: record.RecordedAt,
		}
		if err := encoder.Encode(line); err != nil {
			return nil, "", err
		}
		position++
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
