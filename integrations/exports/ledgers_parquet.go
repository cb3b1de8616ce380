package exports

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"lukechampine.com/blake3"

	"goldchain/native/ledger"
)

// ErrTimestampOverflow marks a record whose timestamp does not fit the signed
// INT64 column.
var ErrTimestampOverflow = errors.New("exports: recorded_at exceeds int64")

type parquetLedger struct {
	Position   int64  `parquet:"name=position, type=INT64"`
	Key        string `parquet:"name=key, type=UTF8, encoding=PLAIN_DICTIONARY"`
	TrackingID string `parquet:"name=tracking_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	LotID      string `parquet:"name=lot_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	RecordedAt int64  `parquet:"name=recorded_at, type=INT64"`
}

// WriteLedgersParquet writes the ledgers to a SNAPPY compressed parquet file
// at path and returns the BLAKE3 digest of the finished file.
func WriteLedgersParquet(path string, records []*ledger.Ledger) (string, error) {
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetLedger), 1)
	if err != nil {
		file.Close()
		return "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	position := int64(0)
	for _, record := range records {
		if record == nil {
			continue
		}
		if record.RecordedAt > math.MaxInt64 {
			pw.WriteStop()
			file.Close()
			return "", fmt.Errorf("%w: %s", ErrTimestampOverflow, record.Key())
		}
		row := &parquetLedger{
			Position:   position,
			Key:        record.Key().String(),
			TrackingID: record.TrackingID,
			LotID:      record.LotID,
			RecordedAt: int64(record.RecordedAt),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return "", fmt.Errorf("exports: parquet write: %w", err)
		}
		position++
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("exports: close parquet file: %w", err)
	}
	return FileDigest(path)
}

// FileDigest returns the hex encoded BLAKE3-256 digest of the file at path.
func FileDigest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("exports: read %s: %w", path, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
