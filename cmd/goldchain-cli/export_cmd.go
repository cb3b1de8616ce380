package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"goldchain/integrations/exports"
	"goldchain/native/ledger"
)

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "csv", "csv, jsonl or parquet")
	out := fs.String("out", "", "output file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		return 1
	}
	kind := strings.ToLower(strings.TrimSpace(*format))
	switch kind {
	case "csv", "jsonl", "parquet":
	default:
		fmt.Fprintf(stderr, "Error: unsupported format %q\n", *format)
		return 1
	}

	ctx, cancel := callContext()
	defer cancel()
	listed, err := newClient().GetAllLedgers(ctx)
	if err != nil {
		return handleCallError(stderr, err)
	}
	records := make([]*ledger.Ledger, 0, len(listed))
	for _, item := range listed {
		records = append(records, &ledger.Ledger{
			TrackingID: item.TrackingID,
			LotID:      item.LotID,
			RecordedAt: item.RecordedAt,
		})
	}

	var digest string
	switch kind {
	case "parquet":
		digest, err = exports.WriteLedgersParquet(path, records)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Wrote %d ledgers to %s (blake3 %s)\n", len(records), path, digest)
		return 0
	case "jsonl":
		var data []byte
		data, digest, err = exports.LedgersJSONL(records)
		if err == nil {
			err = os.WriteFile(path, data, 0o644)
		}
	default:
		var data []byte
		data, digest, err = exports.LedgersCSV(records)
		if err == nil {
			err = os.WriteFile(path, data, 0o644)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote %d ledgers to %s (sha256 %s)\n", len(records), path, digest)
	return 0
}
