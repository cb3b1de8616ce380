package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/stretchr/testify/require"

	"goldchain/core"
	"goldchain/crypto"
	"goldchain/native/ledger"
	"goldchain/rpc"
	"goldchain/storage"
)

func startNode(t *testing.T) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db)
	require.NoError(t, err)
	t.Cleanup(node.Close)
	node.SetNowFunc(func() int64 { return 1000 })
	srv := httptest.NewServer(rpc.NewServer(node, rpc.ServerConfig{}).Handler())
	t.Cleanup(srv.Close)

	original := rpcEndpoint
	rpcEndpoint = srv.URL
	t.Cleanup(func() { rpcEndpoint = original })
}

func stubPassphrase(t *testing.T) {
	t.Helper()
	original, originalNew := keyPassphrase, newKeyPassphrase
	keyPassphrase = func() (string, error) { return "correct horse", nil }
	newKeyPassphrase = keyPassphrase
	t.Cleanup(func() { keyPassphrase, newKeyPassphrase = original, originalNew })

	n, p := crypto.KeystoreScryptN, crypto.KeystoreScryptP
	crypto.KeystoreScryptN, crypto.KeystoreScryptP = keystore.LightScryptN, keystore.LightScryptP
	t.Cleanup(func() { crypto.KeystoreScryptN, crypto.KeystoreScryptP = n, p })
}

func runCLI(args ...string) (int, string, string) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	code := run(args, stdout, stderr)
	return code, stdout.String(), stderr.String()
}

func TestCLILedgerWorkflow(t *testing.T) {
	startNode(t)
	stubPassphrase(t)
	keyFile := filepath.Join(t.TempDir(), "admin.json")

	code, out, errOut := runCLI("generate-key", "--out", keyFile)
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "Address: gold1")

	code, _, errOut = runCLI("generate-key", "--out", keyFile)
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "already exists")

	code, address, errOut := runCLI("address", "--key", keyFile)
	require.Equal(t, 0, code, errOut)
	require.True(t, strings.HasPrefix(address, "gold1"))

	code, out, errOut = runCLI("initialize", "--key", keyFile)
	require.Equal(t, 0, code, errOut)
	require.Contains(t, errOut, "Signing as "+strings.TrimSpace(address))
	var cfg rpc.ConfigJSON
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	require.Equal(t, strings.TrimSpace(address), cfg.Admin)

	code, out, errOut = runCLI("add-ledger", "--key", keyFile, "--tracking", "TRACK001", "--lot", "LOT001")
	require.Equal(t, 0, code, errOut)
	var added rpc.LedgerJSON
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	require.Equal(t, uint64(1000), added.RecordedAt)

	code, _, errOut = runCLI("add-ledger", "--key", keyFile, "--tracking", "TRACK001", "--lot", "LOT001")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "ledger_already_exists")

	code, out, errOut = runCLI("get-ledger", "--tracking", "TRACK001", "--lot", "LOT001")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, added.Key)

	code, _, errOut = runCLI("get-ledger", "--tracking", "TRACK001", "--lot", "LOT404")
	require.Equal(t, 2, code)
	require.Contains(t, errOut, "not found")

	code, out, _ = runCLI("list-ledgers")
	require.Equal(t, 0, code)
	var listed []rpc.LedgerJSON
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Equal(t, []rpc.LedgerJSON{added}, listed)

	code, out, _ = runCLI("head")
	require.Equal(t, 0, code)
	require.Contains(t, out, `"ledgers": 1`)

	dir := t.TempDir()
	for _, format := range []string{"csv", "jsonl", "parquet"} {
		path := filepath.Join(dir, "ledgers."+format)
		code, out, errOut = runCLI("export", "--format", format, "--out", path)
		require.Equal(t, 0, code, errOut)
		require.Contains(t, out, "Wrote 1 ledgers")
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.NotZero(t, info.Size())
	}
}

func TestCLIArgValidation(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no command", args: nil, wantErr: "Usage"},
		{name: "unknown", args: []string{"transfer"}, wantErr: "Unknown command"},
		{name: "missing rpc value", args: []string{"--rpc"}, wantErr: "missing value for --rpc"},
		{name: "derive missing lot", args: []string{"derive-key", "--tracking", "T"}, wantErr: "--tracking and --lot are required"},
		{name: "add missing flags", args: []string{"add-ledger"}, wantErr: "--tracking and --lot are required"},
		{name: "export format", args: []string{"export", "--format", "xml", "--out", "x"}, wantErr: "unsupported format"},
		{name: "export out", args: []string{"export"}, wantErr: "--out is required"},
		{name: "missing key", args: []string{"initialize", "--key", filepath.Join(t.TempDir(), "none.json")}, wantErr: "generate-key first"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, out, errOut := runCLI(tc.args...)
			require.Equal(t, 1, code)
			require.Empty(t, out)
			require.Contains(t, errOut, tc.wantErr)
		})
	}
}

func TestDeriveKeyOffline(t *testing.T) {
	code, out, _ := runCLI("derive-key", "--tracking", "", "--lot", "")
	require.Equal(t, 0, code)
	require.Equal(t, ledger.DeriveKey("", "").String(), strings.TrimSpace(out))
}

func TestApplyGlobalFlags(t *testing.T) {
	original := rpcEndpoint
	defer func() { rpcEndpoint = original }()

	rest, err := applyGlobalFlags([]string{"--rpc=http://node:1", "head"})
	require.NoError(t, err)
	require.Equal(t, []string{"head"}, rest)
	require.Equal(t, "http://node:1", rpcEndpoint)

	rest, err = applyGlobalFlags([]string{"head", "--rpc", "http://node:2"})
	require.NoError(t, err)
	require.Equal(t, []string{"head"}, rest)
	require.Equal(t, "http://node:2", rpcEndpoint)
}
