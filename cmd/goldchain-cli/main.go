package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"goldchain/cmd/internal/passphrase"
)

const (
	rpcURLEnv     = "GOLDCHAIN_RPC_URL"
	keyPassEnv    = "GOLDCHAIN_KEY_PASS"
	defaultKeyOut = "wallet.json"
)

var rpcEndpoint = defaultRPCEndpoint() // overridden via GOLDCHAIN_RPC_URL or --rpc

var (
	keyPassphrase    = passphrase.NewSource(keyPassEnv, "admin keystore").Get
	newKeyPassphrase = passphrase.NewSource(keyPassEnv, "new admin keystore").Confirming().Get
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	command, rest := args[0], args[1:]
	switch command {
	case "generate-key":
		return runGenerateKey(rest, stdout, stderr)
	case "address":
		return runAddress(rest, stdout, stderr)
	case "initialize":
		return runInitialize(rest, stdout, stderr)
	case "add-ledger":
		return runAddLedger(rest, stdout, stderr)
	case "get-ledger":
		return runGetLedger(rest, stdout, stderr)
	case "list-ledgers":
		return runListLedgers(rest, stdout, stderr)
	case "config":
		return runConfig(rest, stdout, stderr)
	case "head":
		return runHead(rest, stdout, stderr)
	case "derive-key":
		return runDeriveKey(rest, stdout, stderr)
	case "export":
		return runExport(rest, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(rpcURLEnv)); v != "" {
		return v
	}
	return "http://127.0.0.1:8545"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: goldchain-cli [--rpc URL] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  generate-key [--out wallet.json]            - Creates an encrypted signing key")
	fmt.Fprintln(w, "  address --key FILE                          - Prints the gold address of a key")
	fmt.Fprintln(w, "  initialize --key FILE                       - Claims the admin role")
	fmt.Fprintln(w, "  add-ledger --key FILE --tracking ID --lot ID - Records a ledger")
	fmt.Fprintln(w, "  get-ledger --tracking ID --lot ID           - Looks up a ledger")
	fmt.Fprintln(w, "  list-ledgers                                - Lists every ledger in order")
	fmt.Fprintln(w, "  config                                      - Shows the admin configuration")
	fmt.Fprintln(w, "  head                                        - Shows the committed state head")
	fmt.Fprintln(w, "  derive-key --tracking ID --lot ID           - Computes a ledger key offline")
	fmt.Fprintln(w, "  export --format csv|jsonl|parquet --out FILE - Exports all ledgers")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "The keystore passphrase is read from %s or prompted on the terminal.\n", keyPassEnv)
}
