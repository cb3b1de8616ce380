package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"goldchain/native/ledger"
	"goldchain/rpc"
)

const callTimeout = 30 * time.Second

func newClient() *rpc.Client {
	return rpc.NewClient(rpcEndpoint)
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

type pairFlags struct {
	tracking string
	lot      string
}

func (p *pairFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&p.tracking, "tracking", "", "tracking identifier")
	fs.StringVar(&p.lot, "lot", "", "lot identifier")
}

// Empty identifiers are valid ledger fields, so only an unset flag is an error.
func (p *pairFlags) require(fs *flag.FlagSet) error {
	seen := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { seen[f.Name] = true })
	if !seen["tracking"] || !seen["lot"] {
		return errors.New("--tracking and --lot are required")
	}
	return nil
}

func runInitialize(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("initialize", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", defaultKeyOut, "keystore file of the admin")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(*keyFile, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	result, err := newClient().Initialize(ctx, key)
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, stderr, result)
}

func runAddLedger(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("add-ledger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", defaultKeyOut, "keystore file of the admin")
	var pair pairFlags
	pair.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := pair.require(fs); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := loadKey(*keyFile, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	result, err := newClient().AddLedger(ctx, key, pair.tracking, pair.lot)
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, stderr, result)
}

func runGetLedger(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("get-ledger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var pair pairFlags
	pair.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := pair.require(fs); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	result, err := newClient().GetLedger(ctx, pair.tracking, pair.lot)
	if err != nil {
		return handleCallError(stderr, err)
	}
	if result == nil {
		fmt.Fprintln(stderr, "Ledger not found")
		return 2
	}
	return writeJSON(stdout, stderr, result)
}

func runListLedgers(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("list-ledgers", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	result, err := newClient().GetAllLedgers(ctx)
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, stderr, result)
}

func runConfig(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	result, err := newClient().GetConfig(ctx)
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, stderr, result)
}

func runHead(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("head", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	result, err := newClient().Head(ctx)
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, stderr, result)
}

func runDeriveKey(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("derive-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var pair pairFlags
	pair.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := pair.require(fs); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, ledger.DeriveKey(pair.tracking, pair.lot).String())
	return 0
}

func handleCallError(stderr io.Writer, err error) int {
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		fmt.Fprintf(stderr, "Error: %s (code %d)", rpcErr.Message, rpcErr.Code)
		if rpcErr.Data != nil {
			fmt.Fprintf(stderr, ": %v", rpcErr.Data)
		}
		fmt.Fprintln(stderr)
		return 1
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func writeJSON(stdout, stderr io.Writer, v interface{}) int {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: encode result: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(encoded))
	return 0
}
