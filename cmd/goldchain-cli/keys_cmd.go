package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"goldchain/crypto"
)

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("generate-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", defaultKeyOut, "keystore file to create")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		return 1
	}
	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Fprintf(stderr, "Error: %s already exists; pass --force to overwrite\n", path)
		return 1
	}
	pass, err := newKeyPassphrase()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate key: %v\n", err)
		return 1
	}
	address, err := crypto.SaveToKeystore(path, key, pass)
	if err != nil {
		fmt.Fprintf(stderr, "Error: save keystore: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Generated new key and saved to %s\n", path)
	fmt.Fprintf(stdout, "Address: %s\n", address)
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", defaultKeyOut, "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	path, err := keystorePath(*keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	address, err := crypto.KeystoreAddress(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, address.String())
	return 0
}

func keystorePath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("--key is required")
	}
	if _, err := os.Stat(trimmed); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("keystore %s not found. run goldchain-cli generate-key first", trimmed)
		}
		return "", err
	}
	return trimmed, nil
}

// loadKey decrypts the admin keystore, announcing the signing identity on
// stderr before the passphrase is requested.
func loadKey(path string, stderr io.Writer) (*crypto.PrivateKey, error) {
	trimmed, err := keystorePath(path)
	if err != nil {
		return nil, err
	}
	address, err := crypto.KeystoreAddress(trimmed)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(stderr, "Signing as %s\n", address)
	pass, err := keyPassphrase()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(trimmed, pass)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore %s: %w", trimmed, err)
	}
	return key, nil
}
