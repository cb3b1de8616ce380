package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const defaultLabel = "keystore"

// ErrMismatch is returned when the confirmation entry differs from the first.
var ErrMismatch = errors.New("passphrases do not match")

// Source resolves the passphrase protecting a keystore, either from an
// environment variable or by prompting the operator with a label naming the
// keystore ("admin keystore"). The first result, value or error, is cached.
type Source struct {
	envVar  string
	label   string
	confirm bool
	prompt  func(msg string) (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that checks envVar before prompting for the
// passphrase of the keystore named by label.
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = defaultLabel
	}
	return &Source{envVar: strings.TrimSpace(envVar), label: label}
}

// Confirming makes interactive entry ask twice, for sealing new keystores.
// Values taken from the environment are used as given.
func (s *Source) Confirming() *Source {
	s.confirm = true
	return s
}

// Label returns the keystore name used in prompts and errors.
func (s *Source) Label() string { return s.label }

// Get returns the cached passphrase or resolves it on the first call.
// Whitespace-only passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	prompt := s.prompt
	if prompt == nil {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				return "", fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
			}
			return "", fmt.Errorf("%s passphrase required and no terminal available", s.label)
		}
		prompt = readTerminal
	}

	first, err := prompt(fmt.Sprintf("Enter %s passphrase: ", s.label))
	if err != nil {
		return "", fmt.Errorf("read %s passphrase: %w", s.label, err)
	}
	if strings.TrimSpace(first) == "" {
		return "", fmt.Errorf("%s passphrase cannot be empty", s.label)
	}
	if !s.confirm {
		return first, nil
	}
	second, err := prompt(fmt.Sprintf("Repeat %s passphrase: ", s.label))
	if err != nil {
		return "", fmt.Errorf("read %s passphrase: %w", s.label, err)
	}
	if first != second {
		return "", fmt.Errorf("%s: %w", s.label, ErrMismatch)
	}
	return first, nil
}

func readTerminal(msg string) (string, error) {
	fmt.Fprint(os.Stderr, msg)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
