package ledger

import "errors"

var (
	// ErrAlreadyInitialized is returned when initialize runs a second time.
	ErrAlreadyInitialized = errors.New("ledger: already initialized")
	// ErrNotInitialized is returned when a write is attempted before initialize.
	ErrNotInitialized = errors.New("ledger: not initialized")
	// ErrUnauthorizedAuthority is returned when the caller is not the admin.
	ErrUnauthorizedAuthority = errors.New("ledger: unauthorized authority")
	// ErrStringTooLong is returned when a text field exceeds MaxFieldBytes.
	ErrStringTooLong = errors.New("ledger: string too long")
	// ErrLedgerAlreadyExists is returned when the derived key is already stored.
	ErrLedgerAlreadyExists = errors.New("ledger: ledger already exists")

	// ErrIndexCorrupted marks a divergence between the key index and the
	// record mapping.
	ErrIndexCorrupted = errors.New("ledger: key index corrupted")
	// ErrStateUnavailable is returned when no storage backend is configured.
	ErrStateUnavailable = errors.New("ledger: storage unavailable")
)
