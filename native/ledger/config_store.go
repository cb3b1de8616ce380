package ledger

import "fmt"

// storage abstracts the subset of state manager functionality required by the
// ledger contract. The mapping primitive offers no iteration.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type storedConfig struct {
	Admin [20]byte
}

// ConfigStore owns the single-slot admin configuration.
type ConfigStore struct {
	store storage
}

// NewConfigStore binds the config slot to the provided storage backend.
func NewConfigStore(store storage) *ConfigStore {
	return &ConfigStore{store: store}
}

// Get returns the stored configuration. ok is false before initialisation.
func (c *ConfigStore) Get() (*Config, bool, error) {
	if c == nil || c.store == nil {
		return nil, false, ErrStateUnavailable
	}
	var stored storedConfig
	ok, err := c.store.KVGet(configKey, &stored)
	if err != nil {
		return nil, false, fmt.Errorf("ledger: load config: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Config{Admin: stored.Admin}, true, nil
}

// Initialize records caller as the admin. It fails without mutation when a
// configuration is already present.
func (c *ConfigStore) Initialize(caller Identity) error {
	_, ok, err := c.Get()
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}
	if err := c.store.KVPut(configKey, storedConfig{Admin: caller}); err != nil {
		return fmt.Errorf("ledger: store config: %w", err)
	}
	return nil
}

// RequireInitialized fails with ErrNotInitialized when no admin is recorded.
func (c *ConfigStore) RequireInitialized() (*Config, error) {
	cfg, ok, err := c.Get()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

// RequireAdmin fails unless the contract is initialised and caller is the
// recorded admin.
func (c *ConfigStore) RequireAdmin(caller Identity) error {
	cfg, err := c.RequireInitialized()
	if err != nil {
		return err
	}
	if cfg.Admin != caller {
		return ErrUnauthorizedAuthority
	}
	return nil
}
