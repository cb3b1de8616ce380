package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// EnvName overrides Logging.Env.
	EnvName = "GOLDCHAIN_ENV"
	// EnvListen overrides ListenAddress.
	EnvListen = "GOLDCHAIN_LISTEN"
)

type Config struct {
	ListenAddress      string    `toml:"ListenAddress" yaml:"listen_address"`
	DataDir            string    `toml:"DataDir" yaml:"data_dir"`
	Storage            string    `toml:"Storage" yaml:"storage"`
	NonceStorePath     string    `toml:"NonceStorePath" yaml:"nonce_store_path"`
	AllowedSkewSeconds int64     `toml:"AllowedSkewSeconds" yaml:"allowed_skew_seconds"`
	VerifyOnStart      bool      `toml:"VerifyOnStart" yaml:"verify_on_start"`
	RateLimit          RateLimit `toml:"RateLimit" yaml:"rate_limit"`
	Logging            Logging   `toml:"Logging" yaml:"logging"`
	Telemetry          Telemetry `toml:"Telemetry" yaml:"telemetry"`
	Indexer            Indexer   `toml:"Indexer" yaml:"indexer"`
	Webhook            Webhook   `toml:"Webhook" yaml:"webhook"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		ListenAddress:      "127.0.0.1:8545",
		DataDir:            "./goldchain-data",
		Storage:            StorageLevelDB,
		NonceStorePath:     "./goldchain-data/nonces.db",
		AllowedSkewSeconds: 120,
		RateLimit: RateLimit{
			RequestsPerMinute: 600,
			Burst:             60,
		},
		Logging: Logging{Env: "local"},
		Telemetry: Telemetry{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
		Indexer: Indexer{
			Driver: IndexerSQLite,
			DSN:    "./goldchain-data/index.db",
		},
	}
}

// Load loads the configuration from the given path. Files ending in .yaml or
// .yml are parsed as YAML, everything else as TOML. A missing file is created
// with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: %s: unknown field %s", path, undecoded[0])
		}
	}

	applyEnv(cfg)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if env := strings.TrimSpace(os.Getenv(EnvName)); env != "" {
		cfg.Logging.Env = env
	}
	if listen := strings.TrimSpace(os.Getenv(EnvListen)); listen != "" {
		cfg.ListenAddress = listen
	}
}

func (c *Config) normalize() {
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	if c.Storage == "" {
		c.Storage = StorageLevelDB
	}
	c.Indexer.Driver = strings.ToLower(strings.TrimSpace(c.Indexer.Driver))
	c.ListenAddress = strings.TrimSpace(c.ListenAddress)
	c.Webhook.Endpoint = strings.TrimSpace(c.Webhook.Endpoint)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
