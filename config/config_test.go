package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `ListenAddress = "0.0.0.0:9000"
DataDir = "/var/lib/goldchain"
Storage = "MEMORY"
AllowedSkewSeconds = 30

[RateLimit]
RequestsPerMinute = 120
Burst = 10
TrustedProxies = ["10.0.0.1", "172.16.0.0/12"]

[Indexer]
Driver = "postgres"
DSN = "postgres://gold@localhost/gold"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.ListenAddress)
	require.Equal(t, StorageMemory, cfg.Storage)
	require.Equal(t, int64(30), cfg.AllowedSkewSeconds)
	require.Equal(t, RateLimit{
		RequestsPerMinute: 120,
		Burst:             10,
		TrustedProxies:    []string{"10.0.0.1", "172.16.0.0/12"},
	}, cfg.RateLimit)
	require.Equal(t, IndexerPostgres, cfg.Indexer.Driver)
	// Unset sections keep their defaults.
	require.Equal(t, "local", cfg.Logging.Env)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `listen_address: "127.0.0.1:7000"
storage: memory
allowed_skew_seconds: 60
logging:
  env: staging
  file: /tmp/goldchain.log
telemetry:
  traces: true
  sample_ratio: 0.5
indexer:
  driver: ""
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7000", cfg.ListenAddress)
	require.Equal(t, "staging", cfg.Logging.Env)
	require.True(t, cfg.Telemetry.Traces)
	require.Equal(t, 0.5, cfg.Telemetry.SampleRatio)
	require.Empty(t, cfg.Indexer.Driver)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("Bogus = 1\n"), 0o644))
	_, err := Load(tomlPath)
	require.Error(t, err)

	yamlPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("bogus: 1\n"), 0o644))
	_, err = Load(yamlPath)
	require.Error(t, err)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv(EnvName, "prod")
	t.Setenv(EnvListen, "0.0.0.0:8600")
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "prod", cfg.Logging.Env)
	require.Equal(t, "0.0.0.0:8600", cfg.ListenAddress)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"listen":      func(c *Config) { c.ListenAddress = "nope" },
		"storage":     func(c *Config) { c.Storage = "redis" },
		"datadir":     func(c *Config) { c.DataDir = "" },
		"skew":        func(c *Config) { c.AllowedSkewSeconds = 0 },
		"skew-max":    func(c *Config) { c.AllowedSkewSeconds = MaxAllowedSkewSeconds + 1 },
		"burst":       func(c *Config) { c.RateLimit.Burst = 0 },
		"proxy":       func(c *Config) { c.RateLimit.TrustedProxies = []string{"10.0.0.1", "edge-lb"} },
		"sample":      func(c *Config) { c.Telemetry.SampleRatio = 2 },
		"indexer":     func(c *Config) { c.Indexer.Driver = "mysql" },
		"indexer-dsn": func(c *Config) { c.Indexer.DSN = "" },
		"webhook-url": func(c *Config) { c.Webhook = Webhook{Endpoint: "ftp://x", SecretEnv: "S"} },
		"webhook-env": func(c *Config) { c.Webhook.Endpoint = "https://hooks.example.com/ledger" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, Default().Validate())
}
