package config

// RateLimit bounds requests per client address on the RPC listener.
type RateLimit struct {
	RequestsPerMinute int `toml:"RequestsPerMinute" yaml:"requests_per_minute"`
	Burst             int `toml:"Burst" yaml:"burst"`
	// TrustedProxies lists reverse proxy addresses or CIDR ranges whose
	// X-Forwarded-For header is believed.
	TrustedProxies []string `toml:"TrustedProxies,omitempty" yaml:"trusted_proxies,omitempty"`
}

// Logging selects the environment label and optional rotated log file.
type Logging struct {
	Env  string `toml:"Env" yaml:"env"`
	File string `toml:"File" yaml:"file"`
}

// Telemetry configures the OTLP/HTTP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// Indexer configures the SQL mirror used for search. An empty driver
// disables it.
type Indexer struct {
	Driver string `toml:"Driver" yaml:"driver"`
	DSN    string `toml:"DSN" yaml:"dsn"`
}

// Webhook forwards committed ledger events to an HTTP endpoint. The HMAC
// secret is read from the environment variable named by SecretEnv.
type Webhook struct {
	Endpoint  string `toml:"Endpoint" yaml:"endpoint"`
	SecretEnv string `toml:"SecretEnv" yaml:"secret_env"`
}

const (
	StorageLevelDB = "leveldb"
	StorageMemory  = "memory"

	IndexerSQLite   = "sqlite"
	IndexerPostgres = "postgres"
)
