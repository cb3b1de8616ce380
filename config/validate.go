package config

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// MaxAllowedSkewSeconds caps the signed-call clock tolerance.
const MaxAllowedSkewSeconds = int64(3600)

// Validate checks the configuration for values the node cannot start with.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("config: ListenAddress %q: %w", c.ListenAddress, err)
	}
	switch c.Storage {
	case StorageLevelDB:
		if c.DataDir == "" {
			return fmt.Errorf("config: DataDir required for leveldb storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("config: unsupported Storage %q", c.Storage)
	}
	if c.AllowedSkewSeconds <= 0 || c.AllowedSkewSeconds > MaxAllowedSkewSeconds {
		return fmt.Errorf("config: AllowedSkewSeconds must be within (0, %d]", MaxAllowedSkewSeconds)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate limit values must not be negative")
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("config: RateLimit.Burst required when RequestsPerMinute is set")
	}
	for _, proxy := range c.RateLimit.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("config: RateLimit.TrustedProxies entry %q is not an address or CIDR range", proxy)
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: Telemetry.SampleRatio must be within [0, 1]")
	}
	switch c.Indexer.Driver {
	case "":
	case IndexerSQLite, IndexerPostgres:
		if c.Indexer.DSN == "" {
			return fmt.Errorf("config: Indexer.DSN required for driver %s", c.Indexer.Driver)
		}
	default:
		return fmt.Errorf("config: unsupported Indexer.Driver %q", c.Indexer.Driver)
	}
	if c.Webhook.Endpoint != "" {
		u, err := url.Parse(c.Webhook.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: Webhook.Endpoint %q must be an http(s) URL", c.Webhook.Endpoint)
		}
		if c.Webhook.SecretEnv == "" {
			return fmt.Errorf("config: Webhook.SecretEnv required when Endpoint is set")
		}
	}
	return nil
}

func validProxy(entry string) bool {
	entry = strings.TrimSpace(entry)
	if _, err := netip.ParsePrefix(entry); err == nil {
		return true
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}
