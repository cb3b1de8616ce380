package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsCanonicalKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, " goldchaind ", "test")
	logger.Info("ledger recorded", "height", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "ledger recorded", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "goldchaind", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 3, line["height"])
}

func TestNewOmitsEmptyEnv(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "svc", "  ").Warn("x")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.NotContains(t, line, "env")
	require.Equal(t, "WARN", line["severity"])
}

func TestRedact(t *testing.T) {
	require.Equal(t, RedactedValue, Redact("signature", "0xdeadbeef").Value.String())
	require.Equal(t, RedactedValue, Redact("passphrase", "hunter2").Value.String())
	require.Equal(t, "", Redact("passphrase", "").Value.String())
	require.Equal(t, "TRACK001", Redact("trackingId", "TRACK001").Value.String())
	require.Equal(t, RedactedValue, MaskValue("secret"))
	require.Contains(t, RedactionAllowlist(), "method")
	require.True(t, IsAllowlisted(" Caller "))
}
