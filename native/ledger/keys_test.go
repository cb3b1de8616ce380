package ledger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	a := DeriveKey("TRACK001", "LOT001")
	b := DeriveKey("TRACK001", "LOT001")
	require.Equal(t, a, b)
	require.False(t, a.IsZero())

	require.NotEqual(t, a, DeriveKey("TRACK001", "LOT002"))
	require.NotEqual(t, a, DeriveKey("TRACK002", "LOT001"))
	require.NotEqual(t, a, DeriveKey("LOT001", "TRACK001"))
}

func TestDeriveKeyHashesTaggedBuffer(t *testing.T) {
	want := blake2b.Sum256([]byte("ledgerTRACK001LOT001"))
	require.Equal(t, Key(want), DeriveKey("TRACK001", "LOT001"))

	empty := blake2b.Sum256([]byte("ledger"))
	require.Equal(t, Key(empty), DeriveKey("", ""))
}

func TestDeriveKeyUsesRawBytes(t *testing.T) {
	require.NotEqual(t, DeriveKey("track", "lot"), DeriveKey("TRACK", "LOT"))
	require.NotEqual(t, DeriveKey("track", "lot"), DeriveKey(" track", "lot"))
	long := strings.Repeat("x", 10_000)
	require.Equal(t, DeriveKey(long, long), DeriveKey(long, long))
}

func TestParseKey(t *testing.T) {
	key := DeriveKey("TRACK001", "LOT001")
	parsed, err := ParseKey(key.String())
	require.NoError(t, err)
	require.Equal(t, key, parsed)

	parsed, err = ParseKey(strings.TrimPrefix(key.String(), "0x"))
	require.NoError(t, err)
	require.Equal(t, key, parsed)

	_, err = ParseKey("0x1234")
	require.Error(t, err)
	_, err = ParseKey("not-hex")
	require.Error(t, err)
}

func TestValidateLength(t *testing.T) {
	require.NoError(t, ValidateLength(""))
	require.NoError(t, ValidateLength(strings.Repeat("a", MaxFieldBytes)))
	require.ErrorIs(t, ValidateLength(strings.Repeat("a", MaxFieldBytes+1)), ErrStringTooLong)

	// 128 two-byte runes fit; one more does not.
	require.NoError(t, ValidateLength(strings.Repeat("é", 128)))
	require.ErrorIs(t, ValidateLength(strings.Repeat("é", 129)), ErrStringTooLong)
}
