package passphrase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func scripted(t *testing.T, answers ...string) func(string) (string, error) {
	t.Helper()
	return func(msg string) (string, error) {
		if len(answers) == 0 {
			t.Fatalf("unexpected prompt %q", msg)
		}
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}
}

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("GOLDCHAIN_TEST_PASS", "s3cret")
	source := NewSource(" GOLDCHAIN_TEST_PASS ", "admin keystore").Confirming()

	got, err := source.Get()
	require.NoError(t, err)
	require.Equal(t, "s3cret", got)

	t.Setenv("GOLDCHAIN_TEST_PASS", "changed")
	again, err := source.Get()
	require.NoError(t, err)
	require.Equal(t, "s3cret", again, "value is cached after the first call")
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("GOLDCHAIN_TEST_PASS", "   ")
	_, err := NewSource("GOLDCHAIN_TEST_PASS", "admin keystore").Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourcePromptsWithLabel(t *testing.T) {
	var prompts []string
	source := NewSource("", "admin keystore")
	source.prompt = func(msg string) (string, error) {
		prompts = append(prompts, msg)
		return "hunter2", nil
	}

	got, err := source.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)
	require.Equal(t, []string{"Enter admin keystore passphrase: "}, prompts)
	require.Equal(t, "admin keystore", source.Label())
	require.Equal(t, "keystore", NewSource("", " ").Label())
}

func TestSourceConfirmation(t *testing.T) {
	source := NewSource("", "new admin keystore").Confirming()
	source.prompt = scripted(t, "first", "second")
	_, err := source.Get()
	require.ErrorIs(t, err, ErrMismatch)
	require.ErrorContains(t, err, "new admin keystore")

	source = NewSource("", "new admin keystore").Confirming()
	source.prompt = scripted(t, "same", "same")
	got, err := source.Get()
	require.NoError(t, err)
	require.Equal(t, "same", got)
}

func TestSourcePromptFailures(t *testing.T) {
	source := NewSource("", "admin keystore")
	source.prompt = scripted(t, "  ")
	_, err := source.Get()
	require.ErrorContains(t, err, "admin keystore passphrase cannot be empty")

	source = NewSource("", "admin keystore")
	source.prompt = func(string) (string, error) { return "", errors.New("eof") }
	_, err = source.Get()
	require.ErrorContains(t, err, "read admin keystore passphrase")
}
