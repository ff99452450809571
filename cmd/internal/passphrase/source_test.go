package passphrase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Parallel()
	prompted := 0
	src := &Source{
		envVar: "PASS",
		lookup: func(string) (string, bool) { return "from-env", true },
		prompt: func() (string, error) { prompted++; return "typed", nil },
	}
	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "from-env", value)
	require.Zero(t, prompted)
}

func TestSourcePromptsOnceAndCaches(t *testing.T) {
	t.Parallel()
	prompted := 0
	src := &Source{
		envVar: "PASS",
		lookup: func(string) (string, bool) { return "", false },
		prompt: func() (string, error) { prompted++; return "typed", nil },
	}
	for i := 0; i < 2; i++ {
		value, err := src.Get()
		require.NoError(t, err)
		require.Equal(t, "typed", value)
	}
	require.Equal(t, 1, prompted)
}

func TestSourceRejectsBlank(t *testing.T) {
	t.Parallel()
	blankEnv := &Source{envVar: "PASS", lookup: func(string) (string, bool) { return "  ", true }}
	_, err := blankEnv.Get()
	require.Error(t, err)

	noTerm := &Source{
		envVar: "PASS",
		lookup: func(string) (string, bool) { return "", false },
		prompt: func() (string, error) { return "", errNoTerminal },
	}
	_, err = noTerm.Get()
	require.True(t, errors.Is(err, errNoTerminal))
}
