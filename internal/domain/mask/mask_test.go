package mask

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyMasksEverySecretPreservingOtherSpans(t *testing.T) {
	text := "mysql --password=testtest --user=admin"
	masked := Apply(text, []string{"testtest"})

	require.NotContains(t, masked, "testtest")
	require.Contains(t, masked, "--user=admin")
	require.Contains(t, masked, Token)
}

func TestApplyIgnoresEmptySecret(t *testing.T) {
	text := "command --flag=value"
	require.Equal(t, text, Apply(text, []string{""}))
}

func TestApplyNoSecretsReturnsTextUnchanged(t *testing.T) {
	text := "command --flag=value"
	require.Equal(t, text, Apply(text, nil))
}

func TestApplyMasksAllOccurrences(t *testing.T) {
	text := "secret secret secret"
	masked := Apply(text, []string{"secret"})
	require.Equal(t, strings.Repeat(Token+" ", 2)+Token, masked)
}
