package main

import (
	"bytes"
	"strings"
	"testing"

	"esence/pkg/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ESENCE_CONFIG", "")
	t.Setenv("ESENCE_STORE_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")
	forceKeygen = false
}

func TestKeygen(t *testing.T) {
	// Arrange
	isolate(t)

	// Act
	first, err := execute(t, "keygen")
	require.NoError(t, err)
	_, refused := execute(t, "keygen")
	forced, err := execute(t, "keygen", "--force")
	require.NoError(t, err)

	// Assert
	assert.Contains(t, first, "did: did:wba:localhost%3A7777:node0")
	require.Error(t, refused)
	assert.Contains(t, refused.Error(), "--force")
	assert.NotEqual(t, first, forced, "forced keygen replaces the public key")
}

func TestToken(t *testing.T) {
	// Arrange
	isolate(t)
	secret := "0123456789abcdef0123456789abcdef"
	t.Setenv("ESENCE_JWT_SECRET", secret)
	didOut, err := execute(t, "did")
	require.NoError(t, err)
	did := strings.SplitN(didOut, "\n", 2)[0]

	// Act
	out, err := execute(t, "token")

	// Assert
	require.NoError(t, err)
	tokens, err := auth.NewOwnerTokens(secret, "esence", did)
	require.NoError(t, err)
	claims, err := tokens.Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, did, claims.Subject)
}

func TestToken_RequiresSecret(t *testing.T) {
	// Arrange
	isolate(t)
	t.Setenv("ESENCE_JWT_SECRET", "")

	// Act
	_, err := execute(t, "token")

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ESENCE_JWT_SECRET")
}
