package di

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"esence/infrastructure/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Node.StoreDir = t.TempDir()
	cfg.Engine.Provider = config.ProviderStatic
	cfg.Engine.StaticReply = "hello"
	cfg.LogLevel = "error"
	return cfg
}

func TestInitializeContainer(t *testing.T) {
	// Arrange
	ctx := context.Background()
	cfg := testConfig(t)

	// Act
	c, err := InitializeContainer(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, c.Node.Boot(ctx))

	// Assert
	assert.Equal(t, "did:wba:localhost%3A7777:node0", c.Identity.DID().String())

	rec := httptest.NewRecorder()
	c.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/did.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, c.Identity.DID().String(), doc["did"])
}

func TestInitializeContainer_ReusesIdentity(t *testing.T) {
	// Arrange
	ctx := context.Background()
	cfg := testConfig(t)
	first, err := InitializeContainer(ctx, cfg)
	require.NoError(t, err)

	// Act
	second, err := InitializeContainer(ctx, cfg)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, first.Identity.PublicKey(), second.Identity.PublicKey())
}

func TestProvideOwnerTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("no secret disables tokens", func(t *testing.T) {
		// Arrange
		cfg := testConfig(t)
		c, err := InitializeContainer(ctx, cfg)
		require.NoError(t, err)

		// Act
		tokens, err := ProvideOwnerTokens(cfg, c.Identity)

		// Assert
		require.NoError(t, err)
		assert.Nil(t, tokens)
	})

	t.Run("secret issues tokens for the node DID", func(t *testing.T) {
		// Arrange
		cfg := testConfig(t)
		cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
		c, err := InitializeContainer(ctx, cfg)
		require.NoError(t, err)

		// Act
		tokens, err := ProvideOwnerTokens(cfg, c.Identity)
		require.NoError(t, err)
		token, err := tokens.Issue(time.Hour)
		require.NoError(t, err)
		claims, err := tokens.Validate(token)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, c.Identity.DID().String(), claims.Subject)
	})
}

func TestProvideRulesWatcher_NoConfigFile(t *testing.T) {
	// Arrange
	cfg := testConfig(t)

	// Act
	watcher, err := ProvideRulesWatcher(cfg, nil)

	// Assert
	require.NoError(t, err)
	assert.Nil(t, watcher)
}

func TestProvideLogger_InvalidLevel(t *testing.T) {
	// Arrange
	cfg := testConfig(t)
	cfg.LogLevel = "loud"

	// Act
	_, err := ProvideLogger(cfg)

	// Assert
	assert.Error(t, err)
}
