package oauth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"mcpauth/internal/config"
)

func TestNewManagerFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ResourceURL = "https://mcp.example.com/mcp"
	cfg.TokenFile = filepath.Join(t.TempDir(), "tokens.json")
	cfg.ClientID = "static-client"

	manager, store, err := NewManagerFromConfig(cfg, SetupOptions{})
	require.NoError(t, err)
	defer manager.Close()

	assert.Equal(t, cfg.TokenFile, store.Path())
	assert.Equal(t, StateIdle, manager.State())
	assert.Equal(t, cfg.ExpiryMargin, manager.margin)
	assert.Equal(t, "static-client", manager.registrar.Static(cfg.RedirectURI).ClientID)

	_, ok := manager.Status(context.Background(), cfg.ResourceURL)
	assert.False(t, ok)
}

func TestNewManagerFromConfig_InvalidRedirect(t *testing.T) {
	cfg := config.Default()
	cfg.TokenFile = filepath.Join(t.TempDir(), "tokens.json")
	cfg.RedirectURI = "https://localhost/callback"

	_, _, err := NewManagerFromConfig(cfg, SetupOptions{})
	assert.Error(t, err)
}

func TestNewTokenStoreFromConfig_Encrypted(t *testing.T) {
	keyring.MockInit()

	cfg := config.Default()
	cfg.TokenFile = filepath.Join(t.TempDir(), "tokens.json")
	cfg.Encrypt = true

	store, err := NewTokenStoreFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, store.cipher)

	ctx := context.Background()
	require.NoError(t, store.Store(ctx, testEntry(testResource, "secret-access")))
	entry, ok := store.Load(ctx, testResource)
	require.True(t, ok)
	assert.Equal(t, "secret-access", entry.Token.AccessToken)
}

func TestNewManagerFromConfig_AuthorizerOverride(t *testing.T) {
	cfg := config.Default()
	cfg.ResourceURL = "https://mcp.example.com/mcp"
	cfg.TokenFile = filepath.Join(t.TempDir(), "tokens.json")

	manager, _, err := NewManagerFromConfig(cfg, SetupOptions{Authorizer: staticAuthorizer{access: "from-override"}})
	require.NoError(t, err)
	defer manager.Close()

	token, err := manager.AcquireToken(context.Background(), cfg.ResourceURL)
	require.NoError(t, err)
	assert.Equal(t, "from-override", token.AccessToken)
}
