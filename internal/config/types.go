package config

import "time"

// Config is the complete mcpauth configuration. It is assembled from
// defaults, MCPAUTH_* environment variables and command-line flags, in that
// order of increasing precedence.
type Config struct {
	// ResourceURL is the MCP resource server to obtain tokens for.
	ResourceURL string `yaml:"resourceUrl"`

	// RedirectURI is the loopback URI the authorization server redirects to.
	RedirectURI string `yaml:"redirectUri"`

	// ClientID and ClientSecret are the static client used when dynamic
	// registration is unavailable. ClientSecret is optional (public client).
	ClientID     string `yaml:"clientId,omitempty"`
	ClientSecret string `yaml:"-"`

	// ClientName is sent as client_name during dynamic registration.
	ClientName string `yaml:"clientName,omitempty"`

	// Scopes are requested explicitly when set.
	Scopes []string `yaml:"scopes,omitempty"`

	// TokenFile overrides the token cache location.
	TokenFile string `yaml:"tokenFile,omitempty"`

	// Encrypt seals the token cache with a key kept in the OS keyring.
	Encrypt bool `yaml:"encrypt,omitempty"`

	// OpenBrowser opens the authorization URL automatically.
	OpenBrowser bool `yaml:"openBrowser"`

	CallbackTimeout time.Duration `yaml:"callbackTimeout"`
	HTTPTimeout     time.Duration `yaml:"httpTimeout"`
	ExpiryMargin    time.Duration `yaml:"expiryMargin"`
}
