package config

import "time"

const (
	// DefaultRedirectURI is the loopback redirect URI registered for the client.
	DefaultRedirectURI = "http://localhost:8080/callback"

	// DefaultClientName is sent as client_name during dynamic registration.
	DefaultClientName = "mcpauth"

	// DefaultCallbackTimeout is how long to wait for the authorization redirect.
	DefaultCallbackTimeout = 5 * time.Minute

	// DefaultHTTPTimeout bounds each request to the authorization server.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultExpiryMargin is how long before expiry a cached token is no longer used.
	DefaultExpiryMargin = 60 * time.Second
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		RedirectURI:     DefaultRedirectURI,
		ClientName:      DefaultClientName,
		OpenBrowser:     true,
		CallbackTimeout: DefaultCallbackTimeout,
		HTTPTimeout:     DefaultHTTPTimeout,
		ExpiryMargin:    DefaultExpiryMargin,
	}
}
