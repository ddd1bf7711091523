// Package oauth provides the OAuth 2.1 protocol pieces used to obtain tokens
// for MCP resource servers.
//
// It is stateless apart from in-process memoisation and contains no storage
// or user interaction. The token lifecycle built on top of it lives in
// internal/oauth.
//
// # Core Components
//
//   - ProtectedResourceMetadata / Metadata: RFC 9728 and RFC 8414 discovery documents
//   - Client: metadata discovery with well-known fallbacks, code exchange and refresh
//   - Registrar: RFC 7591 dynamic client registration with static fallback
//   - PKCEChallenge: RFC 7636 S256 verifier/challenge plus CSRF state
//   - AuthChallenge: parsed WWW-Authenticate header information
//   - TokenSet / CachedTokenFile: tokens bound to a resource indicator (RFC 8707)
//
// # Errors
//
// Failures are reported as typed errors (DiscoveryError, RegistrationError,
// RefreshRejectedError, ...). Use errors.As to inspect them. Token values,
// client secrets and PKCE verifiers never appear in error messages or logs.
//
// # Usage
//
//	client := oauth.NewClient(oauth.WithHTTPClient(httpClient))
//	prm, err := client.ResolveProtectedResource(ctx, resourceURL)
//	metadata, err := client.ResolveAuthorizationServer(ctx, prm.AuthorizationServers[0])
//	registration, err := oauth.NewRegistrar(client).Register(ctx, metadata, redirectURI)
package oauth
