// Package oauth manages the OAuth 2.1 token lifecycle of an MCP client.
//
// The Manager is the entry point. AcquireToken returns a valid access token
// for a resource server, trying in order:
//
//  1. the in-memory token or the on-disk cache, while valid beyond the expiry margin
//  2. a refresh grant with the cached refresh token
//  3. an interactive AuthorizationFlow (discovery, registration, PKCE,
//     browser redirect to a loopback CallbackServer, code exchange)
//
// Tokens are cached by a TokenStore. FileTokenStore writes one JSON file
// atomically with owner-only permissions and can encrypt it with a
// KeyringCipher. MCPTokenStore adapts the Manager to mcp-go's
// transport.TokenStore.
//
// # Security
//
// Token values, client secrets and PKCE verifiers are never logged. The
// callback state is checked in constant time before the authorization code
// is looked at.
package oauth
