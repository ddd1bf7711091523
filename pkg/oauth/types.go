package oauth

import (
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is the margin applied when deciding whether a cached
// token can still be handed out. It absorbs clock skew and request latency.
const DefaultExpiryMargin = 60 * time.Second

// DefaultTokenLifetime is assumed when a token response omits expires_in.
const DefaultTokenLifetime = 3600 * time.Second

// DefaultTokenStorageDir is the default directory for the token cache,
// relative to the user's home directory.
const DefaultTokenStorageDir = ".config/mcpauth"

// DefaultTokenFileName is the name of the token cache file inside DefaultTokenStorageDir.
const DefaultTokenFileName = "tokens.json"

// ProtectedResourceMetadata is the RFC 9728 document published by a resource server.
type ProtectedResourceMetadata struct {
	// Resource is the resource identifier the metadata describes.
	Resource string `json:"resource"`

	// AuthorizationServers lists the issuers that govern access to the resource.
	// Order is significant: the first entry is the one used for authorization.
	AuthorizationServers []string `json:"authorization_servers"`

	// ScopesSupported lists the scopes the resource understands.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// BearerMethodsSupported lists how bearer tokens may be presented.
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// Metadata represents OAuth 2.0 Authorization Server Metadata as defined in RFC 8414.
type Metadata struct {
	// Issuer is the authorization server's issuer identifier.
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint.
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint.
	TokenEndpoint string `json:"token_endpoint"`

	// RegistrationEndpoint is the URL for dynamic client registration.
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// JwksURI is the URL of the JSON Web Key Set.
	JwksURI string `json:"jwks_uri,omitempty"`

	// ScopesSupported lists the OAuth 2.0 scope values supported.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported lists the response_type values supported.
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`

	// GrantTypesSupported lists the grant types supported.
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists the client authentication methods.
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE code challenge methods.
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsPKCE returns true if the server supports S256 PKCE.
func (m *Metadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == "S256" {
			return true
		}
	}
	// If not specified, assume S256 is supported (OAuth 2.1 requirement)
	return len(m.CodeChallengeMethodsSupported) == 0
}

// SupportsAuthMethod reports whether the token endpoint advertises the given
// client authentication method.
func (m *Metadata) SupportsAuthMethod(method string) bool {
	for _, supported := range m.TokenEndpointAuthMethodsSupported {
		if supported == method {
			return true
		}
	}
	return false
}

// RegistrationSource tells where a client registration came from.
type RegistrationSource string

const (
	// RegistrationSourceDynamic means the client was registered via RFC 7591.
	RegistrationSourceDynamic RegistrationSource = "dynamic"

	// RegistrationSourceStatic means configured credentials were used instead.
	RegistrationSourceStatic RegistrationSource = "static-fallback"
)

// ClientRegistration holds the client credentials used for a flow.
// It is kept in memory only and never written to the token cache.
type ClientRegistration struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Source       RegistrationSource

	// Optional RFC 7591 response fields.
	ClientIDIssuedAt        int64
	ClientSecretExpiresAt   int64
	RegistrationAccessToken string
}

// IsConfidential reports whether the client authenticates with a secret.
func (r *ClientRegistration) IsConfidential() bool {
	return r != nil && r.ClientSecret != ""
}

// LogValue implements slog.LogValuer and leaves the secrets out.
func (r *ClientRegistration) LogValue() slog.Value {
	if r == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("client_id", r.ClientID),
		slog.String("source", string(r.Source)),
		slog.Bool("confidential", r.IsConfidential()),
	)
}

// TokenSet is the result of a successful token exchange or refresh.
// It is replaced wholesale, never patched in place.
type TokenSet struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the token lifetime in seconds (from token response).
	ExpiresIn int `json:"expires_in,omitempty"`

	// ExpiresAt is the calculated expiration timestamp.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`

	// Resource is the resource indicator the token is bound to.
	Resource string `json:"resource,omitempty"`

	// Issuer is the authorization server that issued the token.
	Issuer string `json:"issuer,omitempty"`
}

// IsExpired checks if the token has expired, using DefaultExpiryMargin.
func (t *TokenSet) IsExpired() bool {
	return t.IsExpiredWithMargin(DefaultExpiryMargin)
}

// IsExpiredWithMargin checks if the token has expired or will expire within the margin.
func (t *TokenSet) IsExpiredWithMargin(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false // Tokens without expiration don't expire
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// setExpiresAt derives ExpiresAt from ExpiresIn relative to issuedAt.
// A missing lifetime falls back to DefaultTokenLifetime.
func (t *TokenSet) setExpiresAt(issuedAt time.Time, present bool) {
	if !present {
		t.ExpiresIn = int(DefaultTokenLifetime / time.Second)
	}
	t.ExpiresAt = issuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Scopes returns the scope as a slice of individual scopes.
func (t *TokenSet) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// HasRefreshToken reports whether a refresh token is present.
func (t *TokenSet) HasRefreshToken() bool {
	return t != nil && t.RefreshToken != ""
}

// ToOAuth2Token converts the TokenSet to an oauth2.Token for compatibility with golang.org/x/oauth2.
func (t *TokenSet) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// LogValue implements slog.LogValuer. Token values are never logged.
func (t *TokenSet) LogValue() slog.Value {
	if t == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("resource", t.Resource),
		slog.String("issuer", t.Issuer),
		slog.Time("expires_at", t.ExpiresAt),
		slog.Bool("has_refresh_token", t.RefreshToken != ""),
	)
}

// CachedTokenFileVersion is the current on-disk envelope version.
const CachedTokenFileVersion = 1

// CachedTokenFile is the on-disk representation of a TokenSet plus the
// resource and issuer it is bound to.
type CachedTokenFile struct {
	Version  int       `json:"version"`
	Resource string    `json:"resource"`
	Issuer   string    `json:"issuer"`
	ClientID string    `json:"client_id,omitempty"`
	Token    TokenSet  `json:"token"`
	StoredAt time.Time `json:"stored_at"`
}

// NewCachedTokenFile wraps a token for storage.
func NewCachedTokenFile(token *TokenSet, clientID string) *CachedTokenFile {
	return &CachedTokenFile{
		Version:  CachedTokenFileVersion,
		Resource: token.Resource,
		Issuer:   token.Issuer,
		ClientID: clientID,
		Token:    *token,
		StoredAt: time.Now(),
	}
}

// BoundTo reports whether the cache entry belongs to the given resource.
func (f *CachedTokenFile) BoundTo(resource string) bool {
	if f == nil || f.Token.AccessToken == "" {
		return false
	}
	return f.Resource == resource && f.Token.Resource == resource
}

// AuthChallenge represents parsed information from a WWW-Authenticate header.
type AuthChallenge struct {
	// Scheme is the authentication scheme (typically "Bearer" for OAuth 2.0).
	Scheme string

	// Realm is the protection realm.
	Realm string

	// ResourceMetadataURL is the RFC 9728 metadata URL advertised by the resource.
	ResourceMetadataURL string

	// Scope is the space-separated list of required OAuth scopes.
	Scope string

	// Error is the error code from the WWW-Authenticate header (if any).
	Error string

	// ErrorDescription is a human-readable error description (if any).
	ErrorDescription string
}

// IsOAuthChallenge returns true if this represents an OAuth authentication challenge.
func (c *AuthChallenge) IsOAuthChallenge() bool {
	if c == nil {
		return false
	}
	return strings.EqualFold(c.Scheme, "Bearer") || strings.EqualFold(c.Scheme, "OAuth")
}
