package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// maxResponseSize caps metadata and token response bodies.
	maxResponseSize = 1 << 20

	protectedResourceWellKnown = "/.well-known/oauth-protected-resource"
	authServerWellKnown        = "/.well-known/oauth-authorization-server"
	openIDWellKnown            = "/.well-known/openid-configuration"
)

// Client handles OAuth 2.1 protocol operations against remote servers:
// metadata discovery, authorization-code exchange and token refresh.
// It keeps no state between flows apart from deduplicating concurrent fetches.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	// singleflight group to deduplicate concurrent metadata fetches
	discoveryGroup singleflight.Group
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// ResolveProtectedResource fetches the RFC 9728 metadata of a resource server.
//
// Candidate locations are tried in order: the resource_metadata URL advertised
// in a 401 challenge of the resource itself, the path-inserted well-known URL,
// the well-known URL appended to the resource path and the origin's well-known URL.
// The first successful, valid document wins.
func (c *Client) ResolveProtectedResource(ctx context.Context, resourceURL string) (*ProtectedResourceMetadata, error) {
	result, err := c.shared(ctx, "prm:"+resourceURL, func(ctx context.Context) (interface{}, error) {
		return c.doResolveProtectedResource(ctx, resourceURL)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ProtectedResourceMetadata), nil
}

// shared runs fn once for all concurrent callers of key. The fetch is not
// tied to any single caller's cancellation; each caller stops waiting when
// its own ctx ends and the HTTP client timeout bounds the fetch itself.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.discoveryGroup.DoChan(key, func() (interface{}, error) {
		return fn(detached)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) doResolveProtectedResource(ctx context.Context, resourceURL string) (*ProtectedResourceMetadata, error) {
	hinted := c.DiscoverResourceMetadataURL(ctx, resourceURL)

	candidates, err := ProtectedResourceMetadataURLs(resourceURL, hinted)
	if err != nil {
		return nil, &DiscoveryError{Stage: StageProtectedResource, Endpoint: resourceURL, Err: err}
	}

	var lastErr error
	for _, candidate := range candidates {
		var metadata ProtectedResourceMetadata
		if err := c.getJSON(ctx, candidate, &metadata); err != nil {
			c.logger.Debug("Protected resource metadata fetch failed",
				"url", candidate,
				"error", err)
			lastErr = err
			continue
		}
		if len(metadata.AuthorizationServers) == 0 {
			lastErr = fmt.Errorf("metadata at %s lists no authorization servers", candidate)
			continue
		}
		if metadata.Resource == "" {
			metadata.Resource = resourceURL
		} else if metadata.Resource != resourceURL {
			c.logger.Debug("Protected resource metadata names a different resource",
				"requested", resourceURL,
				"advertised", metadata.Resource)
		}

		c.logger.Debug("Discovered protected resource metadata",
			"url", candidate,
			"authorization_servers", metadata.AuthorizationServers)
		return &metadata, nil
	}

	return nil, &DiscoveryError{Stage: StageProtectedResource, Endpoint: resourceURL, Err: lastErr}
}

// DiscoverResourceMetadataURL probes the resource without credentials and
// returns the resource_metadata URL from its 401 challenge, if any.
// Probe failures are not errors; an empty string is returned.
func (c *Client) DiscoverResourceMetadataURL(ctx context.Context, resourceURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Unauthenticated resource probe failed", "resource", resourceURL, "error", err)
		return ""
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	challenge := ParseWWWAuthenticateFromResponse(resp)
	if challenge == nil {
		return ""
	}
	return challenge.ResourceMetadataURL
}

// ProtectedResourceMetadataURLs lists the RFC 9728 locations to try for a
// resource, optionally led by a URL advertised by the resource itself.
func ProtectedResourceMetadataURLs(resourceURL, hinted string) ([]string, error) {
	u, err := url.Parse(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid resource URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("resource URL must be absolute: %s", resourceURL)
	}

	origin := u.Scheme + "://" + u.Host
	path := strings.TrimSuffix(u.Path, "/")

	var urls []string
	if hinted != "" {
		urls = append(urls, hinted)
	}
	if path != "" {
		urls = append(urls,
			origin+protectedResourceWellKnown+path,
			origin+path+protectedResourceWellKnown,
		)
	}
	urls = append(urls, origin+protectedResourceWellKnown)

	return dedupe(urls), nil
}

// ResolveAuthorizationServer fetches authorization-server metadata for an issuer.
// It tries RFC 8414 (/.well-known/oauth-authorization-server) first,
// then falls back to OpenID Connect (/.well-known/openid-configuration).
func (c *Client) ResolveAuthorizationServer(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = strings.TrimSuffix(issuer, "/")

	result, err := c.shared(ctx, "asm:"+issuer, func(ctx context.Context) (interface{}, error) {
		return c.doResolveAuthorizationServer(ctx, issuer)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Metadata), nil
}

func (c *Client) doResolveAuthorizationServer(ctx context.Context, issuer string) (*Metadata, error) {
	candidates, err := AuthorizationServerMetadataURLs(issuer)
	if err != nil {
		return nil, &DiscoveryError{Stage: StageAuthorizationServer, Endpoint: issuer, Err: err}
	}

	var lastErr error
	for _, candidate := range candidates {
		metadata, err := c.fetchMetadata(ctx, candidate)
		if err != nil {
			c.logger.Debug("Authorization server metadata fetch failed",
				"issuer", issuer,
				"url", candidate,
				"error", err)
			lastErr = err
			continue
		}

		if metadata.Issuer == "" {
			metadata.Issuer = issuer
		} else if strings.TrimSuffix(metadata.Issuer, "/") != issuer {
			c.logger.Debug("Authorization server reports a different issuer",
				"requested", issuer,
				"advertised", metadata.Issuer)
		}

		if !metadata.SupportsPKCE() {
			c.logger.Warn("Authorization server does not advertise S256 PKCE support, using PKCE anyway",
				"issuer", issuer,
				"methods", metadata.CodeChallengeMethodsSupported)
		} else if len(metadata.CodeChallengeMethodsSupported) == 0 {
			c.logger.Debug("Authorization server does not advertise PKCE methods, assuming S256",
				"issuer", issuer)
		}

		c.logger.Debug("Discovered authorization server metadata",
			"issuer", issuer,
			"authorization_endpoint", metadata.AuthorizationEndpoint,
			"token_endpoint", metadata.TokenEndpoint,
			"registration_endpoint", metadata.RegistrationEndpoint)
		return metadata, nil
	}

	return nil, &DiscoveryError{Stage: StageAuthorizationServer, Endpoint: issuer, Err: lastErr}
}

// AuthorizationServerMetadataURLs lists the discovery locations for an issuer.
// Issuers with a path component use the RFC 8414 path-insertion form first.
func AuthorizationServerMetadataURLs(issuer string) ([]string, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("issuer URL must be absolute: %s", issuer)
	}

	origin := u.Scheme + "://" + u.Host
	path := strings.TrimSuffix(u.Path, "/")

	if path == "" {
		return []string{
			origin + authServerWellKnown,
			origin + openIDWellKnown,
		}, nil
	}

	return []string{
		origin + authServerWellKnown + path,
		origin + openIDWellKnown + path,
		origin + path + openIDWellKnown,
	}, nil
}

// fetchMetadata fetches and validates authorization-server metadata from a specific URL.
func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (*Metadata, error) {
	var metadata Metadata
	if err := c.getJSON(ctx, metadataURL, &metadata); err != nil {
		return nil, err
	}

	if metadata.AuthorizationEndpoint == "" {
		return nil, fmt.Errorf("metadata at %s is missing authorization_endpoint", metadataURL)
	}
	if metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("metadata at %s is missing token_endpoint", metadataURL)
	}

	return &metadata, nil
}

// getJSON performs a GET and decodes a JSON body into v.
func (c *Client) getJSON(ctx context.Context, target string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(v); err != nil {
		return fmt.Errorf("failed to parse metadata: %w", err)
	}

	return nil
}

// tokenResponse is the token endpoint success body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    *int64 `json:"expires_in"`
	Scope        string `json:"scope"`
}

// tokenErrorResponse is the RFC 6749 section 5.2 error body.
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// tokenEndpointFailure is returned by doTokenRequest for non-success statuses.
type tokenEndpointFailure struct {
	status int
	body   tokenErrorResponse
}

func (f *tokenEndpointFailure) Error() string {
	return fmt.Sprintf("token request failed with status %d", f.status)
}

// ExchangeCode exchanges an authorization code for tokens, presenting the PKCE
// verifier and binding the resource indicator.
func (c *Client) ExchangeCode(ctx context.Context, metadata *Metadata, registration *ClientRegistration, code, codeVerifier, resource string) (*TokenSet, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {registration.RedirectURI},
		"client_id":     {registration.ClientID},
		"code_verifier": {codeVerifier},
		"resource":      {resource},
	}
	if registration.IsConfidential() {
		data.Set("client_secret", registration.ClientSecret)
	}

	token, err := c.doTokenRequest(ctx, metadata.TokenEndpoint, data)
	if err != nil {
		var failure *tokenEndpointFailure
		if errors.As(err, &failure) {
			return nil, &TokenExchangeError{
				Endpoint:    metadata.TokenEndpoint,
				Status:      failure.status,
				Code:        failure.body.Error,
				Description: failure.body.ErrorDescription,
			}
		}
		return nil, err
	}

	token.Resource = resource
	token.Issuer = metadata.Issuer
	return token, nil
}

// RefreshToken obtains a new access token using a refresh token, binding the
// same resource indicator. A refresh response without a refresh token keeps
// the previous one.
func (c *Client) RefreshToken(ctx context.Context, metadata *Metadata, registration *ClientRegistration, refreshToken, resource string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, &NoRefreshTokenError{}
	}

	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {registration.ClientID},
		"resource":      {resource},
	}
	if registration.IsConfidential() {
		data.Set("client_secret", registration.ClientSecret)
	}

	token, err := c.doTokenRequest(ctx, metadata.TokenEndpoint, data)
	if err != nil {
		var failure *tokenEndpointFailure
		if errors.As(err, &failure) {
			return nil, &RefreshRejectedError{
				Endpoint:    metadata.TokenEndpoint,
				Status:      failure.status,
				Code:        failure.body.Error,
				Description: failure.body.ErrorDescription,
			}
		}
		return nil, err
	}

	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	token.Resource = resource
	token.Issuer = metadata.Issuer
	return token, nil
}

// doTokenRequest performs a token endpoint request.
// Response bodies are never logged or echoed because they may carry tokens.
func (c *Client) doTokenRequest(ctx context.Context, tokenEndpoint string, data url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	issuedAt := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request to %s failed: %w", tokenEndpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		failure := &tokenEndpointFailure{status: resp.StatusCode}
		_ = json.Unmarshal(body, &failure.body)
		c.logger.Debug("Token request failed",
			"endpoint", tokenEndpoint,
			"grant_type", data.Get("grant_type"),
			"status", resp.StatusCode,
			"error", failure.body.Error)
		return nil, failure
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, fmt.Errorf("token response from %s has no access_token", tokenEndpoint)
	}

	token := &TokenSet{
		AccessToken:  parsed.AccessToken,
		TokenType:    parsed.TokenType,
		RefreshToken: parsed.RefreshToken,
		Scope:        parsed.Scope,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if parsed.ExpiresIn != nil {
		token.ExpiresIn = int(*parsed.ExpiresIn)
	}
	token.setExpiresAt(issuedAt, parsed.ExpiresIn != nil)

	return token, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
