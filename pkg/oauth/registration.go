package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// DefaultClientName is sent as client_name during dynamic registration.
const DefaultClientName = "mcpauth"

// StaticClient holds configured client credentials used when dynamic
// registration is unavailable.
type StaticClient struct {
	ClientID     string
	ClientSecret string
}

// registrationRequest is the RFC 7591 client metadata sent to the server.
type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ApplicationType         string   `json:"application_type"`
	Scope                   string   `json:"scope,omitempty"`
}

// registrationResponse is the RFC 7591 section 3.2.1 response.
type registrationResponse struct {
	ClientID                string `json:"client_id"`
	ClientSecret            string `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64  `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64  `json:"client_secret_expires_at,omitempty"`
	RegistrationAccessToken string `json:"registration_access_token,omitempty"`
}

// Registrar obtains client credentials for an authorization server.
// Successful dynamic registrations are remembered for the lifetime of the
// process. The static fallback is not, so a later Register retries the
// registration endpoint.
type Registrar struct {
	client     *Client
	static     *StaticClient
	clientName string
	scope      string
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]*ClientRegistration
}

// RegistrarOption configures a Registrar.
type RegistrarOption func(*Registrar)

// WithStaticClient configures fallback credentials.
func WithStaticClient(clientID, clientSecret string) RegistrarOption {
	return func(r *Registrar) {
		if clientID == "" {
			return
		}
		r.static = &StaticClient{ClientID: clientID, ClientSecret: clientSecret}
	}
}

// WithClientName overrides the client_name sent during registration.
func WithClientName(name string) RegistrarOption {
	return func(r *Registrar) {
		if name != "" {
			r.clientName = name
		}
	}
}

// WithRegistrationScope sets the scope requested at registration time.
func WithRegistrationScope(scope string) RegistrarOption {
	return func(r *Registrar) {
		r.scope = scope
	}
}

// NewRegistrar creates a registrar that talks to servers through client.
func NewRegistrar(client *Client, opts ...RegistrarOption) *Registrar {
	r := &Registrar{
		client:     client,
		clientName: DefaultClientName,
		logger:     client.logger,
		cache:      make(map[string]*ClientRegistration),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register returns client credentials for the given server and redirect URI.
//
// With a registration endpoint the client is registered dynamically. Any
// failure there (or no endpoint at all) falls back to the static client; if
// none is configured a RegistrationError is returned.
func (r *Registrar) Register(ctx context.Context, metadata *Metadata, redirectURI string) (*ClientRegistration, error) {
	key := metadata.Issuer + "|" + redirectURI

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	var dynamicErr error
	if metadata.RegistrationEndpoint == "" {
		dynamicErr = ErrNoRegistrationEndpoint
	} else {
		registration, err := r.registerDynamic(ctx, metadata, redirectURI)
		if err == nil {
			r.remember(key, registration)
			r.logger.Info("Registered OAuth client dynamically",
				"issuer", metadata.Issuer,
				"registration", registration)
			return registration, nil
		}
		dynamicErr = err
	}

	if r.static == nil {
		return nil, &RegistrationError{Endpoint: metadata.RegistrationEndpoint, Err: dynamicErr}
	}

	r.logger.Info("Dynamic client registration unavailable, using configured client",
		"issuer", metadata.Issuer,
		"reason", dynamicErr.Error())

	registration := &ClientRegistration{
		ClientID:     r.static.ClientID,
		ClientSecret: r.static.ClientSecret,
		RedirectURI:  redirectURI,
		Source:       RegistrationSourceStatic,
	}
	return registration, nil
}

// Static returns the configured fallback registration for a redirect URI, or nil.
func (r *Registrar) Static(redirectURI string) *ClientRegistration {
	if r.static == nil {
		return nil
	}
	return &ClientRegistration{
		ClientID:     r.static.ClientID,
		ClientSecret: r.static.ClientSecret,
		RedirectURI:  redirectURI,
		Source:       RegistrationSourceStatic,
	}
}

// Lookup returns a registration remembered in this process.
func (r *Registrar) Lookup(issuer, redirectURI string) (*ClientRegistration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	registration, ok := r.cache[issuer+"|"+redirectURI]
	return registration, ok
}

// Forget drops a remembered registration, e.g. after the server rejected the client.
func (r *Registrar) Forget(issuer, redirectURI string) {
	r.mu.Lock()
	delete(r.cache, issuer+"|"+redirectURI)
	r.mu.Unlock()
}

func (r *Registrar) remember(key string, registration *ClientRegistration) {
	r.mu.Lock()
	r.cache[key] = registration
	r.mu.Unlock()
}

func (r *Registrar) registerDynamic(ctx context.Context, metadata *Metadata, redirectURI string) (*ClientRegistration, error) {
	authMethod := "none"
	if metadata.SupportsAuthMethod("client_secret_post") {
		authMethod = "client_secret_post"
	}

	payload, err := json.Marshal(registrationRequest{
		ClientName:              r.clientName,
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: authMethod,
		ApplicationType:         "native",
		Scope:                   r.scope,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, metadata.RegistrationEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registration failed with status %d", resp.StatusCode)
	}

	var parsed registrationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}
	if parsed.ClientID == "" {
		return nil, fmt.Errorf("registration response has no client_id")
	}

	return &ClientRegistration{
		ClientID:                parsed.ClientID,
		ClientSecret:            parsed.ClientSecret,
		RedirectURI:             redirectURI,
		Source:                  RegistrationSourceDynamic,
		ClientIDIssuedAt:        parsed.ClientIDIssuedAt,
		ClientSecretExpiresAt:   parsed.ClientSecretExpiresAt,
		RegistrationAccessToken: parsed.RegistrationAccessToken,
	}, nil
}
