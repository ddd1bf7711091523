package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	pkgoauth "mcpauth/pkg/oauth"
)

// FlowConfig configures an AuthorizationFlow.
type FlowConfig struct {
	// Client performs discovery and the token exchange.
	Client *pkgoauth.Client

	// Registrar obtains client credentials.
	Registrar *pkgoauth.Registrar

	// Callback receives the authorization redirect.
	Callback *CallbackServer

	// Scopes are requested explicitly when set. Empty means the server default.
	Scopes []string

	// CallbackTimeout bounds the wait for the redirect.
	CallbackTimeout time.Duration

	// URLHandler presents the authorization URL. Defaults to BrowserURLHandler(os.Stderr).
	URLHandler URLHandler

	Logger *slog.Logger
}

// FlowResult is the outcome of a completed authorization.
type FlowResult struct {
	Token        *pkgoauth.TokenSet
	Metadata     *pkgoauth.Metadata
	Registration *pkgoauth.ClientRegistration
}

// AuthorizationFlow runs one interactive authorization-code + PKCE flow
// against the authorization server governing a resource.
type AuthorizationFlow struct {
	client     *pkgoauth.Client
	registrar  *pkgoauth.Registrar
	callback   *CallbackServer
	scopes     []string
	timeout    time.Duration
	urlHandler URLHandler
	logger     *slog.Logger
}

// NewAuthorizationFlow creates a flow from cfg.
func NewAuthorizationFlow(cfg FlowConfig) (*AuthorizationFlow, error) {
	if cfg.Client == nil {
		return nil, errors.New("flow requires an OAuth client")
	}
	if cfg.Callback == nil {
		return nil, errors.New("flow requires a callback server")
	}

	f := &AuthorizationFlow{
		client:     cfg.Client,
		registrar:  cfg.Registrar,
		callback:   cfg.Callback,
		scopes:     cfg.Scopes,
		timeout:    cfg.CallbackTimeout,
		urlHandler: cfg.URLHandler,
		logger:     cfg.Logger,
	}
	if f.registrar == nil {
		f.registrar = pkgoauth.NewRegistrar(cfg.Client)
	}
	if f.timeout <= 0 {
		f.timeout = DefaultCallbackTimeout
	}
	if f.urlHandler == nil {
		f.urlHandler = BrowserURLHandler(os.Stderr)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f, nil
}

// Run performs discovery, registration, user authorization and the code
// exchange for resourceURL. The returned token is bound to resourceURL and
// the issuer it came from. Nothing partial is returned on error.
func (f *AuthorizationFlow) Run(ctx context.Context, resourceURL string) (*FlowResult, error) {
	logger := f.logger.With("flow_id", uuid.NewString(), "resource", resourceURL)

	prm, err := f.client.ResolveProtectedResource(ctx, resourceURL)
	if err != nil {
		return nil, err
	}

	// The first listed issuer is authoritative; later entries are not tried.
	issuer := prm.AuthorizationServers[0]
	if len(prm.AuthorizationServers) > 1 {
		logger.Debug("Resource lists several authorization servers, using the first",
			"issuer", issuer,
			"count", len(prm.AuthorizationServers))
	}

	metadata, err := f.client.ResolveAuthorizationServer(ctx, issuer)
	if err != nil {
		return nil, err
	}

	pkce, err := pkgoauth.GeneratePKCE()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE challenge: %w", err)
	}

	// Bind before registering so the registered redirect URI is the one served.
	pending, err := f.callback.Start(pkce.State)
	if err != nil {
		return nil, err
	}
	defer pending.Close()

	registration, err := f.registrar.Register(ctx, metadata, pending.RedirectURI())
	if err != nil {
		return nil, err
	}
	logger.Debug("Using OAuth client", "issuer", metadata.Issuer, "registration", registration)

	authURL := AuthorizationURL(metadata, registration, pkce, resourceURL, f.scopes)
	logger.Info("Waiting for user authorization",
		"issuer", metadata.Issuer,
		"pkce", pkce,
		"timeout", f.timeout)

	if err := f.urlHandler(ctx, authURL); err != nil {
		return nil, fmt.Errorf("failed to present authorization URL: %w", err)
	}

	callback, err := pending.Wait(ctx, f.timeout)
	if err != nil {
		logger.Debug("Authorization callback failed", "error", err)
		return nil, err
	}

	token, err := f.client.ExchangeCode(ctx, metadata, registration, callback.Code, pkce.CodeVerifier, resourceURL)
	if err != nil {
		return nil, err
	}

	logger.Info("Authorization completed", "token", token)
	return &FlowResult{
		Token:        token,
		Metadata:     metadata,
		Registration: registration,
	}, nil
}

// AuthorizationURL builds the authorization request URL: response_type=code,
// client_id, redirect_uri, state, the S256 challenge and the resource
// indicator. Scope is only included when scopes are given.
func AuthorizationURL(metadata *pkgoauth.Metadata, registration *pkgoauth.ClientRegistration, pkce *pkgoauth.PKCEChallenge, resourceURL string, scopes []string) string {
	conf := &oauth2.Config{
		ClientID: registration.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  metadata.AuthorizationEndpoint,
			TokenURL: metadata.TokenEndpoint,
		},
		RedirectURL: registration.RedirectURI,
		Scopes:      scopes,
	}

	return conf.AuthCodeURL(pkce.State,
		oauth2.S256ChallengeOption(pkce.CodeVerifier),
		oauth2.SetAuthURLParam("resource", resourceURL),
	)
}
