package oauth

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"mcpauth/internal/config"
	pkgoauth "mcpauth/pkg/oauth"
)

// SetupOptions carries the non-configuration inputs of NewManagerFromConfig.
type SetupOptions struct {
	// Out receives the authorization URL and browser messages. Defaults to os.Stderr.
	Out io.Writer

	// URLHandler overrides how the authorization URL is presented.
	URLHandler URLHandler

	// HTTPClient overrides the client used for authorization-server requests.
	HTTPClient *http.Client

	// Authorizer replaces the interactive authorization flow, e.g. to fail
	// instead of prompting when no usable token is cached.
	Authorizer Authorizer

	Logger *slog.Logger
}

// NewManagerFromConfig wires the standard components for cfg: discovery
// client, registrar with the static fallback client, file token store
// (optionally encrypted) and an authorization flow on cfg.RedirectURI.
func NewManagerFromConfig(cfg config.Config, opts SetupOptions) (*Manager, *FileTokenStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	client := pkgoauth.NewClient(
		pkgoauth.WithHTTPClient(httpClient),
		pkgoauth.WithLogger(logger),
	)

	registrar := pkgoauth.NewRegistrar(client,
		pkgoauth.WithStaticClient(cfg.ClientID, cfg.ClientSecret),
		pkgoauth.WithClientName(cfg.ClientName),
	)

	store, err := NewTokenStoreFromConfig(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	callback, err := NewCallbackServer(cfg.RedirectURI, WithCallbackLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	urlHandler := opts.URLHandler
	if urlHandler == nil {
		if cfg.OpenBrowser {
			urlHandler = BrowserURLHandler(out)
		} else {
			urlHandler = PrintURLHandler(out)
		}
	}

	authorizer := opts.Authorizer
	if authorizer == nil {
		flow, err := NewAuthorizationFlow(FlowConfig{
			Client:          client,
			Registrar:       registrar,
			Callback:        callback,
			Scopes:          cfg.Scopes,
			CallbackTimeout: cfg.CallbackTimeout,
			URLHandler:      urlHandler,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, err
		}
		authorizer = flow
	}

	manager, err := NewManager(ManagerConfig{
		Client:       client,
		Registrar:    registrar,
		Store:        store,
		Flow:         authorizer,
		ExpiryMargin: cfg.ExpiryMargin,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token manager: %w", err)
	}
	return manager, store, nil
}

// NewTokenStoreFromConfig opens the file token store named by cfg.
func NewTokenStoreFromConfig(cfg config.Config, logger *slog.Logger) (*FileTokenStore, error) {
	storeOpts := []FileTokenStoreOption{WithStoreLogger(logger)}
	if cfg.Encrypt {
		storeOpts = append(storeOpts, WithCipher(NewKeyringCipher("", "")))
	}
	store, err := NewFileTokenStore(cfg.TokenFile, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}
	return store, nil
}
