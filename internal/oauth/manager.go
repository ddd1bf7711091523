package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	pkgoauth "mcpauth/pkg/oauth"
)

// State is the lifecycle state of the Manager.
type State int

const (
	// StateIdle means no token has been requested yet.
	StateIdle State = iota

	// StateCached means the last token came from the cache.
	StateCached

	// StateRefreshing means a refresh grant is in progress.
	StateRefreshing

	// StateAuthorizing means an interactive authorization is in progress.
	StateAuthorizing

	// StateReady means a token was obtained by refresh or authorization.
	StateReady

	// StateFailed means the last attempt failed.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCached:
		return "cached"
	case StateRefreshing:
		return "refreshing"
	case StateAuthorizing:
		return "authorizing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Authorizer runs an interactive authorization for a resource.
// *AuthorizationFlow is the production implementation.
type Authorizer interface {
	Run(ctx context.Context, resourceURL string) (*FlowResult, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Client    *pkgoauth.Client
	Registrar *pkgoauth.Registrar
	Store     TokenStore
	Flow      Authorizer

	// ExpiryMargin is how long before expiry a token stops being handed out.
	// Defaults to pkgoauth.DefaultExpiryMargin.
	ExpiryMargin time.Duration

	Logger *slog.Logger
}

// session remembers what an authorization in this process used, so that a
// later refresh does not need to rediscover or re-register.
type session struct {
	metadata     *pkgoauth.Metadata
	registration *pkgoauth.ClientRegistration
}

// Manager hands out access tokens for resource servers. It serves tokens
// from the cache while they are valid, refreshes them when they are not and
// falls back to a full authorization flow when refreshing is impossible.
//
// Concurrent AcquireToken calls for the same resource share one attempt, and
// at most one authorization flow runs at any time.
type Manager struct {
	client    *pkgoauth.Client
	registrar *pkgoauth.Registrar
	refresher *TokenRefresher
	store     TokenStore
	flow      Authorizer
	margin    time.Duration
	logger    *slog.Logger

	group  singleflight.Group
	flowMu sync.Mutex

	attemptsMu sync.Mutex
	attempts   map[string]*attempt
	attemptSeq uint64

	mu       sync.RWMutex
	state    State
	lastErr  error
	current  map[string]*pkgoauth.TokenSet
	sessions map[string]*session

	closed context.Context
	close  context.CancelFunc
}

// NewManager creates a Manager from cfg.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Client == nil {
		return nil, errors.New("manager requires an OAuth client")
	}
	if cfg.Store == nil {
		return nil, errors.New("manager requires a token store")
	}
	if cfg.Flow == nil {
		return nil, errors.New("manager requires an authorization flow")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registrar := cfg.Registrar
	if registrar == nil {
		registrar = pkgoauth.NewRegistrar(cfg.Client)
	}
	margin := cfg.ExpiryMargin
	if margin <= 0 {
		margin = pkgoauth.DefaultExpiryMargin
	}

	closed, cancel := context.WithCancel(context.Background())
	return &Manager{
		client:    cfg.Client,
		registrar: registrar,
		refresher: NewTokenRefresher(cfg.Client, logger),
		store:     cfg.Store,
		flow:      cfg.Flow,
		margin:    margin,
		logger:    logger,
		state:     StateIdle,
		current:   make(map[string]*pkgoauth.TokenSet),
		sessions:  make(map[string]*session),
		attempts:  make(map[string]*attempt),
		closed:    closed,
		close:     cancel,
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the error of the last failed attempt, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	if m.state != state {
		m.logger.Debug("OAuth state transition", "from", m.state.String(), "to", state.String())
	}
	m.state = state
	if state != StateFailed {
		m.lastErr = nil
	}
	m.mu.Unlock()
}

func (m *Manager) fail(err error) error {
	m.mu.Lock()
	m.state = StateFailed
	m.lastErr = err
	m.mu.Unlock()
	return err
}

// AcquireToken returns a valid access token for resourceURL, in order of
// preference from memory or the cache, by refreshing, or by running the
// authorization flow. The returned TokenSet is bound to resourceURL.
func (m *Manager) AcquireToken(ctx context.Context, resourceURL string) (*pkgoauth.TokenSet, error) {
	if err := m.closed.Err(); err != nil {
		return nil, errors.New("token manager is closed")
	}

	a := m.join(resourceURL)
	defer m.leave(resourceURL, a)

	ch := m.group.DoChan(a.key, func() (interface{}, error) {
		return m.acquire(a.ctx, resourceURL)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		token := *res.Val.(*pkgoauth.TokenSet)
		return &token, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// attempt is the shared work of all callers waiting for one resource. Its
// context ends when the manager closes or the last waiter gives up, never
// because a single caller did.
type attempt struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (m *Manager) join(resourceURL string) *attempt {
	m.attemptsMu.Lock()
	defer m.attemptsMu.Unlock()

	a := m.attempts[resourceURL]
	if a == nil {
		m.attemptSeq++
		ctx, cancel := context.WithCancel(m.closed)
		a = &attempt{
			key:    resourceURL + "#" + strconv.FormatUint(m.attemptSeq, 10),
			ctx:    ctx,
			cancel: cancel,
		}
		m.attempts[resourceURL] = a
	}
	a.waiters++
	return a
}

func (m *Manager) leave(resourceURL string, a *attempt) {
	m.attemptsMu.Lock()
	defer m.attemptsMu.Unlock()

	a.waiters--
	if a.waiters > 0 {
		return
	}
	a.cancel()
	if m.attempts[resourceURL] == a {
		delete(m.attempts, resourceURL)
	}
}

func (m *Manager) acquire(ctx context.Context, resourceURL string) (*pkgoauth.TokenSet, error) {
	if token := m.currentToken(resourceURL); token != nil {
		m.setState(StateCached)
		return token, nil
	}

	entry, cached := m.store.Load(ctx, resourceURL)
	if cached && !entry.Token.IsExpiredWithMargin(m.margin) {
		m.logger.Debug("Using cached token", "resource", resourceURL, "expires_at", entry.Token.ExpiresAt)
		m.remember(resourceURL, &entry.Token)
		m.setState(StateCached)
		return &entry.Token, nil
	}

	if cached && entry.Token.HasRefreshToken() {
		m.setState(StateRefreshing)
		token, clientID, err := m.refresh(ctx, entry)
		if err == nil {
			m.save(ctx, token, clientID)
			m.setState(StateReady)
			return token, nil
		}
		if ctx.Err() != nil {
			return nil, m.fail(fmt.Errorf("token refresh for %s interrupted: %w", resourceURL, ctx.Err()))
		}

		if pkgoauth.IsRecoverableByReauth(err) {
			m.logger.Info("Refresh token rejected, starting a new authorization",
				"resource", resourceURL,
				"reason", err.Error())
			// The stale refresh token must not be tried again.
			if clearErr := m.store.Clear(ctx); clearErr != nil {
				m.logger.Warn("Failed to clear stale token cache", "error", clearErr.Error())
			}
		} else {
			// Transient failure: the cached refresh token stays usable.
			m.logger.Warn("Token refresh failed, starting a new authorization",
				"resource", resourceURL,
				"error", err.Error())
		}
	}

	return m.authorize(ctx, resourceURL)
}

func (m *Manager) authorize(ctx context.Context, resourceURL string) (*pkgoauth.TokenSet, error) {
	m.flowMu.Lock()
	defer m.flowMu.Unlock()

	m.setState(StateAuthorizing)
	result, err := m.flow.Run(ctx, resourceURL)
	if err != nil {
		return nil, m.fail(fmt.Errorf("authorization for %s failed: %w", resourceURL, err))
	}

	m.mu.Lock()
	m.sessions[resourceURL] = &session{metadata: result.Metadata, registration: result.Registration}
	m.mu.Unlock()

	m.save(ctx, result.Token, result.Registration.ClientID)
	m.setState(StateReady)
	return result.Token, nil
}

// refresh exchanges the cached refresh token. Metadata and client identity
// come from this process's session when there is one, otherwise from the
// cached issuer and client id.
func (m *Manager) refresh(ctx context.Context, entry *pkgoauth.CachedTokenFile) (*pkgoauth.TokenSet, string, error) {
	m.mu.RLock()
	sess := m.sessions[entry.Resource]
	m.mu.RUnlock()

	if sess == nil || sess.metadata.Issuer != entry.Issuer {
		if entry.Issuer == "" || entry.ClientID == "" {
			return nil, "", &pkgoauth.NoRefreshTokenError{}
		}
		metadata, err := m.client.ResolveAuthorizationServer(ctx, entry.Issuer)
		if err != nil {
			return nil, "", err
		}
		sess = &session{metadata: metadata, registration: m.registrationFor(entry)}
	}

	token, err := m.refresher.Refresh(ctx, &entry.Token, sess.metadata, sess.registration)
	if err != nil {
		return nil, "", err
	}
	return token, sess.registration.ClientID, nil
}

// registrationFor rebuilds the client identity of a cached token. Dynamic
// client secrets are never persisted, so such clients refresh as public clients.
func (m *Manager) registrationFor(entry *pkgoauth.CachedTokenFile) *pkgoauth.ClientRegistration {
	if static := m.registrar.Static(""); static != nil && static.ClientID == entry.ClientID {
		return static
	}
	return &pkgoauth.ClientRegistration{
		ClientID: entry.ClientID,
		Source:   pkgoauth.RegistrationSourceDynamic,
	}
}

// save caches token. A failing store is logged and does not fail the caller.
func (m *Manager) save(ctx context.Context, token *pkgoauth.TokenSet, clientID string) {
	m.remember(token.Resource, token)
	if err := m.store.Store(ctx, pkgoauth.NewCachedTokenFile(token, clientID)); err != nil {
		m.logger.Warn("Failed to cache token", "resource", token.Resource, "error", err.Error())
	}
}

func (m *Manager) remember(resourceURL string, token *pkgoauth.TokenSet) {
	copied := *token
	m.mu.Lock()
	m.current[resourceURL] = &copied
	m.mu.Unlock()
}

func (m *Manager) currentToken(resourceURL string) *pkgoauth.TokenSet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	token := m.current[resourceURL]
	if token == nil || token.IsExpiredWithMargin(m.margin) {
		return nil
	}
	copied := *token
	return &copied
}

// Invalidate drops the cached token, for example after the resource server
// rejected it. The next AcquireToken starts a new authorization.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	m.current = make(map[string]*pkgoauth.TokenSet)
	m.state = StateIdle
	m.lastErr = nil
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear token cache: %w", err)
	}
	return nil
}

// TokenSource returns an oauth2.TokenSource backed by AcquireToken.
func (m *Manager) TokenSource(ctx context.Context, resourceURL string) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, manager: m, resource: resourceURL}
}

type managerTokenSource struct {
	ctx      context.Context
	manager  *Manager
	resource string
}

func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.manager.AcquireToken(s.ctx, s.resource)
	if err != nil {
		return nil, err
	}
	return token.ToOAuth2Token(), nil
}

// HTTPClient returns a client that sends the managed bearer token with every
// request. A 401 response carrying an invalid_token challenge invalidates the
// cached token so the next request re-authorizes.
func (m *Manager) HTTPClient(ctx context.Context, resourceURL string) *http.Client {
	base := m.client.HTTPClient()
	baseTransport := base.Transport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}

	return &http.Client{
		Timeout: base.Timeout,
		Transport: &invalidatingTransport{
			manager: m,
			base: &oauth2.Transport{
				Source: m.TokenSource(ctx, resourceURL),
				Base:   baseTransport,
			},
		},
	}
}

type invalidatingTransport struct {
	manager *Manager
	base    http.RoundTripper
}

func (t *invalidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if pkgoauth.IsInvalidTokenChallenge(resp) {
		t.manager.logger.Debug("Resource rejected the access token", "url", req.URL.String())
		if err := t.manager.Invalidate(req.Context()); err != nil {
			t.manager.logger.Warn("Failed to invalidate token", "error", err.Error())
		}
	}
	return resp, nil
}

// TokenStatus summarises a cached token without exposing secrets.
type TokenStatus struct {
	Resource        string    `json:"resource" yaml:"resource"`
	Issuer          string    `json:"issuer" yaml:"issuer"`
	ClientID        string    `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	Scope           string    `json:"scope,omitempty" yaml:"scope,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt" yaml:"expiresAt"`
	Expired         bool      `json:"expired" yaml:"expired"`
	HasRefreshToken bool      `json:"hasRefreshToken" yaml:"hasRefreshToken"`
	StoredAt        time.Time `json:"storedAt" yaml:"storedAt"`
}

// Status reports the cached token for resourceURL, if any. It never
// refreshes or authorizes.
func (m *Manager) Status(ctx context.Context, resourceURL string) (*TokenStatus, bool) {
	entry, ok := m.store.Load(ctx, resourceURL)
	if !ok {
		return nil, false
	}
	return &TokenStatus{
		Resource:        entry.Resource,
		Issuer:          entry.Issuer,
		ClientID:        entry.ClientID,
		Scope:           entry.Token.Scope,
		ExpiresAt:       entry.Token.ExpiresAt,
		Expired:         entry.Token.IsExpiredWithMargin(m.margin),
		HasRefreshToken: entry.Token.HasRefreshToken(),
		StoredAt:        entry.StoredAt,
	}, true
}

// Close cancels any in-flight attempt, including a pending callback wait.
// Further AcquireToken calls fail.
func (m *Manager) Close() error {
	m.close()
	return nil
}
