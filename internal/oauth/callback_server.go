package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	pkgoauth "mcpauth/pkg/oauth"
)

// DefaultCallbackTimeout is how long to wait for the authorization redirect.
const DefaultCallbackTimeout = 5 * time.Minute

// shutdownTimeout bounds how long closing the listener waits for the
// response page to be flushed.
const shutdownTimeout = 5 * time.Second

var callbackSuccessTemplate = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Authorization complete</title>
<style>body{font-family:sans-serif;margin:4em auto;max-width:32em;text-align:center;color:#222}</style>
</head>
<body>
<h1>Authorization complete</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>
`))

var callbackErrorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Authorization failed</title>
<style>body{font-family:sans-serif;margin:4em auto;max-width:32em;text-align:center;color:#222}code{color:#b00}</style>
</head>
<body>
<h1>Authorization failed</h1>
<p><code>{{.Error}}</code></p>
{{if .Description}}<p>{{.Description}}</p>{{end}}
<p>Return to the terminal for details.</p>
</body>
</html>
`))

// CallbackResult is a successful authorization redirect.
type CallbackResult struct {
	// Code is the authorization code from the authorization server.
	Code string

	// State is the state parameter, already checked against the pending flow.
	State string
}

// CallbackServer receives the single authorization redirect of a flow on the
// loopback address named by the redirect URI.
type CallbackServer struct {
	redirectURI *url.URL
	logger      *slog.Logger

	// one wait at a time per server
	mu sync.Mutex
}

// CallbackServerOption configures a CallbackServer.
type CallbackServerOption func(*CallbackServer)

// WithCallbackLogger sets the logger.
func WithCallbackLogger(logger *slog.Logger) CallbackServerOption {
	return func(s *CallbackServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCallbackServer creates a callback server for the given redirect URI.
// The URI must be an absolute http URL with a host and port. Port 0 binds an
// ephemeral port; PendingCallback.RedirectURI then reports the real one.
func NewCallbackServer(redirectURI string, opts ...CallbackServerOption) (*CallbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("redirect URI must use http, got %q", u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("redirect URI must include host and port: %s", redirectURI)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	s := &CallbackServer{
		redirectURI: u,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RedirectURI returns the configured redirect URI.
func (s *CallbackServer) RedirectURI() string {
	return s.redirectURI.String()
}

// AwaitCallback binds the redirect address, waits for one redirect carrying
// expectedState and unbinds again. See PendingCallback.Wait for the errors.
func (s *CallbackServer) AwaitCallback(ctx context.Context, expectedState string, timeout time.Duration) (*CallbackResult, error) {
	pending, err := s.Start(expectedState)
	if err != nil {
		return nil, err
	}
	defer pending.Close()

	return pending.Wait(ctx, timeout)
}

// Start binds the redirect address and begins serving. The caller must
// Close the returned PendingCallback; Wait does so on return.
func (s *CallbackServer) Start(expectedState string) (*PendingCallback, error) {
	if !s.mu.TryLock() {
		return nil, errors.New("callback server is already waiting for a redirect")
	}

	host := s.redirectURI.Hostname()
	if host == "localhost" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, s.redirectURI.Port())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	bound := *s.redirectURI
	if bound.Port() == "0" {
		bound.Host = net.JoinHostPort(s.redirectURI.Hostname(), fmt.Sprint(listener.Addr().(*net.TCPAddr).Port))
	}

	p := &PendingCallback{
		owner:         s,
		listener:      listener,
		redirectURI:   bound.String(),
		path:          bound.Path,
		expectedState: expectedState,
		outcome:       make(chan callbackOutcome, 1),
		logger:        s.logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handle)
	p.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := p.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.deliver(callbackOutcome{err: fmt.Errorf("callback server failed: %w", err)})
		}
	}()

	s.logger.Debug("Callback server listening", "addr", listener.Addr().String(), "path", p.path)
	return p, nil
}

type callbackOutcome struct {
	result *CallbackResult
	err    error
}

// PendingCallback is a bound callback listener waiting for its redirect.
type PendingCallback struct {
	owner         *CallbackServer
	server        *http.Server
	listener      net.Listener
	redirectURI   string
	path          string
	expectedState string
	logger        *slog.Logger

	outcome   chan callbackOutcome
	handled   sync.Once
	closeOnce sync.Once
}

// RedirectURI returns the redirect URI the listener actually serves.
func (p *PendingCallback) RedirectURI() string {
	return p.redirectURI
}

// Wait blocks until the redirect arrives, the timeout passes or ctx is done,
// then closes the listener. A non-positive timeout uses DefaultCallbackTimeout.
//
// Errors:
//   - *pkgoauth.CallbackTimeoutError when no redirect arrived in time
//   - *pkgoauth.StateMismatchError when the state differs from the expected one
//   - *pkgoauth.AuthorizationDeniedError when the server redirected with an error
func (p *PendingCallback) Wait(ctx context.Context, timeout time.Duration) (*CallbackResult, error) {
	defer p.Close()

	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.outcome:
		return out.result, out.err
	case <-timer.C:
		return nil, &pkgoauth.CallbackTimeoutError{Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the listener. It is safe to call more than once.
func (p *PendingCallback) Close() {
	p.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := p.server.Shutdown(ctx); err != nil {
			_ = p.server.Close()
		}
		_ = p.listener.Close()
		p.owner.mu.Unlock()
		p.logger.Debug("Callback server stopped", "addr", p.listener.Addr().String())
	})
}

func (p *PendingCallback) deliver(out callbackOutcome) {
	select {
	case p.outcome <- out:
	default:
	}
}

func (p *PendingCallback) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != p.path {
		http.NotFound(w, r)
		return
	}

	var handled bool
	p.handled.Do(func() {
		handled = true
		p.process(w, r)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (p *PendingCallback) process(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	query := r.URL.Query()
	state := query.Get("state")

	// State first: nothing else in the request is trusted until it matches.
	if subtle.ConstantTimeCompare([]byte(state), []byte(p.expectedState)) != 1 {
		p.logger.Warn("OAuth callback state mismatch - possible CSRF attack",
			"expected_state_len", len(p.expectedState),
			"received_state_len", len(state))
		p.render(w, http.StatusBadRequest, callbackErrorTemplate, map[string]string{
			"Error":       "state_mismatch",
			"Description": "The authorization response did not match this login attempt.",
		})
		p.deliver(callbackOutcome{err: &pkgoauth.StateMismatchError{}})
		return
	}

	if code := query.Get("error"); code != "" {
		denied := pkgoauth.NewAuthorizationDeniedError(code, query.Get("error_description"))
		p.render(w, http.StatusOK, callbackErrorTemplate, map[string]string{
			"Error":       denied.Code,
			"Description": denied.Description,
		})
		p.deliver(callbackOutcome{err: denied})
		return
	}

	code := query.Get("code")
	if code == "" {
		denied := pkgoauth.NewAuthorizationDeniedError("invalid_request", "authorization response is missing the code parameter")
		p.render(w, http.StatusBadRequest, callbackErrorTemplate, map[string]string{
			"Error":       denied.Code,
			"Description": denied.Description,
		})
		p.deliver(callbackOutcome{err: denied})
		return
	}

	p.render(w, http.StatusOK, callbackSuccessTemplate, nil)
	p.deliver(callbackOutcome{result: &CallbackResult{Code: code, State: state}})
}

func (p *PendingCallback) render(w http.ResponseWriter, status int, tmpl *template.Template, data interface{}) {
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		p.logger.Debug("Failed to render callback page", "error", err)
	}
}
