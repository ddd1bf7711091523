package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pkgoauth "mcpauth/pkg/oauth"
)

// fakeServer is an MCP resource server and authorization server in one.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu             sync.Mutex
	issuers        []string
	noRegistration bool
	refreshStatus  int
	dropRefresh    bool
	challenges     map[string]string
	tokenRequests  []url.Values
	authorizeCalls int
	issued         int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{t: t, challenges: make(map[string]string)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) resource() string { return f.srv.URL + "/mcp" }
func (f *fakeServer) issuer() string   { return f.srv.URL }

func (f *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/mcp":
		if r.Header.Get("Authorization") == "Bearer access-valid" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf(`Bearer error="invalid_token", resource_metadata="%s/.well-known/oauth-protected-resource/mcp"`, f.srv.URL))
		w.WriteHeader(http.StatusUnauthorized)

	case "/.well-known/oauth-protected-resource/mcp":
		f.mu.Lock()
		issuers := f.issuers
		f.mu.Unlock()
		if issuers == nil {
			issuers = []string{f.srv.URL}
		}
		writeTestJSON(w, http.StatusOK, pkgoauth.ProtectedResourceMetadata{
			Resource:             f.resource(),
			AuthorizationServers: issuers,
		})

	case "/.well-known/oauth-authorization-server":
		f.mu.Lock()
		noRegistration := f.noRegistration
		f.mu.Unlock()
		metadata := pkgoauth.Metadata{
			Issuer:                        f.srv.URL,
			AuthorizationEndpoint:         f.srv.URL + "/authorize",
			TokenEndpoint:                 f.srv.URL + "/token",
			CodeChallengeMethodsSupported: []string{"S256"},
		}
		if !noRegistration {
			metadata.RegistrationEndpoint = f.srv.URL + "/register"
		}
		writeTestJSON(w, http.StatusOK, metadata)

	case "/register":
		writeTestJSON(w, http.StatusCreated, map[string]string{"client_id": "dyn-client"})

	case "/token":
		f.handleToken(w, r)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenRequests = append(f.tokenRequests, r.PostForm)

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		challenge, ok := f.challenges[r.PostForm.Get("code")]
		if !ok || pkgoauth.ComputeS256Challenge(r.PostForm.Get("code_verifier")) != challenge {
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		delete(f.challenges, r.PostForm.Get("code"))
	case "refresh_token":
		if f.dropRefresh {
			if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
				_ = conn.Close()
			}
			return
		}
		if f.refreshStatus != 0 {
			writeTestJSON(w, f.refreshStatus, map[string]string{"error": "invalid_grant"})
			return
		}
	default:
		writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	f.issued++
	writeTestJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  fmt.Sprintf("access-%d", f.issued),
		"refresh_token": fmt.Sprintf("refresh-%d", f.issued),
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
}

// grantTypes lists the grant_type of every token request so far.
func (f *fakeServer) grantTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var grants []string
	for _, form := range f.tokenRequests {
		grants = append(grants, form.Get("grant_type"))
	}
	return grants
}

func (f *fakeServer) lastTokenRequest() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokenRequests) == 0 {
		return nil
	}
	return f.tokenRequests[len(f.tokenRequests)-1]
}

// browser returns a URLHandler that approves the request like a user would,
// redirecting to the callback with the given state override (empty keeps the
// real state).
func (f *fakeServer) browser(forgedState string) URLHandler {
	return func(ctx context.Context, authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()

		f.mu.Lock()
		f.authorizeCalls++
		code := fmt.Sprintf("code-%d", f.authorizeCalls)
		f.challenges[code] = q.Get("code_challenge")
		f.mu.Unlock()

		state := q.Get("state")
		if forgedState != "" {
			state = forgedState
		}

		redirect := q.Get("redirect_uri") + "?" + url.Values{"code": {code}, "state": {state}}.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, redirect, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}

func (f *fakeServer) authorizeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorizeCalls
}

// newTestFlow builds a flow against the fake server on an ephemeral port.
func newTestFlow(t *testing.T, handler URLHandler, opts ...pkgoauth.RegistrarOption) (*AuthorizationFlow, *pkgoauth.Client, *pkgoauth.Registrar) {
	t.Helper()
	client := pkgoauth.NewClient()
	registrar := pkgoauth.NewRegistrar(client, opts...)
	callback, err := NewCallbackServer("http://127.0.0.1:0/callback")
	require.NoError(t, err)

	flow, err := NewAuthorizationFlow(FlowConfig{
		Client:          client,
		Registrar:       registrar,
		Callback:        callback,
		CallbackTimeout: 5 * time.Second,
		URLHandler:      handler,
	})
	require.NoError(t, err)
	return flow, client, registrar
}

func writeTestJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeServer) setIssuers(issuers ...string) {
	f.mu.Lock()
	f.issuers = issuers
	f.mu.Unlock()
}

func (f *fakeServer) disableRegistration() {
	f.mu.Lock()
	f.noRegistration = true
	f.mu.Unlock()
}

func (f *fakeServer) rejectRefresh(status int) {
	f.mu.Lock()
	f.refreshStatus = status
	f.mu.Unlock()
}

// dropRefreshRequests makes the token endpoint close the connection on
// refresh_token grants without answering.
func (f *fakeServer) dropRefreshRequests() {
	f.mu.Lock()
	f.dropRefresh = true
	f.mu.Unlock()
}
