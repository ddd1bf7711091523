package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestRegistrar_RegisterDynamic(t *testing.T) {
	var calls int32
	var got registrationRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"client_id":     "dyn-client",
			"client_secret": "dyn-secret",
		})
	}))
	defer server.Close()

	metadata := &Metadata{
		Issuer:                            "https://auth.example.com",
		RegistrationEndpoint:              server.URL,
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post"},
	}
	registrar := NewRegistrar(NewClient(), WithStaticClient("static", ""), WithRegistrationScope("read"))

	registration, err := registrar.Register(context.Background(), metadata, "http://localhost:8080/callback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if registration.ClientID != "dyn-client" || registration.Source != RegistrationSourceDynamic {
		t.Errorf("unexpected registration %+v", registration)
	}

	if got.ClientName != DefaultClientName {
		t.Errorf("client_name = %q", got.ClientName)
	}
	if len(got.RedirectURIs) != 1 || got.RedirectURIs[0] != "http://localhost:8080/callback" {
		t.Errorf("redirect_uris = %v", got.RedirectURIs)
	}
	if got.TokenEndpointAuthMethod != "client_secret_post" {
		t.Errorf("token_endpoint_auth_method = %q", got.TokenEndpointAuthMethod)
	}
	if got.ApplicationType != "native" || got.Scope != "read" {
		t.Errorf("application_type=%q scope=%q", got.ApplicationType, got.Scope)
	}

	// Second call is served from memory.
	if _, err := registrar.Register(context.Background(), metadata, "http://localhost:8080/callback"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("registration endpoint called %d times, want 1", calls)
	}
	if _, ok := registrar.Lookup(metadata.Issuer, "http://localhost:8080/callback"); !ok {
		t.Error("expected registration to be remembered")
	}

	registrar.Forget(metadata.Issuer, "http://localhost:8080/callback")
	if _, ok := registrar.Lookup(metadata.Issuer, "http://localhost:8080/callback"); ok {
		t.Error("expected registration to be forgotten")
	}
}

func TestRegistrar_PublicClientAuthMethod(t *testing.T) {
	var got registrationRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]interface{}{"client_id": "pub"})
	}))
	defer server.Close()

	_, err := NewRegistrar(NewClient()).Register(context.Background(),
		&Metadata{Issuer: "https://auth", RegistrationEndpoint: server.URL}, "http://localhost:8080/callback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TokenEndpointAuthMethod != "none" {
		t.Errorf("token_endpoint_auth_method = %q, want none", got.TokenEndpointAuthMethod)
	}
}

func TestRegistrar_StaticFallback(t *testing.T) {
	t.Run("registration endpoint fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		registrar := NewRegistrar(NewClient(), WithStaticClient("static-id", "static-secret"))
		registration, err := registrar.Register(context.Background(),
			&Metadata{Issuer: "https://auth", RegistrationEndpoint: server.URL}, "http://localhost:8080/callback")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if registration.ClientID != "static-id" || registration.Source != RegistrationSourceStatic {
			t.Errorf("unexpected registration %+v", registration)
		}
		if _, ok := registrar.Lookup("https://auth", "http://localhost:8080/callback"); ok {
			t.Error("static fallback must not be remembered")
		}
	})

	t.Run("dynamic registration retried after fallback", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]interface{}{"client_id": "dyn-client"})
		}))
		defer server.Close()

		metadata := &Metadata{Issuer: "https://auth", RegistrationEndpoint: server.URL}
		registrar := NewRegistrar(NewClient(), WithStaticClient("static-id", ""))

		first, err := registrar.Register(context.Background(), metadata, "http://localhost:8080/callback")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if first.Source != RegistrationSourceStatic {
			t.Fatalf("first registration source = %q, want static", first.Source)
		}

		second, err := registrar.Register(context.Background(), metadata, "http://localhost:8080/callback")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if second.ClientID != "dyn-client" || second.Source != RegistrationSourceDynamic {
			t.Errorf("unexpected registration %+v", second)
		}
		if atomic.LoadInt32(&calls) != 2 {
			t.Errorf("registration endpoint called %d times, want 2", calls)
		}
	})

	t.Run("no registration endpoint", func(t *testing.T) {
		registrar := NewRegistrar(NewClient(), WithStaticClient("static-id", ""))
		registration, err := registrar.Register(context.Background(),
			&Metadata{Issuer: "https://auth"}, "http://localhost:8080/callback")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if registration.IsConfidential() {
			t.Error("static client without secret is public")
		}
	})

	t.Run("nothing available", func(t *testing.T) {
		registrar := NewRegistrar(NewClient(), WithStaticClient("", "ignored"))
		_, err := registrar.Register(context.Background(),
			&Metadata{Issuer: "https://auth"}, "http://localhost:8080/callback")

		var regErr *RegistrationError
		if !errors.As(err, &regErr) {
			t.Fatalf("expected RegistrationError, got %v", err)
		}
		if !errors.Is(err, ErrNoRegistrationEndpoint) {
			t.Error("expected ErrNoRegistrationEndpoint to be wrapped")
		}
		if registrar.Static("x") != nil {
			t.Error("empty client id must not configure a static client")
		}
	})
}
