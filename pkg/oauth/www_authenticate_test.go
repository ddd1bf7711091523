package oauth

import (
	"net/http"
	"testing"
)

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    *AuthChallenge
		wantErr bool
	}{
		{
			name:   "simple bearer",
			header: "Bearer",
			want: &AuthChallenge{
				Scheme: "Bearer",
			},
		},
		{
			name:   "bearer with realm and scope",
			header: `Bearer realm="https://auth.example.com", scope="openid profile"`,
			want: &AuthChallenge{
				Scheme: "Bearer",
				Realm:  "https://auth.example.com",
				Scope:  "openid profile",
			},
		},
		{
			name:   "bearer with resource_metadata",
			header: `Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"`,
			want: &AuthChallenge{
				Scheme:              "Bearer",
				ResourceMetadataURL: "https://mcp.example.com/.well-known/oauth-protected-resource",
			},
		},
		{
			name:   "legacy as_uri parameter",
			header: `Bearer realm="example", as_uri="https://auth.example.com/.well-known/oauth-protected-resource"`,
			want: &AuthChallenge{
				Scheme:              "Bearer",
				Realm:               "example",
				ResourceMetadataURL: "https://auth.example.com/.well-known/oauth-protected-resource",
			},
		},
		{
			name:   "resource_metadata wins over as_uri",
			header: `Bearer as_uri="https://a.example/x", resource_metadata="https://b.example/y"`,
			want: &AuthChallenge{
				Scheme:              "Bearer",
				ResourceMetadataURL: "https://b.example/y",
			},
		},
		{
			name:   "bearer with error and unquoted value",
			header: `Bearer error=invalid_token, error_description="The token has expired"`,
			want: &AuthChallenge{
				Scheme:           "Bearer",
				Error:            "invalid_token",
				ErrorDescription: "The token has expired",
			},
		},
		{
			name:    "empty header",
			header:  "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWWWAuthenticate(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *got != *tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseWWWAuthenticateFromResponse(t *testing.T) {
	t.Run("nil response", func(t *testing.T) {
		if ParseWWWAuthenticateFromResponse(nil) != nil {
			t.Error("expected nil")
		}
	})

	t.Run("non-401 is ignored", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}}
		resp.Header.Set("WWW-Authenticate", `Bearer realm="x"`)
		if ParseWWWAuthenticateFromResponse(resp) != nil {
			t.Error("expected nil for 403")
		}
	})

	t.Run("picks the bearer challenge among several", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusUnauthorized, Header: http.Header{}}
		resp.Header.Add("WWW-Authenticate", `Basic realm="legacy"`)
		resp.Header.Add("WWW-Authenticate", `Bearer resource_metadata="https://mcp.example.com/prm"`)

		challenge := ParseWWWAuthenticateFromResponse(resp)
		if challenge == nil {
			t.Fatal("expected a challenge")
		}
		if challenge.ResourceMetadataURL != "https://mcp.example.com/prm" {
			t.Errorf("ResourceMetadataURL = %q", challenge.ResourceMetadataURL)
		}
	})
}

func TestIsInvalidTokenChallenge(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header string
		want   bool
	}{
		{"invalid_token", http.StatusUnauthorized, `Bearer error="invalid_token"`, true},
		{"bare 401", http.StatusUnauthorized, "", true},
		{"insufficient scope", http.StatusUnauthorized, `Bearer error="insufficient_scope"`, false},
		{"ok", http.StatusOK, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("WWW-Authenticate", tt.header)
			}
			if got := IsInvalidTokenChallenge(resp); got != tt.want {
				t.Errorf("IsInvalidTokenChallenge() = %v, want %v", got, tt.want)
			}
		})
	}
}
