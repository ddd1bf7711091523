package oauth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// authParamRegex matches key="value" and key=token pairs.
var authParamRegex = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_-]*)\s*=\s*(?:"((?:[^"\\]|\\.)*)"|([^\s,]+))`)

// ParseWWWAuthenticate parses a WWW-Authenticate header value.
// It supports the Bearer scheme with OAuth 2.0 and MCP-specific parameters.
//
// Example headers:
//
//	Bearer realm="https://auth.example.com"
//	Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"
//	Bearer realm="example", as_uri="https://mcp.example.com/.well-known/oauth-protected-resource"
//
// The legacy as_uri parameter is treated as a resource metadata URL when
// resource_metadata is absent.
func ParseWWWAuthenticate(header string) (*AuthChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	// Split into scheme and parameters
	parts := strings.SplitN(header, " ", 2)
	challenge := &AuthChallenge{
		Scheme: parts[0],
	}

	if len(parts) == 1 {
		return challenge, nil
	}

	params := parseAuthParams(parts[1])

	challenge.Realm = params["realm"]
	challenge.Scope = params["scope"]
	challenge.Error = params["error"]
	challenge.ErrorDescription = params["error_description"]

	challenge.ResourceMetadataURL = params["resource_metadata"]
	if challenge.ResourceMetadataURL == "" {
		challenge.ResourceMetadataURL = params["as_uri"]
	}

	return challenge, nil
}

// parseAuthParams parses the parameter portion of a WWW-Authenticate header.
func parseAuthParams(paramStr string) map[string]string {
	params := make(map[string]string)

	for _, match := range authParamRegex.FindAllStringSubmatch(paramStr, -1) {
		key := strings.ToLower(match[1])
		value := match[3]
		if value == "" {
			value = strings.ReplaceAll(match[2], `\"`, `"`)
		}
		if _, exists := params[key]; !exists {
			params[key] = value
		}
	}

	return params
}

// ParseWWWAuthenticateFromResponse extracts auth challenge from a 401 response.
// Returns nil if no WWW-Authenticate header is present or if parsing fails.
func ParseWWWAuthenticateFromResponse(resp *http.Response) *AuthChallenge {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return nil
	}

	for _, header := range resp.Header.Values("WWW-Authenticate") {
		challenge, err := ParseWWWAuthenticate(header)
		if err == nil && challenge.IsOAuthChallenge() {
			return challenge
		}
	}

	return nil
}

// IsInvalidTokenChallenge reports whether a resource response says the bearer
// token it was given is no longer acceptable.
func IsInvalidTokenChallenge(resp *http.Response) bool {
	challenge := ParseWWWAuthenticateFromResponse(resp)
	if challenge == nil {
		return resp != nil && resp.StatusCode == http.StatusUnauthorized
	}
	return challenge.Error == "" || challenge.Error == "invalid_token"
}
