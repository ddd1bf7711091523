package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by FromEnv.
const (
	EnvResourceURL     = "MCPAUTH_RESOURCE"
	EnvRedirectURI     = "MCPAUTH_REDIRECT_URI"
	EnvClientID        = "MCPAUTH_CLIENT_ID"
	EnvClientSecret    = "MCPAUTH_CLIENT_SECRET"
	EnvClientName      = "MCPAUTH_CLIENT_NAME"
	EnvScopes          = "MCPAUTH_SCOPES"
	EnvTokenFile       = "MCPAUTH_TOKEN_FILE"
	EnvEncrypt         = "MCPAUTH_ENCRYPT"
	EnvNoBrowser       = "MCPAUTH_NO_BROWSER"
	EnvCallbackTimeout = "MCPAUTH_CALLBACK_TIMEOUT"
	EnvHTTPTimeout     = "MCPAUTH_HTTP_TIMEOUT"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv applies MCPAUTH_* overrides on top of base. Malformed values are
// reported together as ValidationErrors.
func FromEnv(base Config, lookup LookupFunc) (Config, error) {
	cfg := base
	var errs ValidationErrors

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, apply func(bool)) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs.Add(key, fmt.Sprintf("must be a boolean, got %q", v), v)
			return
		}
		apply(b)
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs.Add(key, fmt.Sprintf("must be a duration like 5m or 30s, got %q", v), v)
			return
		}
		*dst = d
	}

	str(EnvResourceURL, &cfg.ResourceURL)
	str(EnvRedirectURI, &cfg.RedirectURI)
	str(EnvClientID, &cfg.ClientID)
	str(EnvClientSecret, &cfg.ClientSecret)
	str(EnvClientName, &cfg.ClientName)
	str(EnvTokenFile, &cfg.TokenFile)
	if v, ok := lookup(EnvScopes); ok && strings.TrimSpace(v) != "" {
		cfg.Scopes = ParseScopes(v)
	}
	boolean(EnvEncrypt, func(b bool) { cfg.Encrypt = b })
	boolean(EnvNoBrowser, func(b bool) { cfg.OpenBrowser = !b })
	duration(EnvCallbackTimeout, &cfg.CallbackTimeout)
	duration(EnvHTTPTimeout, &cfg.HTTPTimeout)

	if errs.HasErrors() {
		return base, errs
	}
	return cfg, nil
}

// ParseScopes splits a space- or comma-separated scope list.
func ParseScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}
