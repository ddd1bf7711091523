package oauth

import (
	"errors"
	"fmt"
	"time"
)

// DiscoveryStage names the discovery step that failed.
type DiscoveryStage string

const (
	// StageProtectedResource is RFC 9728 protected-resource metadata discovery.
	StageProtectedResource DiscoveryStage = "protected_resource"

	// StageAuthorizationServer is RFC 8414 / OIDC authorization-server discovery.
	StageAuthorizationServer DiscoveryStage = "authorization_server"
)

// DiscoveryError reports a metadata fetch or parse failure.
// It is fatal to the current flow and is not retried.
type DiscoveryError struct {
	Stage    DiscoveryStage
	Endpoint string
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("%s metadata discovery failed for %s: %v", e.Stage, e.Endpoint, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// RegistrationError is returned when neither dynamic registration nor
// configured static credentials yield a client.
type RegistrationError struct {
	Endpoint string
	Err      error
}

func (e *RegistrationError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("client registration unavailable: %v", e.Err)
	}
	return fmt.Sprintf("client registration at %s failed and no static client is configured: %v", e.Endpoint, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// ErrNoRegistrationEndpoint is wrapped by RegistrationError when the
// authorization server does not support dynamic registration.
var ErrNoRegistrationEndpoint = errors.New("authorization server does not advertise a registration endpoint")

// StateMismatchError means the state returned on the callback did not match
// the pending flow. It may indicate CSRF and is never retried.
type StateMismatchError struct{}

func (e *StateMismatchError) Error() string {
	return "state mismatch on authorization callback - possible CSRF attack"
}

// AuthorizationDeniedError carries the error reported by the authorization server
// on the redirect.
type AuthorizationDeniedError struct {
	Code        string
	Description string
	Hint        string
}

func (e *AuthorizationDeniedError) Error() string {
	msg := "authorization denied: " + e.Code
	if e.Description != "" {
		msg += " - " + e.Description
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// NewAuthorizationDeniedError builds the error and attaches a hint for the
// error codes that usually have a client-side cause.
func NewAuthorizationDeniedError(code, description string) *AuthorizationDeniedError {
	e := &AuthorizationDeniedError{Code: code, Description: description}
	switch code {
	case "invalid_scope":
		e.Hint = "the resource server may require different scopes than requested"
	case "invalid_client":
		e.Hint = "the client was rejected; check dynamic registration support or the configured client id"
	case "access_denied":
		e.Hint = "the user or provider declined the request"
	}
	return e
}

// CallbackTimeoutError means no redirect arrived within the allotted time.
type CallbackTimeoutError struct {
	Timeout time.Duration
}

func (e *CallbackTimeoutError) Error() string {
	return fmt.Sprintf("no authorization callback received within %v", e.Timeout)
}

// NoRefreshTokenError is returned when a refresh is attempted without a refresh token.
type NoRefreshTokenError struct{}

func (e *NoRefreshTokenError) Error() string {
	return "no refresh token available"
}

// RefreshRejectedError means the token endpoint refused a refresh grant.
// It is never retried; callers fall back to a fresh authorization.
type RefreshRejectedError struct {
	Endpoint    string
	Status      int
	Code        string
	Description string
}

func (e *RefreshRejectedError) Error() string {
	msg := fmt.Sprintf("refresh rejected by %s with status %d", e.Endpoint, e.Status)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " - " + e.Description
	}
	return msg
}

// TokenExchangeError means the token endpoint refused an authorization-code exchange.
type TokenExchangeError struct {
	Endpoint    string
	Status      int
	Code        string
	Description string
}

func (e *TokenExchangeError) Error() string {
	msg := fmt.Sprintf("token exchange at %s failed with status %d", e.Endpoint, e.Status)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " - " + e.Description
	}
	return msg
}

// IsRecoverableByReauth reports whether err only means the current token
// material is unusable, so a fresh authorization flow is the right answer.
func IsRecoverableByReauth(err error) bool {
	var rejected *RefreshRejectedError
	var noRefresh *NoRefreshTokenError
	return errors.As(err, &rejected) || errors.As(err, &noRefresh)
}
