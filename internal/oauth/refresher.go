package oauth

import (
	"context"
	"log/slog"

	pkgoauth "mcpauth/pkg/oauth"
)

// TokenRefresher exchanges a refresh token for a new TokenSet bound to the
// same resource. It never retries; a rejected refresh is reported as
// *pkgoauth.RefreshRejectedError so the caller can fall back to a new
// authorization.
type TokenRefresher struct {
	client *pkgoauth.Client
	logger *slog.Logger
}

// NewTokenRefresher creates a refresher using client for token requests.
func NewTokenRefresher(client *pkgoauth.Client, logger *slog.Logger) *TokenRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenRefresher{client: client, logger: logger}
}

// Refresh returns a replacement for token. The result keeps token.Resource
// as its resource indicator and carries the old refresh token when the
// server does not rotate it.
func (r *TokenRefresher) Refresh(ctx context.Context, token *pkgoauth.TokenSet, metadata *pkgoauth.Metadata, registration *pkgoauth.ClientRegistration) (*pkgoauth.TokenSet, error) {
	if !token.HasRefreshToken() {
		return nil, &pkgoauth.NoRefreshTokenError{}
	}

	refreshed, err := r.client.RefreshToken(ctx, metadata, registration, token.RefreshToken, token.Resource)
	if err != nil {
		r.logger.Debug("Token refresh failed",
			"resource", token.Resource,
			"issuer", metadata.Issuer,
			"error", err)
		return nil, err
	}

	r.logger.Debug("Token refreshed",
		"resource", refreshed.Resource,
		"issuer", refreshed.Issuer,
		"expires_at", refreshed.ExpiresAt)
	return refreshed, nil
}
