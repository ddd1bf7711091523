package oauth

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/client/transport"

	pkgoauth "mcpauth/pkg/oauth"
)

// MCPTokenStore implements mcp-go's transport.TokenStore on top of a Manager
// for one resource, so an mcp-go client sends tokens obtained and cached by
// this package.
//
// GetToken acquires through the Manager, which may refresh or run an
// interactive authorization. SaveToken accepts tokens refreshed by mcp-go
// itself and writes them to the cache bound to the resource.
type MCPTokenStore struct {
	manager  *Manager
	resource string
}

// NewMCPTokenStore binds manager to resourceURL.
func NewMCPTokenStore(manager *Manager, resourceURL string) *MCPTokenStore {
	return &MCPTokenStore{manager: manager, resource: resourceURL}
}

// GetToken returns the managed token. Any failure to obtain one is reported
// as transport.ErrNoToken, except context cancellation.
func (s *MCPTokenStore) GetToken(ctx context.Context) (*transport.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token, err := s.manager.AcquireToken(ctx, s.resource)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.manager.logger.Debug("No token available for mcp-go transport",
			"resource", s.resource,
			"error", err.Error())
		return nil, transport.ErrNoToken
	}

	return &transport.Token{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
	}, nil
}

// SaveToken caches a token refreshed by mcp-go. The issuer and client of the
// current cache entry are carried over.
func (s *MCPTokenStore) SaveToken(ctx context.Context, token *transport.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if token == nil || token.AccessToken == "" {
		return nil
	}

	tokenSet := &pkgoauth.TokenSet{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
		Resource:     s.resource,
	}

	var clientID string
	if entry, ok := s.manager.store.Load(ctx, s.resource); ok {
		tokenSet.Issuer = entry.Issuer
		tokenSet.Scope = entry.Token.Scope
		clientID = entry.ClientID
		if tokenSet.RefreshToken == "" {
			tokenSet.RefreshToken = entry.Token.RefreshToken
		}
	}

	s.manager.remember(s.resource, tokenSet)
	return s.manager.store.Store(ctx, pkgoauth.NewCachedTokenFile(tokenSet, clientID))
}

var _ transport.TokenStore = (*MCPTokenStore)(nil)
