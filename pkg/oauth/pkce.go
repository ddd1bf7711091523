package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
)

// stateBytes is the number of random bytes for the OAuth state parameter.
// 32 bytes encodes to 43 base64url characters.
const stateBytes = 32

// PKCEChallenge is a PKCE (RFC 7636) verifier/challenge pair plus the CSRF
// state token of the same flow.
type PKCEChallenge struct {
	// CodeVerifier is kept secret and only sent in the token exchange.
	CodeVerifier string

	// CodeChallenge is base64url(sha256(CodeVerifier)).
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string

	// State is round-tripped through the redirect.
	State string
}

// String hides the verifier.
func (p *PKCEChallenge) String() string {
	return fmt.Sprintf("PKCEChallenge{challenge=%s, method=%s}", p.CodeChallenge, p.CodeChallengeMethod)
}

// LogValue implements slog.LogValuer without exposing the verifier or state.
func (p *PKCEChallenge) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("code_challenge_method", p.CodeChallengeMethod),
		slog.Int("state_len", len(p.State)),
	)
}

// GeneratePKCE creates a new verifier, its S256 challenge and an independent state token.
func GeneratePKCE() (*PKCEChallenge, error) {
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	verifier := oauth2.GenerateVerifier()
	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
		State:               state,
	}, nil
}

// ComputeS256Challenge derives the S256 challenge for a verifier.
func ComputeS256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateState generates a random state parameter for OAuth.
// Returns a base64url-encoded random string.
func GenerateState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
