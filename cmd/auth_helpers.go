package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"mcpauth/internal/config"
	"mcpauth/internal/oauth"
	"mcpauth/pkg/logging"
)

// resolveConfig assembles the configuration from defaults, MCPAUTH_*
// environment variables and the flags the user set explicitly.
func resolveConfig(cmd *cobra.Command, lookup config.LookupFunc) (config.Config, error) {
	cfg, err := config.FromEnv(config.Default(), lookup)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("resource") {
		cfg.ResourceURL = authResource
	}
	if flags.Changed("redirect-uri") {
		cfg.RedirectURI = authRedirectURI
	}
	if flags.Changed("client-id") {
		cfg.ClientID = authClientID
	}
	if flags.Changed("client-secret") {
		cfg.ClientSecret = authClientSecret
	}
	if flags.Changed("scopes") {
		cfg.Scopes = config.ParseScopes(authScopes)
	}
	if flags.Changed("token-file") {
		cfg.TokenFile = authTokenFile
	}
	if flags.Changed("no-browser") {
		cfg.OpenBrowser = !authNoBrowser
	}
	if flags.Changed("encrypt") {
		cfg.Encrypt = authEncrypt
	}
	if flags.Changed("timeout") {
		cfg.CallbackTimeout = authTimeout
	}
	return cfg, nil
}

// loadConfig resolves and validates the configuration for commands that
// talk to a resource server.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := resolveConfig(cmd, os.LookupEnv)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newManager builds a token manager for cfg. Messages meant for the user,
// like the authorization URL, go to out.
func newManager(cfg config.Config, out io.Writer, opts oauth.SetupOptions) (*oauth.Manager, *oauth.FileTokenStore, error) {
	opts.Out = out
	opts.Logger = logging.Logger("oauth")
	return oauth.NewManagerFromConfig(cfg, opts)
}

// nonInteractiveAuthorizer refuses to start a browser flow.
type nonInteractiveAuthorizer struct{}

func (nonInteractiveAuthorizer) Run(_ context.Context, resourceURL string) (*oauth.FlowResult, error) {
	return nil, &AuthRequiredError{Resource: resourceURL}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// formatExpiryWithDirection formats a time as "in X" or "expired X ago".
func formatExpiryWithDirection(expiresAt time.Time) string {
	remaining := time.Until(expiresAt)
	if remaining > 0 {
		return "in " + formatDuration(remaining)
	}
	return text.FgYellow.Sprintf("expired %s ago", formatDuration(-remaining))
}
