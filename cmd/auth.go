package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mcpauth/internal/oauth"
	"mcpauth/pkg/logging"
)

var (
	authResource     string
	authRedirectURI  string
	authClientID     string
	authClientSecret string
	authScopes       string
	authTokenFile    string
	authNoBrowser    bool
	authEncrypt      bool
	authTimeout      time.Duration
	authQuiet        bool
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage OAuth tokens for an MCP server",
	Long: `Manage OAuth tokens for an MCP resource server.

Every flag can also be set through an MCPAUTH_* environment variable, e.g.
MCPAUTH_RESOURCE or MCPAUTH_CLIENT_SECRET. Flags take precedence.

Examples:
  mcpauth auth login --resource https://mcp.example.com/mcp
  mcpauth auth status                  # Show the cached token
  mcpauth auth token                   # Print a valid access token
  mcpauth auth logout                  # Remove cached tokens`,
}

// authTokenCmd represents the auth token command
var authTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a valid access token",
	Long: `Print a valid access token for the resource to stdout.

A cached token is used while it is valid and refreshed when it is not. If
neither works, the browser-based authorization is started unless
--no-login is given, in which case the command exits with code 2.

Examples:
  mcpauth auth token
  curl -H "Authorization: Bearer $(mcpauth auth token --no-login)" ...`,
	RunE: runAuthToken,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear stored authentication tokens",
	Long: `Clear stored OAuth tokens.

This command removes the token cache, requiring you to re-authenticate on
the next request. With --encrypt the cache encryption key is removed from
the OS keyring as well.`,
	RunE: runAuthLogout,
}

var tokenNoLogin bool

// authPrint prints output to stderr only if the --quiet flag is not set.
func authPrint(cmd *cobra.Command, format string, args ...interface{}) {
	if !authQuiet {
		fmt.Fprintf(cmd.ErrOrStderr(), format, args...)
	}
}

// authPrintln prints a line to stderr only if the --quiet flag is not set.
func authPrintln(cmd *cobra.Command, a ...interface{}) {
	if !authQuiet {
		fmt.Fprintln(cmd.ErrOrStderr(), a...)
	}
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authTokenCmd)
	authCmd.AddCommand(authLogoutCmd)

	flags := authCmd.PersistentFlags()
	flags.StringVar(&authResource, "resource", "", "MCP server URL to authenticate to (env: MCPAUTH_RESOURCE)")
	flags.StringVar(&authRedirectURI, "redirect-uri", "", "Loopback redirect URI (default http://localhost:8080/callback)")
	flags.StringVar(&authClientID, "client-id", "", "Client ID used when dynamic registration is unavailable")
	flags.StringVar(&authClientSecret, "client-secret", "", "Client secret for --client-id (prefer MCPAUTH_CLIENT_SECRET)")
	flags.StringVar(&authScopes, "scopes", "", "Space or comma separated scopes to request")
	flags.StringVar(&authTokenFile, "token-file", "", "Token cache file (default ~/.config/mcpauth/tokens.json)")
	flags.BoolVar(&authNoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	flags.BoolVar(&authEncrypt, "encrypt", false, "Encrypt the token cache with a key kept in the OS keyring")
	flags.DurationVar(&authTimeout, "timeout", 5*time.Minute, "How long to wait for the browser authorization")
	flags.BoolVarP(&authQuiet, "quiet", "q", false, "Suppress non-essential output")

	authTokenCmd.Flags().BoolVar(&tokenNoLogin, "no-login", false, "Fail instead of starting a browser authorization")
}

func runAuthToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var opts oauth.SetupOptions
	if tokenNoLogin {
		opts.Authorizer = nonInteractiveAuthorizer{}
	}
	manager, _, err := newManager(cfg, cmd.ErrOrStderr(), opts)
	if err != nil {
		return err
	}
	defer manager.Close()

	token, err := manager.AcquireToken(cmd.Context(), cfg.ResourceURL)
	if err != nil {
		var required *AuthRequiredError
		if errors.As(err, &required) {
			return required
		}
		return &AuthFailedError{Resource: cfg.ResourceURL, Reason: err}
	}

	fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, os.LookupEnv)
	if err != nil {
		return err
	}

	logger := logging.Logger("oauth")
	store, err := oauth.NewTokenStoreFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	if err := store.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}

	if cfg.Encrypt {
		if err := oauth.NewKeyringCipher("", "").Forget(); err != nil {
			return err
		}
	}

	authPrint(cmd, "Removed cached tokens from %s\n", store.Path())
	return nil
}
