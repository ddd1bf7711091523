package cmd

import (
	"context"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"mcpauth/internal/config"
	"mcpauth/internal/oauth"
)

var loginForce bool

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate to an MCP server",
	Long: `Authenticate to an MCP server using OAuth.

This command discovers the authorization server of the resource, registers
a client if the server allows it and opens the browser for the
authorization code flow. The resulting tokens are cached locally.

A valid cached token is reused unless --force is given.

Examples:
  mcpauth auth login --resource https://mcp.example.com/mcp
  mcpauth auth login --no-browser          # Print the URL instead
  mcpauth auth login --client-id my-app    # Use a pre-registered client`,
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().BoolVar(&loginForce, "force", false, "Discard cached tokens and authenticate again")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.ErrOrStderr()
	var s *spinner.Spinner
	if !authQuiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
		s.Suffix = " Waiting for authorization in the browser..."
	}

	manager, _, err := newManager(cfg, out, oauth.SetupOptions{
		URLHandler: waitingURLHandler(presentURLHandler(cfg, out), s),
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	if loginForce {
		if err := manager.Invalidate(ctx); err != nil {
			return err
		}
	}

	authPrint(cmd, "Authenticating to %s\n", cfg.ResourceURL)
	token, err := manager.AcquireToken(ctx, cfg.ResourceURL)
	if s != nil {
		s.Stop()
	}
	if err != nil {
		return &AuthFailedError{Resource: cfg.ResourceURL, Reason: err}
	}

	switch manager.State() {
	case oauth.StateCached:
		authPrint(cmd, "%s Already authenticated (token expires %s)\n",
			text.FgGreen.Sprint("✓"), formatExpiryWithDirection(token.ExpiresAt))
	default:
		authPrint(cmd, "%s Authenticated (token expires %s)\n",
			text.FgGreen.Sprint("✓"), formatExpiryWithDirection(token.ExpiresAt))
	}
	return nil
}

// presentURLHandler picks how the authorization URL is shown for cfg.
func presentURLHandler(cfg config.Config, out io.Writer) oauth.URLHandler {
	if cfg.OpenBrowser {
		return oauth.BrowserURLHandler(out)
	}
	return oauth.PrintURLHandler(out)
}

// waitingURLHandler starts s once the URL has been presented.
func waitingURLHandler(next oauth.URLHandler, s *spinner.Spinner) oauth.URLHandler {
	return func(ctx context.Context, authURL string) error {
		if err := next(ctx, authURL); err != nil {
			return err
		}
		if s != nil {
			s.Start()
		}
		return nil
	}
}
