package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mcpauth/internal/oauth"
)

// Output formats of auth status.
const (
	outputText = "text"
	outputYAML = "yaml"
)

var statusOutput string

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Long: `Show the cached token for the resource.

This command only reads the local cache. It never refreshes a token or
starts an authorization, and it never prints token values.

Examples:
  mcpauth auth status
  mcpauth auth status --output yaml`,
	RunE: runAuthStatus,
}

// statusReport is the machine-readable form of auth status.
type statusReport struct {
	Authenticated bool               `yaml:"authenticated"`
	Resource      string             `yaml:"resource"`
	TokenFile     string             `yaml:"tokenFile"`
	Token         *oauth.TokenStatus `yaml:"token,omitempty"`
}

func init() {
	authStatusCmd.Flags().StringVarP(&statusOutput, "output", "o", outputText, "Output format: text or yaml")
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	if statusOutput != outputText && statusOutput != outputYAML {
		return fmt.Errorf("unsupported output format %q (use %s or %s)", statusOutput, outputText, outputYAML)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	manager, store, err := newManager(cfg, cmd.ErrOrStderr(), oauth.SetupOptions{Authorizer: nonInteractiveAuthorizer{}})
	if err != nil {
		return err
	}
	defer manager.Close()

	status, ok := manager.Status(cmd.Context(), cfg.ResourceURL)
	report := statusReport{
		Authenticated: ok && (!status.Expired || status.HasRefreshToken),
		Resource:      cfg.ResourceURL,
		TokenFile:     store.Path(),
		Token:         status,
	}

	if statusOutput == outputYAML {
		return writeStatusYAML(cmd.OutOrStdout(), report)
	}
	writeStatusText(cmd.OutOrStdout(), report)
	return nil
}

func writeStatusYAML(w io.Writer, report statusReport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	return enc.Close()
}

func writeStatusText(w io.Writer, report statusReport) {
	fmt.Fprintln(w, "MCP Server")
	fmt.Fprintf(w, "  Resource:  %s\n", report.Resource)

	status := report.Token
	if status == nil {
		fmt.Fprintf(w, "  Status:    %s\n", text.FgYellow.Sprint("Not authenticated"))
		fmt.Fprintf(w, "  Cache:     %s\n", report.TokenFile)
		fmt.Fprintln(w, "\nTo authenticate, run:")
		fmt.Fprintf(w, "  mcpauth auth login --resource %s\n", report.Resource)
		return
	}

	fmt.Fprintf(w, "  Status:    %s\n", formatTokenState(status))
	if !status.ExpiresAt.IsZero() {
		fmt.Fprintf(w, "  Expires:   %s\n", formatExpiryWithDirection(status.ExpiresAt))
	}
	if status.HasRefreshToken {
		fmt.Fprintf(w, "  Refresh:   %s\n", text.FgGreen.Sprint("Available"))
	} else {
		fmt.Fprintf(w, "  Refresh:   %s\n", text.FgYellow.Sprint("Not available (re-auth required on expiry)"))
	}
	if status.Issuer != "" {
		fmt.Fprintf(w, "  Issuer:    %s\n", status.Issuer)
	}
	if status.ClientID != "" {
		fmt.Fprintf(w, "  Client:    %s\n", status.ClientID)
	}
	if status.Scope != "" {
		fmt.Fprintf(w, "  Scope:     %s\n", status.Scope)
	}
	fmt.Fprintf(w, "  Cache:     %s\n", report.TokenFile)
}

// formatTokenState returns a coloured summary of a cached token.
func formatTokenState(status *oauth.TokenStatus) string {
	switch {
	case !status.Expired:
		return text.FgGreen.Sprint("Authenticated")
	case status.HasRefreshToken:
		return text.FgYellow.Sprint("Expired (will refresh on next use)")
	default:
		return text.FgRed.Sprint("Expired")
	}
}
