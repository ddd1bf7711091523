package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// newVersionCmd prints the build version and, unless --short is given, the
// Go toolchain and platform the binary was built for.
func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the mcpauth build version",
		Long: `Print the version of this mcpauth binary.

The version is set at build time with -ldflags "-X main.version=...".
Builds without it report "dev".`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version := rootCmd.Version
			if version == "" {
				version = "dev"
			}
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), version)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mcpauth version %s (%s %s/%s)\n",
				version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version string")
	return cmd
}
