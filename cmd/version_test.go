package cmd

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
)

func runVersion(t *testing.T, version string, args ...string) string {
	t.Helper()
	original := rootCmd.Version
	defer func() { rootCmd.Version = original }()
	rootCmd.Version = version

	versionCmd := newVersionCmd()
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.SetErr(&buf)
	versionCmd.SetArgs(args)
	if err := versionCmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	return buf.String()
}

func TestVersionCommand(t *testing.T) {
	tests := []struct {
		name    string
		version string
		args    []string
		want    string
	}{
		{
			name:    "full output",
			version: "1.2.3",
			want:    "mcpauth version 1.2.3 (" + runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH + ")\n",
		},
		{
			name:    "short output",
			version: "1.2.3",
			args:    []string{"--short"},
			want:    "1.2.3\n",
		},
		{
			name: "unset version reports dev",
			args: []string{"--short"},
			want: "dev\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runVersion(t, tt.version, tt.args...); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVersionCommandRejectsArguments(t *testing.T) {
	versionCmd := newVersionCmd()
	versionCmd.SetOut(&bytes.Buffer{})
	versionCmd.SetErr(&bytes.Buffer{})
	versionCmd.SetArgs([]string{"extra"})

	if err := versionCmd.Execute(); err == nil {
		t.Error("expected an error for unexpected arguments")
	}
}

func TestVersionCommandHelp(t *testing.T) {
	output := runVersion(t, "1.2.3", "--help")
	if !strings.Contains(output, "-ldflags") {
		t.Errorf("help should explain how the version is set, got %q", output)
	}
	if !strings.Contains(output, "--short") {
		t.Errorf("help should list --short, got %q", output)
	}
}
