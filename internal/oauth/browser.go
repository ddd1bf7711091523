package oauth

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// OpenBrowser opens the specified URL in the default web browser.
// It supports Linux, macOS, and Windows.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	// The browser keeps running after we return.
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()

	return nil
}

// URLHandler presents the authorization URL to the user. Returning an error
// aborts the flow before the callback wait starts.
type URLHandler func(ctx context.Context, authURL string) error

// PrintURLHandler writes the authorization URL to out without opening a browser.
func PrintURLHandler(out io.Writer) URLHandler {
	return func(_ context.Context, authURL string) error {
		_, err := fmt.Fprintf(out, "Open the following URL in your browser to authorize:\n\n  %s\n\n", authURL)
		return err
	}
}

// BrowserURLHandler prints the authorization URL and tries to open it in the
// default browser. A browser that cannot be started is not an error; the
// printed URL remains usable.
func BrowserURLHandler(out io.Writer) URLHandler {
	return browserURLHandler(out, OpenBrowser)
}

func browserURLHandler(out io.Writer, open func(string) error) URLHandler {
	printURL := PrintURLHandler(out)
	return func(ctx context.Context, authURL string) error {
		if err := printURL(ctx, authURL); err != nil {
			return err
		}
		if err := open(authURL); err != nil {
			_, _ = fmt.Fprintf(out, "Could not open a browser automatically: %v\n", err)
		}
		return nil
	}
}
