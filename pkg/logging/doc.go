// Package logging provides the structured logging setup for mcpauth.
//
// It is a thin layer over log/slog: InitForCLI installs a text handler on
// the chosen writer (normally stderr) and makes it the slog default, so
// library packages that log through slog.Default() or an injected
// *slog.Logger end up on the same output.
//
// # Log Levels
//
//   - Debug: discovery URLs tried, state transitions, HTTP statuses
//   - Info: registrations, token stored/cleared audit events
//   - Warn: recoverable problems such as a cache write failure
//   - Error: failures returned to the user
//
// # Redaction
//
// Attributes named like credentials (access_token, refresh_token,
// client_secret, code_verifier, code, authorization) are replaced with
// [REDACTED] by the handler. Types in pkg/oauth additionally implement
// slog.LogValuer so that logging a whole TokenSet or ClientRegistration
// never prints secret values.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Auth", "Using token cache at %s", path)
//	logging.Error("Auth", err, "Login failed")
//
//	logger := logging.Logger("OAuth")
//	logger.Debug("Discovered metadata", "issuer", issuer)
package logging
