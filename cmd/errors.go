package cmd

import "fmt"

// AuthRequiredError indicates authentication is needed but was not attempted.
type AuthRequiredError struct {
	// Resource is the MCP server URL that requires authentication.
	Resource string
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf(`Authentication required for %s

To authenticate, run:
  mcpauth auth login --resource %s`, e.Resource, e.Resource)
}

// AuthFailedError indicates authentication was attempted and failed.
type AuthFailedError struct {
	// Resource is the MCP server URL where authentication failed.
	Resource string
	// Reason is the underlying error.
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Authentication failed for %s: %v

To retry authentication, run:
  mcpauth auth login --resource %s`, e.Resource, e.Reason, e.Resource)
}

// Unwrap returns the underlying error.
func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}
