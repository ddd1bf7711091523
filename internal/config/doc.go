// Package config holds the mcpauth configuration surface.
//
// Values come from three layers, later ones winning:
//
//  1. Default(): redirect http://localhost:8080/callback, 5m callback
//     timeout, 30s HTTP timeout, 60s expiry margin, browser enabled
//  2. FromEnv(): MCPAUTH_* environment variables (see the Env* constants)
//  3. command-line flags, applied by the cmd package
//
// There is no configuration file. Validate reports every problem at once as
// ValidationErrors.
package config
