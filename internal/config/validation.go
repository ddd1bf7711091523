package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks that the configuration can drive a token flow.
func (c Config) Validate() error {
	var errs ValidationErrors

	if err := ValidateResourceURL(c.ResourceURL); err != nil {
		errs.Add("resource", err.Error(), c.ResourceURL)
	}
	if err := ValidateRedirectURI(c.RedirectURI); err != nil {
		errs.Add("redirectUri", err.Error(), c.RedirectURI)
	}
	if c.ClientSecret != "" && c.ClientID == "" {
		errs.Add("clientSecret", "requires a client id")
	}
	if c.CallbackTimeout <= 0 {
		errs.Add("callbackTimeout", "must be positive", c.CallbackTimeout)
	}
	if c.HTTPTimeout <= 0 {
		errs.Add("httpTimeout", "must be positive", c.HTTPTimeout)
	}
	if c.ExpiryMargin < 0 {
		errs.Add("expiryMargin", "must not be negative", c.ExpiryMargin)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidateResourceURL requires an absolute http(s) URL without a fragment.
func ValidateResourceURL(resource string) error {
	if strings.TrimSpace(resource) == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(resource)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	if u.Fragment != "" {
		return fmt.Errorf("must not contain a fragment")
	}
	return nil
}

// ValidateRedirectURI requires a loopback http URL with an explicit port.
func ValidateRedirectURI(redirect string) error {
	u, err := url.Parse(redirect)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %v", err)
	}
	if u.Scheme != "http" {
		return fmt.Errorf("must use http")
	}
	host := u.Hostname()
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return fmt.Errorf("must point at a loopback address")
		}
	}
	if port := u.Port(); port == "" || port == "0" {
		return fmt.Errorf("must include an explicit port")
	}
	return nil
}
