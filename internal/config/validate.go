package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values are clamped to safe defaults. Other validation errors
// are logged as warnings but do not prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.GatewayURL != "" {
		u, err := url.Parse(c.GatewayURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("gateway_url %q is not a valid URL: %w", c.GatewayURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("gateway_url scheme must be http or https, got %q", u.Scheme))
		}
	}

	for _, secret := range []struct{ name, value string }{
		{"rest_secret", c.RestSecret},
		{"update_auth_pass", c.UpdateAuthPass},
	} {
		for _, r := range secret.value {
			if unicode.IsControl(r) {
				errs = append(errs, fmt.Errorf("%s contains control characters", secret.name))
				break
			}
		}
	}

	if c.RestKey != "" && c.RestSecret == "" {
		errs = append(errs, fmt.Errorf("rest_key is set but rest_secret is empty, requests will be unsigned"))
	}

	if c.MigrationTable == "" {
		errs = append(errs, fmt.Errorf("migration_table is empty, using default"))
		c.MigrationTable = "lattice_migrations"
	}
	for _, r := range c.MigrationTable {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			errs = append(errs, fmt.Errorf("migration_table %q contains invalid characters, using default", c.MigrationTable))
			c.MigrationTable = "lattice_migrations"
			break
		}
	}

	// Clamp the check interval so watch mode never busy-loops
	if c.CheckIntervalHours < 1 {
		errs = append(errs, fmt.Errorf("check_interval_hours %d is below minimum 1, clamping", c.CheckIntervalHours))
		c.CheckIntervalHours = 1
	} else if c.CheckIntervalHours > 168 {
		errs = append(errs, fmt.Errorf("check_interval_hours %d exceeds maximum 168, clamping", c.CheckIntervalHours))
		c.CheckIntervalHours = 168
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
