// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package config

import (
	"fmt"
	"net/url"

	"github.com/tomtom215/zkbridge/internal/validation"
)

// Validate runs the struct tag rules and then the cross-field checks.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	if err := c.validateTerminals(); err != nil {
		return err
	}
	if err := validateHTTPURL(c.Backend.URL, "BACKEND_URL"); err != nil {
		return err
	}
	if err := c.validatePoll(); err != nil {
		return err
	}
	return c.validateServer()
}

// validateTerminals rejects duplicate terminal ids. Terminal state and sync
// progress are keyed by id.
func (c *Config) validateTerminals() error {
	seen := make(map[string]bool, len(c.Terminals))
	for _, t := range c.Terminals {
		if seen[t.ID] {
			return fmt.Errorf("duplicate terminal id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

func (c *Config) validatePoll() error {
	intervals := []struct {
		name string
		d    int64
	}{
		{"POLL_INTERVAL", int64(c.Poll.EventInterval)},
		{"UPLOAD_INTERVAL", int64(c.Poll.UploadInterval)},
		{"INCREMENTAL_SYNC_INTERVAL", int64(c.Poll.IncrementalInterval)},
		{"DEVICE_CONNECT_TIMEOUT", int64(c.Poll.ConnectTimeout)},
		{"DEVICE_READ_TIMEOUT", int64(c.Poll.ReadTimeout)},
	}
	for _, iv := range intervals {
		if iv.d <= 0 {
			return fmt.Errorf("%s must be positive", iv.name)
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if !c.Server.Enabled {
		return nil
	}
	if c.Server.RateLimitReqs > 0 && c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive when RATE_LIMIT_REQUESTS is set")
	}
	return nil
}

// validateHTTPURL checks for an http or https URL with a host. A path is
// allowed since the backend base usually ends in /api.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	if parsedURL.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", fieldName, parsedURL.RawQuery)
	}
	return nil
}
