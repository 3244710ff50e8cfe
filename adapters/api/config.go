package api

import (
	"strings"
	"time"

	"trialcheck/internal/config"
	"trialcheck/internal/errors"
)

// ClientConfig holds configuration for calling the service under test
type ClientConfig struct {
	BaseURL   string            `json:"base_url"`
	APIPrefix string            `json:"api_prefix"`
	Timeout   time.Duration     `json:"timeout"`    // transport-level ceiling; callers also pass deadlines
	RateLimit float64           `json:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int               `json:"burst"`
	AuthToken string            `json:"-"`
	Headers   map[string]string `json:"headers,omitempty"`

	// MaxBodyBytes caps how much of a response is read.
	MaxBodyBytes int64 `json:"max_body_bytes"`
}

// DefaultClientConfig returns sensible defaults for baseURL
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:      baseURL,
		APIPrefix:    config.DefaultAPIPrefix,
		Timeout:      60 * time.Second,
		Burst:        1,
		MaxBodyBytes: 4 << 20,
	}
}

// ClientConfigFrom builds the client settings from application configuration.
func ClientConfigFrom(cfg config.ServiceConfig) ClientConfig {
	c := DefaultClientConfig(cfg.BaseURL)
	c.APIPrefix = cfg.APIPrefix
	c.RateLimit = cfg.RateLimit
	c.AuthToken = cfg.AuthToken
	if cfg.RequestTimeout > 0 {
		// The per-call context deadline is the real limit.
		c.Timeout = 2 * cfg.RequestTimeout
	}
	return c
}

// Validate checks if the configuration is valid
func (c *ClientConfig) Validate() error {
	if err := config.ValidateBaseURL(c.BaseURL); err != nil {
		return err
	}
	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return errors.ConfigInvalidf("api prefix must start with '/', got %q", c.APIPrefix)
	}
	if c.Timeout <= 0 {
		return errors.ConfigInvalidf("timeout must be positive, got %s", c.Timeout)
	}
	if c.RateLimit < 0 {
		return errors.ConfigInvalidf("rate limit must not be negative, got %v", c.RateLimit)
	}
	if c.MaxBodyBytes <= 0 {
		return errors.ConfigInvalidf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	return nil
}

// URL joins the base URL, API prefix and an endpoint path.
func (c *ClientConfig) URL(endpoint string) string {
	return strings.TrimRight(c.BaseURL, "/") + strings.TrimRight(c.APIPrefix, "/") + endpoint
}
