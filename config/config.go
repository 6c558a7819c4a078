// Package config loads process-wide configuration from the environment.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds everything §6 names as process-wide configuration.
type Config struct {
	APIKey         string `envconfig:"API_KEY" default:"change-me-in-production"`
	SessionTTL     int    `envconfig:"SESSION_TTL" default:"3600"`
	MaxSessions    int    `envconfig:"MAX_SESSIONS" default:"100"`
	Port           int    `envconfig:"PORT" default:"8000"`
	RequestTimeout int    `envconfig:"REQUEST_TIMEOUT" default:"30"`
	DNSCacheTTL    int    `envconfig:"DNS_CACHE_TTL" default:"300"`
}

// Load reads Config from the environment, applying the defaults above for
// anything unset.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
