package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
)

var (
	// Iroha naming rules: lowercase account and asset names, DNS-style domains.
	accountIDPattern = regexp.MustCompile(`^[a-z_0-9]{1,32}@[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$`)
	assetIDPattern   = regexp.MustCompile(`^[a-z_0-9]{1,32}#[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$`)
)

// Validate checks a resolved configuration for consistency.
func Validate(cfg *Config) error {
	if cfg.ToriiURL == "" {
		return fmt.Errorf("torii-url is required")
	}
	if _, _, err := net.SplitHostPort(cfg.ToriiURL); err != nil {
		return fmt.Errorf("torii-url must be host:port: %w", err)
	}

	if cfg.ConnectorURL == "" {
		return fmt.Errorf("connector-url is required")
	}
	u, err := url.Parse(cfg.ConnectorURL)
	if err != nil {
		return fmt.Errorf("connector-url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("connector-url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("connector-url has no host")
	}

	if cfg.IrohaAccountID == "" {
		return fmt.Errorf("iroha-account-id is required")
	}
	if !accountIDPattern.MatchString(cfg.IrohaAccountID) {
		return fmt.Errorf("iroha-account-id must be name@domain, got %q", cfg.IrohaAccountID)
	}

	if cfg.KeypairName == "" {
		return fmt.Errorf("keypair-name is required")
	}

	if cfg.AssetID == "" {
		return fmt.Errorf("asset-id is required")
	}
	if !assetIDPattern.MatchString(cfg.AssetID) {
		return fmt.Errorf("asset-id must be code#domain, got %q", cfg.AssetID)
	}

	if cfg.AssetScale < 0 || cfg.AssetScale > 18 {
		return fmt.Errorf("asset-scale must be between 0 and 18, got %d", cfg.AssetScale)
	}

	if cfg.BindPort < 1 || cfg.BindPort > 65535 {
		return fmt.Errorf("bind-port must be between 1 and 65535, got %d", cfg.BindPort)
	}

	if cfg.DatabasePath == "" {
		return fmt.Errorf("database-path is required")
	}

	switch cfg.DatabaseBackend {
	case "pebble", "bbolt":
	default:
		return fmt.Errorf("database-backend must be pebble or bbolt, got %q", cfg.DatabaseBackend)
	}

	return nil
}
