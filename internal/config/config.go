// Package config loads and validates the engine configuration from flags,
// environment variables and an optional TOML file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the complete engine configuration.
type Config struct {
	// ToriiURL is the host:port of the Iroha Torii gRPC endpoint.
	ToriiURL string `mapstructure:"torii-url"`

	// ConnectorURL is the base URL of the local connector's settlement API.
	ConnectorURL string `mapstructure:"connector-url"`

	// IrohaAccountID is our own ledger account, name@domain.
	IrohaAccountID string `mapstructure:"iroha-account-id"`

	// KeypairName is the path prefix of the ed25519 key files
	// (<name>.priv / <name>.pub).
	KeypairName string `mapstructure:"keypair-name"`

	// AssetID is the settlement asset, code#domain.
	AssetID string `mapstructure:"asset-id"`

	// AssetScale is the scale the engine and the asset operate at.
	AssetScale int `mapstructure:"asset-scale"`

	// BindPort is the port the control surface listens on.
	BindPort int `mapstructure:"bind-port"`

	// DatabasePath is the directory holding the persistent store.
	DatabasePath string `mapstructure:"database-path"`

	// DatabaseBackend selects the key-value backend, pebble or bbolt.
	DatabaseBackend string `mapstructure:"database-backend"`
}

// Load resolves configuration in priority order: defaults, then the optional
// TOML file, then SETTLEMENT_ environment variables, then command-line flags.
func Load(flags *pflag.FlagSet, confFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if confFile != "" {
		v.SetConfigFile(confFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", confFile, err)
		}
	}

	v.SetEnvPrefix("SETTLEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("could not bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
