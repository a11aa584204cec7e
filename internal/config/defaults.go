package config

import "github.com/spf13/viper"

func setDefaults(v *viper.Viper) {
	v.SetDefault("torii-url", "localhost:50051")
	v.SetDefault("connector-url", "http://localhost:7771")

	// Required keys get empty defaults so viper resolves them from the
	// environment and validation reports them when still unset.
	v.SetDefault("iroha-account-id", "")
	v.SetDefault("keypair-name", "")
	v.SetDefault("asset-id", "")

	v.SetDefault("asset-scale", 2)
	v.SetDefault("bind-port", 3000)
	v.SetDefault("database-path", "./data")
	v.SetDefault("database-backend", "pebble")
}
