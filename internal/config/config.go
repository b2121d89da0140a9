// Package config loads service configuration from file and environment.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ChainConfig struct {
	ChainID int64 `mapstructure:"chain_id"`
}

type OwnerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type FeesConfig struct {
	LimitBps  uint64 `mapstructure:"limit_bps"`
	DCABps    uint64 `mapstructure:"dca_bps"`
	Recipient string `mapstructure:"recipient"`
}

type DelegationConfig struct {
	RotationDelay time.Duration `mapstructure:"rotation_delay"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
}

type SigningConfig struct {
	ValidationGasLimit uint64 `mapstructure:"validation_gas_limit"`
}

type WhitelistConfig struct {
	Limit []string `mapstructure:"limit"`
	DCA   []string `mapstructure:"dca"`
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Owner      OwnerConfig      `mapstructure:"owner"`
	Fees       FeesConfig       `mapstructure:"fees"`
	Delegation DelegationConfig `mapstructure:"delegation"`
	Signing    SigningConfig    `mapstructure:"signing"`
	Whitelist  WhitelistConfig  `mapstructure:"whitelist"`
}

// Load reads settler.yaml from the given path (or the working directory) and
// overlays SETTLER_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("settler")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("SETTLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.dsn", "settler.db")
	v.SetDefault("chain.chain_id", 1)
	v.SetDefault("fees.limit_bps", 30)
	v.SetDefault("fees.dca_bps", 100)
	v.SetDefault("delegation.rotation_delay", 72*time.Hour)
	v.SetDefault("delegation.initial_delay", 24*time.Hour)
	v.SetDefault("signing.validation_gas_limit", 500_000)

	if err := v.ReadInConfig(); err != nil {
		// Env-only operation is supported; a missing file is not fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
