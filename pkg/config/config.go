// Package config loads onecore's node configuration: a YAML file plus
// environment-variable overrides, mirroring the teacher's pkg/config
// loader but reshaped around a sync node instead of a blockchain node.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"onecore/pkg/errcode"
)

// Config is the unified configuration for a onecore instance. It mirrors
// the YAML files under cmd/onecore/config.
type Config struct {
	Node struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		ListenWS       string   `mapstructure:"listen_ws" json:"listen_ws"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
	} `mapstructure:"node" json:"node"`

	Storage struct {
		Root string `mapstructure:"root" json:"root"`
	} `mapstructure:"storage" json:"storage"`

	Chum struct {
		PollIntervalSeconds int  `mapstructure:"poll_interval_seconds" json:"poll_interval_seconds"`
		KeepRunning         bool `mapstructure:"keep_running" json:"keep_running"`
	} `mapstructure:"chum" json:"chum"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`

	Debug struct {
		HTTPAddr string `mapstructure:"http_addr" json:"http_addr"`
	} `mapstructure:"debug" json:"debug"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads cmd/onecore/config/default.yaml and merges an optional
// env-specific file on top of it (config/<env>.yaml), then layers
// environment-variable overrides via viper.AutomaticEnv. The resulting
// configuration is stored in AppConfig and returned.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/onecore/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, errcode.Wrap(errcode.Internal, "config: load default config", err)
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, errcode.Wrap(errcode.Internal, fmt.Sprintf("config: merge %s config", env), err)
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, errcode.Wrap(errcode.Internal, "config: unmarshal config", err)
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ONECORE_ENV environment
// variable to select the merged env-specific file.
func LoadFromEnv() (*Config, error) {
	return Load(EnvOrDefault("ONECORE_ENV", ""))
}
