// Package config loads and validates the relay's process-wide configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every environment-sourced setting the relay needs at startup.
// It is loaded once and never mutated afterward.
type Config struct {
	ChainRPCURL string `mapstructure:"CHAIN_RPC_URL"`
	ChainID     int64  `mapstructure:"CHAIN_ID"`

	RelayerPrivateKey  string `mapstructure:"RELAYER_PRIVATE_KEY"`
	RelayerPrivateKeys string `mapstructure:"RELAYER_PRIVATE_KEYS"`

	StablecoinAddress string `mapstructure:"STABLECOIN_ADDRESS"`
	ForwarderAddress  string `mapstructure:"FORWARDER_ADDRESS"`
	ReceivingWallet   string `mapstructure:"RECEIVING_WALLET"`

	MarkupPercentage float64 `mapstructure:"MARKUP_PERCENTAGE"`
	MinPriceUSD      float64 `mapstructure:"MIN_PRICE_USD"`
	MaxPriceUSD      float64 `mapstructure:"MAX_PRICE_USD"`

	Port    string `mapstructure:"PORT"`
	NodeEnv string `mapstructure:"NODE_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	PriceOracleURL string `mapstructure:"PRICE_ORACLE_URL"`
	PriceOracleKey string `mapstructure:"PRICE_ORACLE_API_KEY"`

	RPCTimeoutSeconds int `mapstructure:"RPC_TIMEOUT_SECONDS"`

	// RouterAddress and NativeWrappedAddress are optional: auto-rebalance
	// (spec §4.9) only runs when RouterAddress is set.
	RouterAddress        string `mapstructure:"ROUTER_ADDRESS"`
	NativeWrappedAddress string `mapstructure:"NATIVE_WRAPPED_ADDRESS"`
}

// PrivateKeys splits RELAYER_PRIVATE_KEYS (preferred) or falls back to the
// single RELAYER_PRIVATE_KEY value.
func (c *Config) PrivateKeys() []string {
	if strings.TrimSpace(c.RelayerPrivateKeys) != "" {
		parts := strings.Split(c.RelayerPrivateKeys, ",")
		keys := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				keys = append(keys, p)
			}
		}
		return keys
	}
	if strings.TrimSpace(c.RelayerPrivateKey) != "" {
		return []string{strings.TrimSpace(c.RelayerPrivateKey)}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("NODE_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MARKUP_PERCENTAGE", 20.0)
	v.SetDefault("MIN_PRICE_USD", 0.005)
	v.SetDefault("MAX_PRICE_USD", 5.0)
	v.SetDefault("RPC_TIMEOUT_SECONDS", 30)
}

// Load reads configuration from the process environment, applies defaults,
// and validates it. Absence of a required value aborts with an error.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	for _, key := range []string{
		"CHAIN_RPC_URL", "CHAIN_ID", "RELAYER_PRIVATE_KEY", "RELAYER_PRIVATE_KEYS",
		"STABLECOIN_ADDRESS", "FORWARDER_ADDRESS", "RECEIVING_WALLET",
		"MARKUP_PERCENTAGE", "MIN_PRICE_USD", "MAX_PRICE_USD", "PORT", "NODE_ENV",
		"LOG_LEVEL", "PRICE_ORACLE_URL", "PRICE_ORACLE_API_KEY", "RPC_TIMEOUT_SECONDS",
		"ROUTER_ADDRESS", "NATIVE_WRAPPED_ADDRESS",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode environment into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that every value required for the relay to operate safely
// is present and well-formed.
func (c *Config) Validate() error {
	if c.ChainRPCURL == "" {
		return fmt.Errorf("config: CHAIN_RPC_URL is required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("config: CHAIN_ID is required")
	}
	if len(c.PrivateKeys()) == 0 {
		return fmt.Errorf("config: RELAYER_PRIVATE_KEY or RELAYER_PRIVATE_KEYS is required")
	}
	if c.StablecoinAddress == "" {
		return fmt.Errorf("config: STABLECOIN_ADDRESS is required")
	}
	if c.ForwarderAddress == "" {
		return fmt.Errorf("config: FORWARDER_ADDRESS is required")
	}
	if c.ReceivingWallet == "" {
		return fmt.Errorf("config: RECEIVING_WALLET is required")
	}
	if c.MarkupPercentage < 0 || c.MarkupPercentage > 100 {
		return fmt.Errorf("config: MARKUP_PERCENTAGE must be between 0 and 100, got %f", c.MarkupPercentage)
	}
	if c.MinPriceUSD < 0 {
		return fmt.Errorf("config: MIN_PRICE_USD must not be negative")
	}
	return nil
}
