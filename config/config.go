// Package config loads runtime configuration from environment
// variables with sensible local-development defaults.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the runtime configuration shared by all payrail processes.
type Config struct {
	DataDir            string `mapstructure:"data_dir"`
	GatewayAddr        string `mapstructure:"gateway_addr"`
	VaultAddr          string `mapstructure:"vault_addr"`
	SimAddr            string `mapstructure:"sim_addr"`
	VaultServiceURL    string `mapstructure:"vault_service_url"`
	ProviderSimURL     string `mapstructure:"provider_sim_url"`
	WebhookSecret      string `mapstructure:"webhook_secret"`
	WebhookCallbackURL string `mapstructure:"webhook_callback_url"`
	DefaultProvider    string `mapstructure:"default_provider"`
	FailoverProvider   string `mapstructure:"failover_provider"`
	CBFailureThreshold int    `mapstructure:"cb_failure_threshold"`
	// CBRecoveryTimeoutS is in whole seconds to match the breaker's
	// published tunables.
	CBRecoveryTimeoutS int    `mapstructure:"cb_recovery_timeout"`
	CBHalfOpenMaxCalls int    `mapstructure:"cb_half_open_max_calls"`
	LogLevel           string `mapstructure:"log_level"`
	LogPretty          bool   `mapstructure:"log_pretty"`
	Seed               int64  `mapstructure:"seed"`

	DispatchInterval       time.Duration `mapstructure:"dispatch_interval"`
	SettlementInterval     time.Duration `mapstructure:"settlement_interval"`
	ReconciliationInterval time.Duration `mapstructure:"reconciliation_interval"`
}

// CBRecoveryTimeout returns the breaker recovery timeout as a
// duration.
func (c Config) CBRecoveryTimeout() time.Duration {
	return time.Duration(c.CBRecoveryTimeoutS) * time.Second
}

// Providers returns the default and failover provider ids, default
// first.
func (c Config) Providers() []string {
	if c.DefaultProvider == c.FailoverProvider {
		return []string{c.DefaultProvider}
	}
	return []string{c.DefaultProvider, c.FailoverProvider}
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("gateway_addr", ":8026")
	v.SetDefault("vault_addr", ":8027")
	v.SetDefault("sim_addr", ":8028")
	v.SetDefault("vault_service_url", "http://localhost:8027")
	v.SetDefault("provider_sim_url", "http://localhost:8028")
	v.SetDefault("webhook_secret", "whsec_payrail_demo_secret_key_2026")
	v.SetDefault("webhook_callback_url", "http://localhost:8026/webhooks/provider")
	v.SetDefault("default_provider", "providerA")
	v.SetDefault("failover_provider", "providerB")
	v.SetDefault("cb_failure_threshold", 5)
	v.SetDefault("cb_recovery_timeout", 30)
	v.SetDefault("cb_half_open_max_calls", 3)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("seed", 42)
	v.SetDefault("dispatch_interval", 5*time.Second)
	v.SetDefault("settlement_interval", 10*time.Second)
	v.SetDefault("reconciliation_interval", 60*time.Second)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
