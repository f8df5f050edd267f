// internal/router/config.go
// Centralised loader for router configuration.  It complements the Config
// struct declared in server.go by populating it from (in precedence order):
//  1. Environment variables prefixed with UPLINK_ROUTER_
//  2. Optional YAML/TOML/JSON config file path
//  3. Values already in the struct passed by the caller (used as defaults)
package router

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultConfig returns defaults suitable for local development.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":7447",
		EnableMetrics: true,
		RetentionDur:  0,
		MaxClients:    128,
	}
}

// LoadConfig merges file + env into cfg pointer (caller typically passes
// DefaultConfig()).  filePath may be empty.
func LoadConfig(cfg *Config, filePath string) {
	if cfg == nil {
		tmp := DefaultConfig()
		cfg = &tmp
	}

	v := viper.New()
	v.SetEnvPrefix("UPLINK_ROUTER")
	v.AutomaticEnv()
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("enable_metrics", cfg.EnableMetrics)
	v.SetDefault("retention", cfg.RetentionDur)
	v.SetDefault("redis_addr", cfg.RedisAddr)
	v.SetDefault("max_clients", cfg.MaxClients)

	if filePath != "" {
		v.SetConfigFile(filePath)
		_ = v.ReadInConfig() // treat missing file as non-fatal
	}

	cfg.ListenAddr = v.GetString("listen_addr")
	cfg.EnableMetrics = v.GetBool("enable_metrics")
	cfg.RetentionDur = v.GetDuration("retention")
	cfg.RedisAddr = v.GetString("redis_addr")
	cfg.MaxClients = v.GetInt("max_clients")
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
}
