// Package config loads runtime configuration from environment variables and
// an optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	// HTTPAddr is the listen address of the API server.
	HTTPAddr string `mapstructure:"http_addr"`

	// DatabaseURL is the PostgreSQL DSN.
	DatabaseURL string `mapstructure:"database_url"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// Development enables pretty log output.
	Development bool `mapstructure:"development"`

	// PoolMaxConns caps the connection pool.
	PoolMaxConns int32 `mapstructure:"pool_max_conns"`

	// PoolMinConns keeps warm connections.
	PoolMinConns int32 `mapstructure:"pool_min_conns"`

	// OperationTimeout is the default wall-clock budget per dispatch.
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// Load reads configuration: defaults, then an optional config file, then
// environment variables prefixed ANALYTICA_ (highest priority).
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("development", false)
	v.SetDefault("pool_max_conns", 25)
	v.SetDefault("pool_min_conns", 5)
	v.SetDefault("operation_timeout", 30*time.Second)

	v.SetEnvPrefix("analytica")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database_url is required (set ANALYTICA_DATABASE_URL)")
	}
	return cfg, nil
}
