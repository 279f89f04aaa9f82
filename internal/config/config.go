// Package config loads aegisdb settings from a file and AEGIS_DB_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aegis-cms/dbal"
	"github.com/aegis-cms/dbal/internal/log"
)

// EnvPrefix prefixes every environment override, e.g. AEGIS_DB_DATABASE_HOST.
const EnvPrefix = "AEGIS_DB"

// Config holds all configuration settings.
type Config struct {
	Type     string      `mapstructure:"type"`
	Database dbal.Config `mapstructure:"database"`
	Log      log.Conf    `mapstructure:"log"`
	MCP      MCP         `mapstructure:"mcp"`
	Metrics  Metrics     `mapstructure:"metrics"`
}

// MCP configures the stdio server.
type MCP struct {
	MaxRows      int           `mapstructure:"max_rows"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	logDefaults := log.SetDefaults()

	v.SetDefault("type", dbal.TypeNone)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.database", "")
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "")
	v.SetDefault("database.url", "")
	v.SetDefault("database.key", "")
	v.SetDefault("database.composite_key_tables", []string{})

	v.SetDefault("log.output", logDefaults.Output)
	v.SetDefault("log.path", logDefaults.Path)
	v.SetDefault("log.filename", logDefaults.Filename)
	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.keep_days", logDefaults.KeepDays)
	v.SetDefault("log.rotate_size", logDefaults.RotateSize)
	v.SetDefault("log.rotate_num", logDefaults.RotateNum)

	v.SetDefault("mcp.max_rows", 500)
	v.SetDefault("mcp.query_timeout", 30*time.Second)

	v.SetDefault("metrics.addr", "")
}

// Load reads path (any format viper understands) when it is not empty and
// applies environment overrides on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.MCP.MaxRows <= 0 {
		return fmt.Errorf("mcp.max_rows must be positive, got %d", c.MCP.MaxRows)
	}
	if c.MCP.QueryTimeout < 0 {
		return fmt.Errorf("mcp.query_timeout must not be negative")
	}
	return c.Log.Validate()
}
