package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Parent    ParentConfig    `mapstructure:"parent"`
	Time      TimeConfig      `mapstructure:"time"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Modules   ModulesConfig   `mapstructure:"modules"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	// Name identifies this node in logs, metrics and gossip.
	Name string `mapstructure:"name"`
	// Host/Port bind the admin HTTP surface.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type ParentConfig struct {
	// Address of the parent node's connect endpoint; empty means this
	// node is the root server.
	Address string `mapstructure:"address"`
}

type TimeConfig struct {
	// PermitRegulation gates EnableTimeRegulationRequest for connects of
	// this node (spec.md §3 "local server options").
	PermitRegulation bool `mapstructure:"permit_regulation"`
}

type DiscoveryConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	BindAddr string   `mapstructure:"bind_addr"`
	BindPort int      `mapstructure:"bind_port"`
	Peers    []string `mapstructure:"peers"`
}

type ModulesConfig struct {
	// Source selects where initial FOM module bundles come from:
	// "none" or "s3".
	Source    string   `mapstructure:"source"`
	Region    string   `mapstructure:"region"`
	Bucket    string   `mapstructure:"bucket"`
	Endpoint  string   `mapstructure:"endpoint"`
	AccessKey string   `mapstructure:"access_key"`
	SecretKey string   `mapstructure:"secret_key"`
	Keys      []string `mapstructure:"keys"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.name", "rtinode")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9990)

	v.SetDefault("parent.address", "")

	v.SetDefault("time.permit_regulation", true)

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.bind_addr", "0.0.0.0")
	v.SetDefault("discovery.bind_port", 7946)

	v.SetDefault("modules.source", "none")
	v.SetDefault("modules.region", "us-east-1")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")

	// If config path provided, read from it
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// Try to find config in common locations
		v.SetConfigName("rtinode")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/rtinode")
		v.AddConfigPath("/etc/rtinode")

		// Allow environment variables
		v.SetEnvPrefix("RTINODE")
		v.AutomaticEnv()

		// Ignore error if no config file found
		v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("invalid server name: must not be empty")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Discovery.Enabled {
		if c.Discovery.BindPort < 1 || c.Discovery.BindPort > 65535 {
			return fmt.Errorf("invalid discovery bind port: %d", c.Discovery.BindPort)
		}
	}
	switch c.Modules.Source {
	case "none":
	case "s3":
		if c.Modules.Bucket == "" {
			return fmt.Errorf("modules source s3 requires a bucket")
		}
	default:
		return fmt.Errorf("unknown modules source: %q", c.Modules.Source)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level: %q", c.Logging.Level)
	}
	return nil
}
