package postgres

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Name     string `mapstructure:"name"`     // legacy alias for Database
	SSLMode  string `mapstructure:"ssl_mode"` // "disable", "require", "verify-ca", "verify-full"
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "prefer"
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:    DefaultPort(),
		SSLMode: DefaultSSLMode(),
	}
	if err := datasource.DecodeConfig(config, cfg); err != nil {
		return nil, err
	}

	if cfg.Database == "" {
		cfg.Database = cfg.Name
	}
	switch {
	case cfg.Host == "":
		return nil, fmt.Errorf("host is required")
	case cfg.User == "":
		return nil, fmt.Errorf("user is required")
	case cfg.Database == "":
		return nil, fmt.Errorf("database is required")
	}
	return cfg, nil
}
