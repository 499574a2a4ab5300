package mysql

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource"
)

// Config contains MySQL-specific connection options.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{Port: DefaultPort()}
	if err := datasource.DecodeConfig(config, cfg); err != nil {
		return nil, err
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
