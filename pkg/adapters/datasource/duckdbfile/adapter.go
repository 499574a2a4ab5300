// Package duckdbfile attaches other DuckDB database files. The engine reads
// them natively, so no extension is loaded.
package duckdbfile

import (
	"context"
	"fmt"
	"os"

	"github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

type Config struct {
	Path string `mapstructure:"path"`
}

func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{}
	if err := datasource.DecodeConfig(config, cfg); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return cfg, nil
}

type Adapter struct {
	config *Config
}

var _ datasource.ForeignAdapter = (*Adapter)(nil)

func NewAdapter(cfg *Config) *Adapter {
	return &Adapter{config: cfg}
}

func (a *Adapter) Extension() string    { return "" }
func (a *Adapter) AttachType() string   { return "" }
func (a *Adapter) AttachTarget() string { return a.config.Path }

// TestConnection only checks that the file exists; ATTACH validates the format.
func (a *Adapter) TestConnection(ctx context.Context) error {
	info, err := os.Stat(a.config.Path)
	if err != nil {
		return fmt.Errorf("duckdb database: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("duckdb database: %s is a directory", a.config.Path)
	}
	return nil
}

func init() {
	datasource.Register(models.DatasourceTypeDuckDB, func(config map[string]any) (datasource.ForeignAdapter, error) {
		cfg, err := FromMap(config)
		if err != nil {
			return nil, err
		}
		return NewAdapter(cfg), nil
	})
}
