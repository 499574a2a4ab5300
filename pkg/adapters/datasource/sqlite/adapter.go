package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

// Config locates a SQLite database file.
type Config struct {
	Path string `mapstructure:"path"`
}

// FromMap creates a Config from a generic config map.
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

// Adapter attaches SQLite files through DuckDB's sqlite extension.
type Adapter struct {
	config *Config
}

var _ datasource.ForeignAdapter = (*Adapter)(nil)

func NewAdapter(cfg *Config) *Adapter {
	return &Adapter{config: cfg}
}

func (a *Adapter) Extension() string    { return "sqlite" }
func (a *Adapter) AttachType() string   { return "SQLITE" }
func (a *Adapter) AttachTarget() string { return a.config.Path }

// TestConnection checks the file exists and is a readable SQLite database.
// The file is never created.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if _, err := os.Stat(a.config.Path); err != nil {
		return fmt.Errorf("sqlite database: %w", err)
	}

	db, err := sql.Open("sqlite", a.config.Path)
	if err != nil {
		return fmt.Errorf("open sqlite database: %w", err)
	}
	defer db.Close()

	var tables int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE type = 'table'").Scan(&tables); err != nil {
		return fmt.Errorf("read sqlite catalog: %w", err)
	}
	return nil
}

func init() {
	datasource.Register(models.DatasourceTypeSQLite, func(config map[string]any) (datasource.ForeignAdapter, error) {
		cfg, err := FromMap(config)
		if err != nil {
			return nil, err
		}
		return NewAdapter(cfg), nil
	})
}
