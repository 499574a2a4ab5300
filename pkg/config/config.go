package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is read by Load when present. Environment variables
// always override YAML values.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for ekaya-analyst.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Engine          EngineConfig          `yaml:"engine"`
	Foreign         ForeignConfig         `yaml:"foreign"`
	Sheets          SheetsConfig          `yaml:"sheets"`
	Datasources     DatasourcesConfig     `yaml:"datasources"`
	BusinessContext BusinessContextConfig `yaml:"business_context"`
}

// EngineConfig controls the embedded DuckDB instances, one per conversation.
type EngineConfig struct {
	// WorkspaceRoot is joined with relative workspace names from tool calls.
	WorkspaceRoot string `yaml:"workspace_root" env:"ENGINE_WORKSPACE_ROOT" env-default:"./workspaces"`
	// InMemory keeps instances in memory instead of <workspace>/<conversation>/database.db.
	InMemory bool `yaml:"in_memory" env:"ENGINE_IN_MEMORY" env-default:"false"`
	// PoolMaxConns is the number of connections an instance lends out at once.
	PoolMaxConns int `yaml:"pool_max_conns" env:"ENGINE_POOL_MAX_CONNS" env-default:"4"`
	// AcquireTimeout bounds how long GetConnection waits for a free slot.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" env:"ENGINE_ACQUIRE_TIMEOUT" env-default:"30s"`
	// IdleTTLMinutes is how long an unused instance is kept open.
	IdleTTLMinutes int `yaml:"idle_ttl_minutes" env:"ENGINE_IDLE_TTL_MINUTES" env-default:"15"`
	// CleanupInterval is how often idle instances are swept.
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"ENGINE_CLEANUP_INTERVAL" env-default:"1m"`
	Threads         int           `yaml:"threads" env:"ENGINE_THREADS" env-default:"0"`
	MemoryLimit     string        `yaml:"memory_limit" env:"ENGINE_MEMORY_LIMIT" env-default:""`
	// Extensions are installed and loaded into every new instance.
	Extensions []string `yaml:"extensions" env:"ENGINE_EXTENSIONS" env-separator:","`
}

// ForeignConfig controls attachment of external databases.
type ForeignConfig struct {
	// Preflight verifies connectivity with the native driver before ATTACH.
	Preflight        bool          `yaml:"preflight" env:"FOREIGN_PREFLIGHT" env-default:"true"`
	PreflightTimeout time.Duration `yaml:"preflight_timeout" env:"FOREIGN_PREFLIGHT_TIMEOUT" env-default:"10s"`
	// MaxParallel caps concurrent attachments per batch. Zero means the pool size.
	MaxParallel int `yaml:"max_parallel" env:"FOREIGN_MAX_PARALLEL" env-default:"0"`
}

// SheetsConfig controls retrieval of published Google Sheets.
type SheetsConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"SHEETS_FETCH_TIMEOUT" env-default:"30s"`
}

// DatasourcesConfig locates the datasource catalog.
type DatasourcesConfig struct {
	CatalogPath string `yaml:"catalog_path" env:"DATASOURCES_CATALOG_PATH" env-default:"datasources.yaml"`
}

// BusinessContextConfig holds the relationship scoring weights and threshold.
type BusinessContextConfig struct {
	MinConfidence    float64 `yaml:"min_confidence" env:"BUSINESS_CONTEXT_MIN_CONFIDENCE" env-default:"0.5"`
	ExactNameWeight  float64 `yaml:"exact_name_weight" env:"BUSINESS_CONTEXT_EXACT_NAME_WEIGHT" env-default:"0.5"`
	StructuralWeight float64 `yaml:"structural_weight" env:"BUSINESS_CONTEXT_STRUCTURAL_WEIGHT" env-default:"0.2"`
	TypeWeight       float64 `yaml:"type_weight" env:"BUSINESS_CONTEXT_TYPE_WEIGHT" env-default:"0.3"`
	NamingWeight     float64 `yaml:"naming_weight" env:"BUSINESS_CONTEXT_NAMING_WEIGHT" env-default:"0.4"`
	ManyToManyFactor float64 `yaml:"many_to_many_factor" env:"BUSINESS_CONTEXT_MANY_TO_MANY_FACTOR" env-default:"0.8"`
}

// IdleTTL returns the idle window as a duration.
func (c *EngineConfig) IdleTTL() time.Duration {
	return time.Duration(c.IdleTTLMinutes) * time.Minute
}

// Load reads configuration from config.yaml (if present) with environment
// variable overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultConfigPath, version)
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	case errors.Is(statErr, os.ErrNotExist):
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to stat %s: %w", path, statErr)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.PoolMaxConns < 1 {
		return fmt.Errorf("engine.pool_max_conns must be at least 1, got %d", c.Engine.PoolMaxConns)
	}
	if c.Engine.AcquireTimeout <= 0 {
		return fmt.Errorf("engine.acquire_timeout must be positive")
	}
	if c.BusinessContext.MinConfidence < 0 || c.BusinessContext.MinConfidence > 1 {
		return fmt.Errorf("business_context.min_confidence must be within [0,1], got %v", c.BusinessContext.MinConfidence)
	}
	if c.Foreign.MaxParallel < 0 {
		return fmt.Errorf("foreign.max_parallel must not be negative")
	}
	return nil
}
