package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-analyst/pkg/config"
)

// Adapter attaches PostgreSQL databases through DuckDB's postgres extension.
type Adapter struct {
	config *Config
	host   string
}

var _ datasource.ForeignAdapter = (*Adapter)(nil)

// NewAdapter creates a PostgreSQL adapter. When running in Docker,
// localhost is resolved to host.docker.internal.
func NewAdapter(cfg *Config) *Adapter {
	return &Adapter{config: cfg, host: config.ResolveHostForDocker(cfg.Host)}
}

func (a *Adapter) Extension() string  { return "postgres" }
func (a *Adapter) AttachType() string { return "POSTGRES" }

// AttachTarget returns a libpq keyword/value connection string.
func (a *Adapter) AttachTarget() string {
	parts := []string{
		datasource.KeywordValue("host", a.host),
		datasource.KeywordValue("port", strconv.Itoa(a.config.Port)),
		datasource.KeywordValue("user", a.config.User),
		datasource.KeywordValue("dbname", a.config.Database),
		datasource.KeywordValue("sslmode", a.config.SSLMode),
	}
	if a.config.Password != "" {
		parts = append(parts, datasource.KeywordValue("password", a.config.Password))
	}
	return strings.Join(parts, " ")
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so special characters in
// passwords (e.g., @, /, #, ?) cannot break URL parsing.
func buildConnectionString(cfg *Config, host string) string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		url.QueryEscape(cfg.SSLMode),
	)
}

// TestConnection connects with pgx and pings the server.
func (a *Adapter) TestConnection(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, buildConnectionString(a.config, a.host))
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer conn.Close(ctx)

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
