package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-analyst/pkg/config"
)

// Adapter attaches MySQL databases through DuckDB's mysql extension.
type Adapter struct {
	config *Config
	host   string
}

var _ datasource.ForeignAdapter = (*Adapter)(nil)

// NewAdapter creates a MySQL adapter.
func NewAdapter(cfg *Config) *Adapter {
	return &Adapter{config: cfg, host: config.ResolveHostForDocker(cfg.Host)}
}

func (a *Adapter) Extension() string  { return "mysql" }
func (a *Adapter) AttachType() string { return "MYSQL" }

func (a *Adapter) AttachTarget() string {
	parts := []string{
		datasource.KeywordValue("host", a.host),
		datasource.KeywordValue("port", strconv.Itoa(a.config.Port)),
		datasource.KeywordValue("user", a.config.User),
		datasource.KeywordValue("database", a.config.Database),
	}
	if a.config.Password != "" {
		parts = append(parts, datasource.KeywordValue("password", a.config.Password))
	}
	return strings.Join(parts, " ")
}

// driverConfig builds the go-sql-driver/mysql configuration for preflight checks.
func (a *Adapter) driverConfig() *mysql.Config {
	mc := mysql.NewConfig()
	mc.User = a.config.User
	mc.Passwd = a.config.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(a.host, strconv.Itoa(a.config.Port))
	mc.DBName = a.config.Database
	mc.Timeout = 10 * time.Second
	return mc
}

// TestConnection opens a single go-sql-driver connection and pings it.
func (a *Adapter) TestConnection(ctx context.Context) error {
	connector, err := mysql.NewConnector(a.driverConfig())
	if err != nil {
		return fmt.Errorf("configure mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}
