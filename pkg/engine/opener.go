package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/marcboeker/go-duckdb"
)

// OpenDuckDB opens a DuckDB database through the go-duckdb connector.
// Connections of the returned pool share one database instance.
func OpenDuckDB(ctx context.Context, path string) (*sql.DB, error) {
	connector, err := duckdb.NewConnector(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	return sql.OpenDB(connector), nil
}

// QuoteIdentifier quotes a DuckDB identifier.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a DuckDB string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
