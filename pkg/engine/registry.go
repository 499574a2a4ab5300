package engine

import (
	"context"
	"database/sql"
	"fmt"
)

// RegistrySchema holds the bookkeeping tables of an instance. It is not
// listed as a queryable relation.
const RegistrySchema = "_analyst"

const (
	createRegistrySchemaSQL = `CREATE SCHEMA IF NOT EXISTS ` + RegistrySchema

	createViewRegistrySQL = `CREATE TABLE IF NOT EXISTS ` + RegistrySchema + `.views (
	datasource_id VARCHAR PRIMARY KEY,
	view_name VARCHAR NOT NULL
)`

	selectViewRegistrySQL = `SELECT datasource_id, view_name FROM ` + RegistrySchema + `.views`

	upsertViewRegistrySQL = `INSERT OR REPLACE INTO ` + RegistrySchema + `.views (datasource_id, view_name) VALUES (?, ?)`
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// loadViewRegistry creates the view registry if needed and returns the
// view names recorded by earlier openings of the database.
func loadViewRegistry(ctx context.Context, db *sql.DB) (map[string]string, error) {
	for _, stmt := range []string{createRegistrySchemaSQL, createViewRegistrySQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create view registry: %w", err)
		}
	}

	rows, err := db.QueryContext(ctx, selectViewRegistrySQL)
	if err != nil {
		return nil, fmt.Errorf("read view registry: %w", err)
	}
	defer rows.Close()

	views := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan view registry: %w", err)
		}
		views[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read view registry: %w", err)
	}
	return views, nil
}

// RecordView stores the view name of a datasource inside the instance
// database so the name stays with the datasource when the instance is
// reopened.
func RecordView(ctx context.Context, q execer, datasourceID, name string) error {
	if _, err := q.ExecContext(ctx, upsertViewRegistrySQL, datasourceID, name); err != nil {
		return fmt.Errorf("record view %s for %s: %w", name, datasourceID, err)
	}
	return nil
}
