package models

import (
	"time"
)

// DatasourceType identifies the format or engine behind a datasource.
type DatasourceType string

const (
	DatasourceTypeCSV       DatasourceType = "csv"
	DatasourceTypeGSheetCSV DatasourceType = "gsheet-csv"
	DatasourceTypeJSON      DatasourceType = "json"
	DatasourceTypeParquet   DatasourceType = "parquet"
	DatasourceTypeXLSX      DatasourceType = "xlsx"

	DatasourceTypePostgres DatasourceType = "postgres"
	DatasourceTypeMySQL    DatasourceType = "mysql"
	DatasourceTypeSQLite   DatasourceType = "sqlite"
	DatasourceTypeDuckDB   DatasourceType = "duckdb"
)

// DatasourceKind separates file-backed sources, which are materialized as
// views or tables, from external databases, which are attached by reference.
type DatasourceKind string

const (
	DatasourceKindNative  DatasourceKind = "native"
	DatasourceKindForeign DatasourceKind = "foreign"
)

// Kind returns the kind of the type, or "" for an unknown type.
func (t DatasourceType) Kind() DatasourceKind {
	switch t {
	case DatasourceTypeCSV, DatasourceTypeGSheetCSV, DatasourceTypeJSON, DatasourceTypeParquet, DatasourceTypeXLSX:
		return DatasourceKindNative
	case DatasourceTypePostgres, DatasourceTypeMySQL, DatasourceTypeSQLite, DatasourceTypeDuckDB:
		return DatasourceKindForeign
	}
	return ""
}

// Datasource is a registered source of data for a workspace.
// Config holds type-specific location and credentials, for example
// {"path": "/data/sales.csv"} or {"host": ..., "user": ..., "database": ...}.
type Datasource struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Type      DatasourceType `json:"datasource_type" yaml:"type"`
	Config    map[string]any `json:"config" yaml:"config"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at,omitempty"`
}
