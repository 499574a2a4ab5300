package models

import "strings"

// Schema is a column snapshot of one materialized view or attached database.
// DatasourceID names the datasource the snapshot was taken from.
type Schema struct {
	DatasourceID string        `json:"datasource_id,omitempty"`
	DatabaseName string        `json:"database_name"`
	SchemaName   string        `json:"schema_name"`
	Tables       []SchemaTable `json:"tables"`
}

// SchemaTable is one relation in a Schema. Schema is set for tables of an
// attached database, where one snapshot spans several schemas.
type SchemaTable struct {
	Schema  string         `json:"schema,omitempty"`
	Name    string         `json:"name"`
	Columns []SchemaColumn `json:"columns"`
}

// RelationPath is the name the relation is queried by inside an instance.
func (s *Schema) RelationPath(t SchemaTable) string {
	parts := make([]string, 0, 3)
	if s.DatabaseName != "" {
		parts = append(parts, s.DatabaseName)
		if t.Schema != "" {
			parts = append(parts, t.Schema)
		} else if s.SchemaName != "" {
			parts = append(parts, s.SchemaName)
		}
	}
	return strings.Join(append(parts, t.Name), ".")
}

// SchemaColumn holds the declared engine type of a column.
type SchemaColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Kind maps the declared type onto a value kind.
func (c SchemaColumn) Kind() ValueKind {
	return KindForDatabaseType(c.Type)
}

// TableRef names a table inside an attached database.
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}
