package models

// QueryColumn describes one result column.
type QueryColumn struct {
	Name         string    `json:"name"`
	DatabaseType string    `json:"database_type"`
	Kind         ValueKind `json:"kind"`
}

// QueryResult holds bounded query results with tagged cells.
type QueryResult struct {
	Columns   []QueryColumn      `json:"columns"`
	Rows      []map[string]Value `json:"rows"`
	RowCount  int                `json:"row_count"`
	Truncated bool               `json:"truncated"`
}
