package models

// SheetType classifies a queryable relation.
type SheetType string

const (
	SheetTypeView          SheetType = "view"
	SheetTypeTable         SheetType = "table"
	SheetTypeAttachedTable SheetType = "attached_table"
)

// SheetInfo is one queryable relation of a conversation instance.
type SheetInfo struct {
	Name     string    `json:"name"`
	Type     SheetType `json:"type"`
	Database string    `json:"database,omitempty"`
	Schema   string    `json:"schema,omitempty"`
	FullPath string    `json:"full_path,omitempty"`
}

// InitializationResult reports the outcome for one datasource of an
// initialization batch.
type InitializationResult struct {
	Success        bool   `json:"success"`
	DatasourceID   string `json:"datasource_id"`
	DatasourceName string `json:"datasource_name"`
	ViewsCreated   int    `json:"views_created"`
	Error          string `json:"error,omitempty"`
}
