package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

// Querier is the read surface of a borrowed connection.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ListRequest identifies the conversation instance to list.
type ListRequest struct {
	ConversationID string
	Workspace      string
}

// ListResult is the relation listing of one instance.
type ListResult struct {
	Sheets []models.SheetInfo `json:"sheets"`
	Count  int                `json:"count"`
}

// ListingService enumerates queryable relations of conversation instances.
type ListingService interface {
	ListAvailableSheets(ctx context.Context, req ListRequest) (*ListResult, error)
}

type listingService struct {
	manager *engine.Manager
	logger  *zap.Logger
}

// NewListingService creates the listing service.
func NewListingService(manager *engine.Manager, logger *zap.Logger) ListingService {
	return &listingService{
		manager: manager,
		logger:  logger.Named("listing"),
	}
}

// ListAvailableSheets opens the instance when needed, so a reopened
// conversation lists the relations persisted in its database file.
func (s *listingService) ListAvailableSheets(ctx context.Context, req ListRequest) (*ListResult, error) {
	key := engine.Key{Workspace: req.Workspace, ConversationID: req.ConversationID}
	if _, err := s.manager.GetInstance(ctx, key, true); err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	conn, err := s.manager.GetConnection(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer s.manager.ReturnConnection(key, conn)

	sheets, err := ListAvailable(ctx, conn, s.logger)
	if err != nil {
		return nil, err
	}
	return &ListResult{Sheets: sheets, Count: len(sheets)}, nil
}

// relationsQuery enumerates user relations. Local relations of the main
// schema are bare names; everything else is qualified.
const relationsQuery = `
SELECT
	CASE
		WHEN database_name = current_database() AND schema_name = 'main' THEN name
		WHEN database_name = current_database() THEN schema_name || '.' || name
		ELSE database_name || '.' || schema_name || '.' || name
	END AS path
FROM (
	SELECT database_name, schema_name, table_name AS name FROM duckdb_tables() WHERE NOT internal AND schema_name <> '` + engine.RegistrySchema + `'
	UNION ALL
	SELECT database_name, schema_name, view_name AS name FROM duckdb_views() WHERE NOT internal AND schema_name <> '` + engine.RegistrySchema + `'
)
ORDER BY path`

const relationTypeQuery = `
SELECT table_type
FROM information_schema.tables
WHERE table_catalog = current_database() AND table_schema = 'main' AND table_name = ?`

// ListAvailable lists the queryable relations visible through q. A failing
// per-relation type lookup falls back to view; only a failing enumeration
// is an error.
func ListAvailable(ctx context.Context, q Querier, logger *zap.Logger) ([]models.SheetInfo, error) {
	paths, err := listRelationPaths(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w: %w", apperrors.ErrIntrospectionFailed, err)
	}

	sheets := make([]models.SheetInfo, 0, len(paths))
	for _, path := range paths {
		sheets = append(sheets, classifyRelation(ctx, q, path, logger))
	}
	return sheets, nil
}

func listRelationPaths(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, relationsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// classifyRelation derives the listing entry of a relation path.
// database.schema.name is an attached table, schema.name a table of another
// schema, and a bare name is typed from the catalog.
func classifyRelation(ctx context.Context, q Querier, path string, logger *zap.Logger) models.SheetInfo {
	parts := strings.Split(path, ".")
	switch {
	case len(parts) >= 3:
		return models.SheetInfo{
			Name:     strings.Join(parts[2:], "."),
			Type:     models.SheetTypeAttachedTable,
			Database: parts[0],
			Schema:   parts[1],
			FullPath: path,
		}
	case len(parts) == 2:
		return models.SheetInfo{
			Name:     parts[1],
			Type:     models.SheetTypeAttachedTable,
			Schema:   parts[0],
			FullPath: path,
		}
	}

	var tableType string
	if err := q.QueryRowContext(ctx, relationTypeQuery, path).Scan(&tableType); err != nil {
		logger.Debug("Relation type lookup failed, defaulting to view",
			zap.String("relation", path),
			zap.Error(err))
		return models.SheetInfo{Name: path, Type: models.SheetTypeView}
	}

	if tableType == "BASE TABLE" {
		return models.SheetInfo{Name: path, Type: models.SheetTypeTable}
	}
	return models.SheetInfo{Name: path, Type: models.SheetTypeView}
}
